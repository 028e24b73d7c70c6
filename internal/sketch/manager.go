// Package sketch はサーバー側で保持する描画セッションを提供する。
//
// 各セッションは1つのcanvas.Surfaceとgesture.Routerを持ち、クライアントから
// バッチで送られる入力イベントを順に適用する。セッション単位のロックで
// 入力、ツール変更、保存が直列化される。一定時間操作のないセッションは
// クリーンアップループで破棄される。
package sketch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paintedminds/paintedminds/internal/canvas"
	"github.com/paintedminds/paintedminds/internal/drawing"
	"github.com/paintedminds/paintedminds/internal/gesture"
	"github.com/paintedminds/paintedminds/internal/model"
)

const (
	// DefaultIdleTimeout は操作のないセッションを破棄するまでの時間。
	DefaultIdleTimeout = 30 * time.Minute
	// MaxSessionsPerUser はユーザーごとに保持するセッション数の上限。超えた場合は最も古いものを破棄する。
	MaxSessionsPerUser = 3
	// MaxEventsPerBatch は1回の入力バッチで受け付けるイベント数の上限。
	MaxEventsPerBatch = 2000

	maxGratitudeRunes = 200
	maxLogicalSize    = canvas.MaxLogicalSize
)

// Saver は描画内容を絵として保存するインターフェース。drawing.Serviceが実装する。
type Saver interface {
	Save(ctx context.Context, userID string, in drawing.SaveInput) (*model.Drawing, error)
}

// CreateInput はセッション作成のパラメータ。
type CreateInput struct {
	LogicalWidth    float64 `json:"logical_width"`
	LogicalHeight   float64 `json:"logical_height"`
	ContainerWidth  float64 `json:"container_width"`
	ContainerHeight float64 `json:"container_height"`
	Device          string  `json:"device"`
	Gratitude       string  `json:"gratitude"`
}

// InputEvent はクライアントから送られる生の入力イベント。
// Sourceが "touch" の場合はTouchesを、"pointer" の場合はX/Yを使う。
type InputEvent struct {
	Source  string          `json:"source"`
	Phase   string          `json:"phase"`
	Touches []gesture.Touch `json:"touches,omitempty"`
	X       float64         `json:"x"`
	Y       float64         `json:"y"`
	// TimeMillis はクライアント側のUNIXミリ秒。0の場合は受信時刻を使う。
	TimeMillis int64 `json:"t"`
}

// SaveInput はセッションの保存パラメータ。
type SaveInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	StyleHint   string `json:"style_hint"`
	IsPublic    bool   `json:"is_public"`
}

// View はセッションの外部表現。
type View struct {
	ID            string       `json:"id"`
	GratitudeMode bool         `json:"gratitude_mode"`
	Gratitude     string       `json:"gratitude,omitempty"`
	State         canvas.State `json:"state"`
}

// session は1つの描画セッション。muがsurfaceとrouterへのアクセスを直列化する。
type session struct {
	id        string
	userID    string
	gratitude string
	createdAt time.Time

	mu       sync.Mutex
	surface  *canvas.Surface
	router   *gesture.Router
	lastUsed time.Time
	saving   bool
	closed   bool
}

func (s *session) view() View {
	return View{
		ID:            s.id,
		GratitudeMode: s.gratitude != "",
		Gratitude:     s.gratitude,
		State:         s.surface.State(),
	}
}

// Manager は描画セッションを管理する。
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session

	saver       Saver
	logger      *slog.Logger
	idleTimeout time.Duration
	now         func() time.Time
}

// NewManager はManagerを生成する。idleTimeoutが0以下の場合はDefaultIdleTimeoutを使う。
func NewManager(saver Saver, logger *slog.Logger, idleTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Manager{
		sessions:    make(map[string]*session),
		saver:       saver,
		logger:      logger,
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

// Create はセッションを作成する。Gratitudeが空でない場合は感謝モードになる。
func (m *Manager) Create(userID string, in CreateInput) (View, error) {
	if in.LogicalWidth < 0 || in.LogicalHeight < 0 || in.LogicalWidth > maxLogicalSize || in.LogicalHeight > maxLogicalSize {
		return View{}, model.NewInputError(fmt.Sprintf("キャンバスのサイズは%d以下で指定してください", maxLogicalSize))
	}

	cfg := canvas.DefaultSurfaceConfig()
	cfg.Logger = m.logger
	if in.LogicalWidth > 0 && in.LogicalHeight > 0 {
		cfg.Sizer.LogicalWidth = in.LogicalWidth
		cfg.Sizer.LogicalHeight = in.LogicalHeight
	}

	router := gesture.NewRouter(nil)
	surface := canvas.NewSurface(cfg)
	if err := surface.Attach(router); err != nil {
		return View{}, fmt.Errorf("キャンバスの初期化に失敗しました: %w", err)
	}
	if in.ContainerWidth > 0 {
		surface.Resize(in.ContainerWidth, in.ContainerHeight, canvas.ParseDeviceClass(in.Device))
	}

	now := m.now()
	s := &session{
		id:        uuid.New().String(),
		userID:    userID,
		gratitude: truncateRunes(strings.TrimSpace(in.Gratitude), maxGratitudeRunes),
		createdAt: now,
		surface:   surface,
		router:    router,
		lastUsed:  now,
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	evicted := m.evictOldestLocked(userID)
	m.mu.Unlock()

	for _, old := range evicted {
		m.dispose(old, "limit")
	}

	m.logger.Info("描画セッションを作成しました",
		slog.String("sketch_id", s.id),
		slog.String("user_id", userID),
		slog.Bool("gratitude_mode", s.gratitude != ""),
	)
	return s.view(), nil
}

// evictOldestLocked はユーザーのセッション数が上限を超えた分を作成日時の古い順に取り除く。
func (m *Manager) evictOldestLocked(userID string) []*session {
	var owned []*session
	for _, s := range m.sessions {
		if s.userID == userID {
			owned = append(owned, s)
		}
	}
	if len(owned) <= MaxSessionsPerUser {
		return nil
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].createdAt.Before(owned[j].createdAt) })
	evicted := owned[:len(owned)-MaxSessionsPerUser]
	for _, s := range evicted {
		delete(m.sessions, s.id)
	}
	return evicted
}

// acquire はユーザーのセッションをロックして返す。呼び出し側でunlockする。
func (m *Manager) acquire(userID, id string) (*session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok || s.userID != userID {
		return nil, model.NewSketchNotFoundError(id)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, model.NewSketchNotFoundError(id)
	}
	now := m.now()
	if now.Sub(s.lastUsed) > m.idleTimeout && !s.saving {
		s.mu.Unlock()
		m.remove(s, "idle")
		return nil, model.NewSketchNotFoundError(id)
	}
	s.lastUsed = now
	return s, nil
}

// acquireSettled はacquireに加えて、保留中のタップを確定してから返す。
// ツールや色の変更、保存などは確定済みの内容に対して行う。
func (m *Manager) acquireSettled(userID, id string) (*session, error) {
	s, err := m.acquire(userID, id)
	if err != nil {
		return nil, err
	}
	s.router.Flush(time.Time{})
	return s, nil
}

// Get はセッションの状態を返す。
func (m *Manager) Get(userID, id string) (View, error) {
	s, err := m.acquire(userID, id)
	if err != nil {
		return View{}, err
	}
	defer s.mu.Unlock()
	return s.view(), nil
}

// Input は入力イベントを順に適用する。不正なイベントがあった場合は何も適用しない。
func (m *Manager) Input(userID, id string, events []InputEvent) (View, error) {
	if len(events) > MaxEventsPerBatch {
		return View{}, model.NewInputError(fmt.Sprintf("イベント数は%d件以下にしてください", MaxEventsPerBatch))
	}
	phases := make([]gesture.Phase, len(events))
	for i, ev := range events {
		phase, err := gesture.ParsePhase(ev.Phase)
		if err != nil {
			return View{}, model.NewInputError(fmt.Sprintf("イベント%d: %v", i, err))
		}
		if ev.Source != "touch" && ev.Source != "pointer" {
			return View{}, model.NewInputError(fmt.Sprintf("イベント%d: 不明な入力元です: %q", i, ev.Source))
		}
		phases[i] = phase
	}

	s, err := m.acquire(userID, id)
	if err != nil {
		return View{}, err
	}
	defer s.mu.Unlock()

	now := m.now()
	at := now
	for i, ev := range events {
		at = now
		if ev.TimeMillis > 0 {
			at = time.UnixMilli(ev.TimeMillis)
		}
		if ev.Source == "touch" {
			s.router.Touch(phases[i], ev.Touches, at)
		} else {
			s.router.Pointer(phases[i], ev.X, ev.Y, at)
		}
	}
	// バッチ内でダブルタップ期間が過ぎたタップは確定する。期間内なら次のバッチに持ち越す
	s.router.Flush(at)
	return s.view(), nil
}

// SetTool はツールを切り替える。
func (m *Manager) SetTool(userID, id, name string) (View, error) {
	tool, err := canvas.ParseTool(name)
	if err != nil {
		return View{}, model.NewInputError(err.Error())
	}
	s, err := m.acquireSettled(userID, id)
	if err != nil {
		return View{}, err
	}
	defer s.mu.Unlock()

	if _, err := s.surface.SetTool(tool); err != nil {
		return View{}, fmt.Errorf("ツールの切り替えに失敗しました: %w", err)
	}
	return s.view(), nil
}

// SetColor は選択色を変更する。
func (m *Manager) SetColor(userID, id, hex string) (View, error) {
	c, err := canvas.ParseColor(hex)
	if err != nil {
		return View{}, model.NewInputError(err.Error())
	}
	s, err := m.acquireSettled(userID, id)
	if err != nil {
		return View{}, err
	}
	defer s.mu.Unlock()

	s.surface.SetColor(c)
	return s.view(), nil
}

// Undo は1つ前の状態に戻す。戻せない場合はchangedがfalseとなる。
func (m *Manager) Undo(userID, id string) (View, bool, error) {
	s, err := m.acquireSettled(userID, id)
	if err != nil {
		return View{}, false, err
	}
	defer s.mu.Unlock()

	_, changed := s.surface.Undo()
	return s.view(), changed, nil
}

// Redo は1つ後の状態に進める。
func (m *Manager) Redo(userID, id string) (View, bool, error) {
	s, err := m.acquireSettled(userID, id)
	if err != nil {
		return View{}, false, err
	}
	defer s.mu.Unlock()

	_, changed := s.surface.Redo()
	return s.view(), changed, nil
}

// Clear はキャンバスを消去する。
func (m *Manager) Clear(userID, id string) (View, canvas.Notice, error) {
	s, err := m.acquireSettled(userID, id)
	if err != nil {
		return View{}, canvas.Notice{}, err
	}
	defer s.mu.Unlock()

	notice := s.surface.Clear()
	return s.view(), notice, nil
}

// Resize はコンテナサイズから表示倍率を再計算する。
func (m *Manager) Resize(userID, id string, width, height float64, device string) (View, error) {
	if width <= 0 {
		return View{}, model.NewInputError("コンテナの幅は正の値で指定してください")
	}
	s, err := m.acquireSettled(userID, id)
	if err != nil {
		return View{}, err
	}
	defer s.mu.Unlock()

	s.surface.Resize(width, height, canvas.ParseDeviceClass(device))
	return s.view(), nil
}

// Snapshot は現在のスナップショットを返す。
func (m *Manager) Snapshot(userID, id string) (canvas.Snapshot, error) {
	s, err := m.acquireSettled(userID, id)
	if err != nil {
		return canvas.Snapshot{}, err
	}
	defer s.mu.Unlock()

	return s.surface.Snapshot()
}

// Load はスナップショットでキャンバスを置き換える。過去の絵の続きを描く場合に使う。
func (m *Manager) Load(userID, id string, snap canvas.Snapshot) (View, error) {
	s, err := m.acquireSettled(userID, id)
	if err != nil {
		return View{}, err
	}
	defer s.mu.Unlock()

	if err := s.surface.Load(snap); err != nil {
		if errors.Is(err, canvas.ErrInvalidSnapshot) {
			return View{}, model.NewInputError("スナップショットの内容が不正です")
		}
		return View{}, fmt.Errorf("スナップショットの読み込みに失敗しました: %w", err)
	}
	return s.view(), nil
}

// Export はキャンバスを1倍の論理サイズで画像化する。
func (m *Manager) Export(userID, id, format string, quality float64) ([]byte, canvas.Format, error) {
	f, err := canvas.ParseFormat(format)
	if err != nil {
		return nil, "", model.NewInputError(err.Error())
	}
	s, err := m.acquireSettled(userID, id)
	if err != nil {
		return nil, "", err
	}
	snap, err := s.surface.Snapshot()
	s.mu.Unlock()
	if err != nil {
		return nil, "", fmt.Errorf("スナップショットの取得に失敗しました: %w", err)
	}

	data, err := canvas.Encode(snap, f, quality)
	if err != nil {
		return nil, "", fmt.Errorf("画像のエクスポートに失敗しました: %w", err)
	}
	return data, f, nil
}

// Save はセッションの内容を絵として保存する。同じセッションで保存が実行中の場合は
// SAVE_IN_PROGRESSを返す。保存中も入力は受け付け、保存されるのは開始時点の内容となる。
func (m *Manager) Save(ctx context.Context, userID, id string, in SaveInput) (*model.Drawing, error) {
	s, err := m.acquireSettled(userID, id)
	if err != nil {
		return nil, err
	}
	if s.saving {
		s.mu.Unlock()
		return nil, model.NewSaveInProgressError()
	}
	snap, err := s.surface.Snapshot()
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("スナップショットの取得に失敗しました: %w", err)
	}
	s.saving = true
	gratitude := s.gratitude
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.saving = false
		s.lastUsed = m.now()
		s.mu.Unlock()
	}()

	return m.saver.Save(ctx, userID, drawing.SaveInput{
		Title:            in.Title,
		Snapshot:         snap,
		IsGratitudeEntry: gratitude != "",
		IsPublic:         in.IsPublic,
		GratitudePrompt:  gratitude,
		UserDescription:  in.Description,
		StyleHint:        in.StyleHint,
	})
}

// Dispose はセッションを破棄する。
func (m *Manager) Dispose(userID, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || s.userID != userID {
		m.mu.Unlock()
		return model.NewSketchNotFoundError(id)
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	m.dispose(s, "requested")
	return nil
}

// Len は保持中のセッション数を返す。
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep は操作のないセッションを破棄し、破棄した数を返す。保存中のセッションは残す。
func (m *Manager) Sweep() int {
	now := m.now()

	m.mu.Lock()
	candidates := make([]*session, 0)
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.Unlock()

	removed := 0
	for _, s := range candidates {
		s.mu.Lock()
		idle := !s.saving && now.Sub(s.lastUsed) > m.idleTimeout
		s.mu.Unlock()
		if idle && m.remove(s, "idle") {
			removed++
		}
	}
	return removed
}

// Start はintervalごとにSweepを実行する。ctxがキャンセルされると全セッションを破棄して終了する。
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Info("期限切れの描画セッションを破棄しました", slog.Int("count", n))
			}
		}
	}
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range all {
		m.dispose(s, "shutdown")
	}
}

// remove はセッションがまだ登録されていれば取り除いて破棄する。
func (m *Manager) remove(s *session, reason string) bool {
	m.mu.Lock()
	current, ok := m.sessions[s.id]
	if ok && current == s {
		delete(m.sessions, s.id)
	}
	m.mu.Unlock()
	if !ok || current != s {
		return false
	}
	m.dispose(s, reason)
	return true
}

func (m *Manager) dispose(s *session, reason string) {
	s.mu.Lock()
	s.closed = true
	s.surface.Dispose()
	s.mu.Unlock()

	m.logger.Info("描画セッションを破棄しました",
		slog.String("sketch_id", s.id),
		slog.String("user_id", s.userID),
		slog.String("reason", reason),
	)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
