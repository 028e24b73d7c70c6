package sketch

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/paintedminds/paintedminds/internal/canvas"
	"github.com/paintedminds/paintedminds/internal/drawing"
	"github.com/paintedminds/paintedminds/internal/gesture"
	"github.com/paintedminds/paintedminds/internal/model"
)

type mockSaver struct {
	mu     sync.Mutex
	saveFn func(ctx context.Context, userID string, in drawing.SaveInput) (*model.Drawing, error)
	inputs []drawing.SaveInput
}

func (m *mockSaver) Save(ctx context.Context, userID string, in drawing.SaveInput) (*model.Drawing, error) {
	m.mu.Lock()
	m.inputs = append(m.inputs, in)
	m.mu.Unlock()
	if m.saveFn != nil {
		return m.saveFn(ctx, userID, in)
	}
	return &model.Drawing{ID: "drawing-1", UserID: userID, Title: in.Title}, nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestManager(saver Saver) (*Manager, *fakeClock) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(saver, logger, 30*time.Minute)
	m.now = clock.Now
	return m, clock
}

func assertAPIError(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("APIErrorを期待しましたが %v でした", err)
	}
	if apiErr.Code != code {
		t.Errorf("エラーコード %s を期待しましたが %s でした", code, apiErr.Code)
	}
}

func stroke(x1, y1, x2, y2 float64) []InputEvent {
	return []InputEvent{
		{Source: "pointer", Phase: "down", X: x1, Y: y1},
		{Source: "pointer", Phase: "move", X: (x1 + x2) / 2, Y: (y1 + y2) / 2},
		{Source: "pointer", Phase: "up", X: x2, Y: y2},
	}
}

func TestCreate_DefaultsAndGratitudeMode(t *testing.T) {
	m, _ := newTestManager(&mockSaver{})

	plain, err := m.Create("user-1", CreateInput{})
	if err != nil {
		t.Fatalf("作成に失敗しました: %v", err)
	}
	if plain.GratitudeMode {
		t.Error("感謝テキストがない場合は通常モードであるべきです")
	}
	if plain.State.Tool.Tool != canvas.ToolDraw {
		t.Errorf("初期ツールは draw であるべきです: %s", plain.State.Tool.Tool)
	}
	if plain.State.CanUndo || plain.State.CanRedo {
		t.Error("作成直後はUndo/Redoできないべきです")
	}

	g, err := m.Create("user-1", CreateInput{Gratitude: "  sunny walk  "})
	if err != nil {
		t.Fatalf("作成に失敗しました: %v", err)
	}
	if !g.GratitudeMode || g.Gratitude != "sunny walk" {
		t.Errorf("感謝モードになるべきです: %+v", g)
	}
}

func TestCreate_AppliesContainerLayout(t *testing.T) {
	m, _ := newTestManager(&mockSaver{})

	v, err := m.Create("user-1", CreateInput{
		LogicalWidth: 800, LogicalHeight: 400,
		ContainerWidth: 432, ContainerHeight: 1000, Device: "mobile",
	})
	if err != nil {
		t.Fatalf("作成に失敗しました: %v", err)
	}
	if v.State.Layout.Scale != 0.5 {
		t.Errorf("表示倍率 0.5 を期待しましたが %v でした", v.State.Layout.Scale)
	}
	if v.State.Zoom != 0.5 {
		t.Errorf("実効ズーム 0.5 を期待しましたが %v でした", v.State.Zoom)
	}
}

func TestCreate_RejectsOversizedCanvas(t *testing.T) {
	m, _ := newTestManager(&mockSaver{})
	_, err := m.Create("user-1", CreateInput{LogicalWidth: 10000, LogicalHeight: 10})
	assertAPIError(t, err, model.ErrCodeInvalidInput)
}

func TestInput_DrawsStrokeAndUndo(t *testing.T) {
	m, _ := newTestManager(&mockSaver{})
	v, _ := m.Create("user-1", CreateInput{})

	v, err := m.Input("user-1", v.ID, stroke(10, 10, 100, 100))
	if err != nil {
		t.Fatalf("入力の適用に失敗しました: %v", err)
	}
	if v.State.Elements != 1 || !v.State.CanUndo {
		t.Fatalf("ストロークが1本追加されるべきです: %+v", v.State)
	}

	v, changed, err := m.Undo("user-1", v.ID)
	if err != nil || !changed {
		t.Fatalf("Undoに失敗しました: changed=%v err=%v", changed, err)
	}
	if v.State.Elements != 0 || !v.State.CanRedo {
		t.Errorf("Undo後は空でRedo可能であるべきです: %+v", v.State)
	}

	v, changed, _ = m.Redo("user-1", v.ID)
	if !changed || v.State.Elements != 1 {
		t.Errorf("Redoでストロークが戻るべきです: %+v", v.State)
	}
}

func TestInput_InvalidBatchAppliesNothing(t *testing.T) {
	m, _ := newTestManager(&mockSaver{})
	v, _ := m.Create("user-1", CreateInput{})

	events := append(stroke(0, 0, 50, 50), InputEvent{Source: "pointer", Phase: "hover"})
	_, err := m.Input("user-1", v.ID, events)
	assertAPIError(t, err, model.ErrCodeInvalidInput)

	_, err = m.Input("user-1", v.ID, []InputEvent{{Source: "stylus", Phase: "down"}})
	assertAPIError(t, err, model.ErrCodeInvalidInput)

	got, _ := m.Get("user-1", v.ID)
	if got.State.Elements != 0 {
		t.Errorf("不正なバッチは適用されるべきではありません: %d", got.State.Elements)
	}
}

func TestInput_TouchPinchDoesNotDraw(t *testing.T) {
	m, _ := newTestManager(&mockSaver{})
	v, _ := m.Create("user-1", CreateInput{})

	events := []InputEvent{
		{Source: "touch", Phase: "start", Touches: []gesture.Touch{{ID: 1, X: 100, Y: 100}, {ID: 2, X: 200, Y: 100}}, TimeMillis: 1000},
		{Source: "touch", Phase: "move", Touches: []gesture.Touch{{ID: 1, X: 50, Y: 100}, {ID: 2, X: 250, Y: 100}}, TimeMillis: 1050},
		{Source: "touch", Phase: "end", Touches: nil, TimeMillis: 1100},
	}
	v, err := m.Input("user-1", v.ID, events)
	if err != nil {
		t.Fatalf("入力の適用に失敗しました: %v", err)
	}
	if v.State.Elements != 0 {
		t.Errorf("ピンチではストロークが追加されるべきではありません: %d", v.State.Elements)
	}
	if v.State.Viewport.UserZoom != 2 {
		t.Errorf("ユーザーズーム 2 を期待しましたが %v でした", v.State.Viewport.UserZoom)
	}
}

func tap(id int, x, y float64, ms int64) []InputEvent {
	return []InputEvent{
		{Source: "touch", Phase: "start", Touches: []gesture.Touch{{ID: id, X: x, Y: y}}, TimeMillis: ms},
		{Source: "touch", Phase: "end", TimeMillis: ms + 50},
	}
}

func TestInput_TouchDoubleTapDoesNotDraw(t *testing.T) {
	m, _ := newTestManager(&mockSaver{})
	v, _ := m.Create("user-1", CreateInput{})

	// 1回目と2回目のタップが別のバッチで届く
	if _, err := m.Input("user-1", v.ID, tap(1, 100, 100, 1000)); err != nil {
		t.Fatalf("入力の適用に失敗しました: %v", err)
	}
	v, err := m.Input("user-1", v.ID, tap(2, 102, 100, 1200))
	if err != nil {
		t.Fatalf("入力の適用に失敗しました: %v", err)
	}
	if v.State.Elements != 0 {
		t.Errorf("ダブルタップでストロークが追加されるべきではありません: %d", v.State.Elements)
	}

	snap, err := m.Snapshot("user-1", v.ID)
	if err != nil {
		t.Fatalf("スナップショットの取得に失敗しました: %v", err)
	}
	if len(snap.Elements) != 0 {
		t.Errorf("ダブルタップの後に点が残っています: %d", len(snap.Elements))
	}
}

func TestInput_TouchSingleTapDrawsDotOnSave(t *testing.T) {
	saver := &mockSaver{}
	m, _ := newTestManager(saver)
	v, _ := m.Create("user-1", CreateInput{})

	v, err := m.Input("user-1", v.ID, tap(1, 100, 100, 1000))
	if err != nil {
		t.Fatalf("入力の適用に失敗しました: %v", err)
	}
	if v.State.Elements != 0 {
		t.Errorf("ダブルタップ期間内のタップは保留されるべきです: %d", v.State.Elements)
	}

	if _, err := m.Save(context.Background(), "user-1", v.ID, SaveInput{Title: "dot"}); err != nil {
		t.Fatalf("保存に失敗しました: %v", err)
	}
	if got := len(saver.inputs[0].Snapshot.Elements); got != 1 {
		t.Errorf("保存時に保留中のタップが確定されるべきです: %d", got)
	}
}

func TestLoad_RejectsOversizedSnapshot(t *testing.T) {
	m, _ := newTestManager(&mockSaver{})
	v, err := m.Create("user-1", CreateInput{})
	if err != nil {
		t.Fatalf("作成に失敗しました: %v", err)
	}

	_, err = m.Load("user-1", v.ID, canvas.Snapshot{Width: 1000000, Height: 1000000})
	assertAPIError(t, err, model.ErrCodeInvalidInput)

	snap, err := m.Snapshot("user-1", v.ID)
	if err != nil {
		t.Fatalf("スナップショットの取得に失敗しました: %v", err)
	}
	if snap.Width > canvas.MaxLogicalSize {
		t.Errorf("拒否されたサイズが反映されています: %d", snap.Width)
	}
}

func TestToolAndColor(t *testing.T) {
	m, _ := newTestManager(&mockSaver{})
	v, _ := m.Create("user-1", CreateInput{})

	v, err := m.SetTool("user-1", v.ID, "rectangle")
	if err != nil {
		t.Fatalf("ツールの切り替えに失敗しました: %v", err)
	}
	if v.State.Tool.Tool != canvas.ToolSelect || v.State.Elements != 1 {
		t.Errorf("矩形を挿入してselectに戻るべきです: %+v", v.State)
	}

	_, err = m.SetTool("user-1", v.ID, "lasso")
	assertAPIError(t, err, model.ErrCodeInvalidInput)

	v, err = m.SetColor("user-1", v.ID, "#ff0000")
	if err != nil {
		t.Fatalf("色の変更に失敗しました: %v", err)
	}
	if v.State.Tool.Color != (canvas.Color{R: 255, A: 255}) {
		t.Errorf("選択色が反映されていません: %+v", v.State.Tool.Color)
	}
	_, err = m.SetColor("user-1", v.ID, "red")
	assertAPIError(t, err, model.ErrCodeInvalidInput)
}

func TestClear(t *testing.T) {
	m, _ := newTestManager(&mockSaver{})
	v, _ := m.Create("user-1", CreateInput{})
	m.Input("user-1", v.ID, stroke(10, 10, 20, 20))

	v, notice, err := m.Clear("user-1", v.ID)
	if err != nil {
		t.Fatalf("消去に失敗しました: %v", err)
	}
	if notice.Level != canvas.NoticeSuccess || v.State.Elements != 0 || !v.State.CanUndo {
		t.Errorf("消去は履歴に記録されるべきです: notice=%+v state=%+v", notice, v.State)
	}
}

func TestExport(t *testing.T) {
	m, _ := newTestManager(&mockSaver{})
	v, _ := m.Create("user-1", CreateInput{LogicalWidth: 200, LogicalHeight: 100})
	m.Input("user-1", v.ID, stroke(10, 10, 100, 50))

	data, f, err := m.Export("user-1", v.ID, "png", 0)
	if err != nil {
		t.Fatalf("エクスポートに失敗しました: %v", err)
	}
	if f != canvas.FormatPNG || !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Errorf("PNG画像を期待しました: format=%s", f)
	}

	_, _, err = m.Export("user-1", v.ID, "gif", 0)
	assertAPIError(t, err, model.ErrCodeInvalidInput)
}

func TestOtherUserCannotAccessSession(t *testing.T) {
	m, _ := newTestManager(&mockSaver{})
	v, _ := m.Create("owner", CreateInput{})

	_, err := m.Get("intruder", v.ID)
	assertAPIError(t, err, model.ErrCodeSketchNotFound)
	_, err = m.Input("intruder", v.ID, stroke(0, 0, 1, 1))
	assertAPIError(t, err, model.ErrCodeSketchNotFound)
	assertAPIError(t, m.Dispose("intruder", v.ID), model.ErrCodeSketchNotFound)

	if _, err := m.Get("owner", v.ID); err != nil {
		t.Errorf("所有者はアクセスできるべきです: %v", err)
	}
}

func TestSave_PassesGratitudeMode(t *testing.T) {
	saver := &mockSaver{}
	m, _ := newTestManager(saver)
	v, _ := m.Create("user-1", CreateInput{Gratitude: "family dinner"})
	m.Input("user-1", v.ID, stroke(10, 10, 50, 50))

	d, err := m.Save(context.Background(), "user-1", v.ID, SaveInput{Title: "Dinner", StyleHint: "ink"})
	if err != nil {
		t.Fatalf("保存に失敗しました: %v", err)
	}
	if d.ID != "drawing-1" {
		t.Errorf("保存された絵が返されるべきです: %+v", d)
	}
	in := saver.inputs[0]
	if !in.IsGratitudeEntry || in.GratitudePrompt != "family dinner" {
		t.Errorf("感謝モードの情報が渡されていません: %+v", in)
	}
	if in.Snapshot.StrokeCount() != 1 || in.StyleHint != "ink" || in.Title != "Dinner" {
		t.Errorf("保存内容が不正です: %+v", in)
	}
}

func TestSave_RejectsConcurrentSave(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	saver := &mockSaver{
		saveFn: func(ctx context.Context, userID string, in drawing.SaveInput) (*model.Drawing, error) {
			close(started)
			<-release
			return &model.Drawing{ID: "d"}, nil
		},
	}
	m, _ := newTestManager(saver)
	v, _ := m.Create("user-1", CreateInput{})

	done := make(chan error, 1)
	go func() {
		_, err := m.Save(context.Background(), "user-1", v.ID, SaveInput{Title: "first"})
		done <- err
	}()
	<-started

	_, err := m.Save(context.Background(), "user-1", v.ID, SaveInput{Title: "second"})
	assertAPIError(t, err, model.ErrCodeSaveInProgress)

	// 保存中も入力は受け付ける
	if _, err := m.Input("user-1", v.ID, stroke(0, 0, 10, 10)); err != nil {
		t.Errorf("保存中の入力が拒否されました: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("最初の保存に失敗しました: %v", err)
	}

	saver.saveFn = nil
	if _, err := m.Save(context.Background(), "user-1", v.ID, SaveInput{Title: "third"}); err != nil {
		t.Errorf("保存完了後は再度保存できるべきです: %v", err)
	}
}

func TestIdleSessionExpires(t *testing.T) {
	m, clock := newTestManager(&mockSaver{})
	v, _ := m.Create("user-1", CreateInput{})

	clock.Advance(29 * time.Minute)
	if _, err := m.Get("user-1", v.ID); err != nil {
		t.Fatalf("期限前はアクセスできるべきです: %v", err)
	}

	clock.Advance(31 * time.Minute)
	_, err := m.Get("user-1", v.ID)
	assertAPIError(t, err, model.ErrCodeSketchNotFound)
	if m.Len() != 0 {
		t.Errorf("期限切れのセッションは破棄されるべきです: %d", m.Len())
	}
}

func TestSweep(t *testing.T) {
	m, clock := newTestManager(&mockSaver{})
	old, _ := m.Create("user-1", CreateInput{})
	clock.Advance(20 * time.Minute)
	fresh, _ := m.Create("user-2", CreateInput{})
	clock.Advance(15 * time.Minute)

	if n := m.Sweep(); n != 1 {
		t.Errorf("1件破棄されるべきです: %d", n)
	}
	_, err := m.Get("user-1", old.ID)
	assertAPIError(t, err, model.ErrCodeSketchNotFound)
	if _, err := m.Get("user-2", fresh.ID); err != nil {
		t.Errorf("新しいセッションは残るべきです: %v", err)
	}
}

func TestCreate_EvictsOldestOverLimit(t *testing.T) {
	m, clock := newTestManager(&mockSaver{})
	var ids []string
	for i := 0; i < MaxSessionsPerUser+1; i++ {
		v, err := m.Create("user-1", CreateInput{})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, v.ID)
		clock.Advance(time.Second)
	}
	m.Create("user-2", CreateInput{})

	if m.Len() != MaxSessionsPerUser+1 {
		t.Errorf("セッション数 %d を期待しましたが %d でした", MaxSessionsPerUser+1, m.Len())
	}
	_, err := m.Get("user-1", ids[0])
	assertAPIError(t, err, model.ErrCodeSketchNotFound)
	if _, err := m.Get("user-1", ids[len(ids)-1]); err != nil {
		t.Errorf("最新のセッションは残るべきです: %v", err)
	}
}

func TestDispose(t *testing.T) {
	m, _ := newTestManager(&mockSaver{})
	v, _ := m.Create("user-1", CreateInput{})

	if err := m.Dispose("user-1", v.ID); err != nil {
		t.Fatalf("破棄に失敗しました: %v", err)
	}
	_, err := m.Get("user-1", v.ID)
	assertAPIError(t, err, model.ErrCodeSketchNotFound)
	assertAPIError(t, m.Dispose("user-1", v.ID), model.ErrCodeSketchNotFound)
}

func TestStart_ClosesSessionsOnCancel(t *testing.T) {
	m, _ := newTestManager(&mockSaver{})
	m.Create("user-1", CreateInput{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx, time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Startが終了しませんでした")
	}
	if m.Len() != 0 {
		t.Errorf("終了時に全セッションが破棄されるべきです: %d", m.Len())
	}
}
