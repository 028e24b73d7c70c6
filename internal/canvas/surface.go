package canvas

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/paintedminds/paintedminds/internal/gesture"
)

// ErrNotAttached は未初期化または破棄済みのSurfaceを操作した場合に返る。
var ErrNotAttached = errors.New("canvas surface is not attached")

// InputSource は分類済み入力イベントの購読元。gesture.Routerが実装する。
type InputSource interface {
	Subscribe(h gesture.Handler) (unsubscribe func())
}

// NoticeLevel は操作結果の通知レベル。
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
)

// Notice は呼び出し側に表示する操作結果。
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

// SurfaceConfig はSurfaceの設定を保持する。
type SurfaceConfig struct {
	Background   Color
	DrawColor    Color
	DrawWidth    float64
	HistoryLimit int
	Sizer        SizerConfig
	MinZoom      float64
	MaxZoom      float64
	Logger       *slog.Logger
}

// DefaultSurfaceConfig はデフォルト設定を返す。
func DefaultSurfaceConfig() SurfaceConfig {
	return SurfaceConfig{
		Background:   White,
		DrawColor:    Black,
		DrawWidth:    DefaultDrawWidth,
		HistoryLimit: DefaultHistoryLimit,
		Sizer:        DefaultSizerConfig(),
		MinZoom:      0.5,
		MaxZoom:      3,
	}
}

// State はSurfaceの観測可能な状態。変更操作はこの値を返し、購読者にも通知される。
type State struct {
	Tool     ToolState `json:"tool"`
	Viewport Viewport  `json:"viewport"`
	Zoom     float64   `json:"zoom"`
	Layout   Layout    `json:"layout"`
	CanUndo  bool      `json:"can_undo"`
	CanRedo  bool      `json:"can_redo"`
	Elements int       `json:"elements"`
	Drawing  bool      `json:"drawing"`
}

// ワンショットの図形ツールが挿入する既定の大きさ。
const (
	defaultRectWidth    = 160
	defaultRectHeight   = 100
	defaultCircleRadius = 60
)

// Surface は単一のキャンバスを所有し、ツール状態と入力からモデルを変更するコントローラ。
// 入力イベント、ツール変更、描画は呼び出し側で直列化される前提とする。
type Surface struct {
	cfg    SurfaceConfig
	logger *slog.Logger

	model   *Model
	history *History

	tool     Tool
	color    Color
	viewport Viewport
	layout   Layout

	active        *Stroke
	dragShape     string
	dragMoved     bool
	lastDrag      Point
	pinchBaseZoom float64
	shapeSeq      int

	unsubscribe func()
	attached    bool
	disposed    bool

	subscribers map[int]func(State)
	nextSub     int
}

// NewSurface は未アタッチのSurfaceを生成する。
func NewSurface(cfg SurfaceConfig) *Surface {
	def := DefaultSurfaceConfig()
	if cfg.DrawWidth <= 0 {
		cfg.DrawWidth = def.DrawWidth
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.Sizer.LogicalWidth <= 0 || cfg.Sizer.LogicalHeight <= 0 {
		w, h := cfg.Sizer.LogicalWidth, cfg.Sizer.LogicalHeight
		cfg.Sizer = def.Sizer
		if w > 0 && h > 0 {
			cfg.Sizer.LogicalWidth, cfg.Sizer.LogicalHeight = w, h
		}
	}
	if cfg.MinZoom <= 0 {
		cfg.MinZoom = def.MinZoom
	}
	if cfg.MaxZoom < cfg.MinZoom {
		cfg.MaxZoom = def.MaxZoom
	}
	if cfg.Background == (Color{}) {
		cfg.Background = def.Background
	}
	if cfg.DrawColor == (Color{}) {
		cfg.DrawColor = def.DrawColor
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Surface{
		cfg:         cfg,
		logger:      logger,
		tool:        ToolDraw,
		color:       cfg.DrawColor,
		viewport:    Viewport{FitScale: 1, UserZoom: 1},
		layout:      Layout{Scale: 1, DisplayWidth: cfg.Sizer.LogicalWidth, DisplayHeight: cfg.Sizer.LogicalHeight},
		subscribers: make(map[int]func(State)),
	}
}

// Attach はモデルを生成し、入力層を購読して空のスナップショットで履歴を初期化する。
// sourceがnilの場合は入力を購読せず、HandleEventで直接イベントを渡す。
func (s *Surface) Attach(source InputSource) error {
	if s.disposed {
		s.logger.Warn("破棄済みのキャンバスにはアタッチできません")
		return ErrNotAttached
	}
	if s.attached {
		return nil
	}

	s.model = NewModel(int(s.cfg.Sizer.LogicalWidth), int(s.cfg.Sizer.LogicalHeight), s.cfg.Background)
	s.history = NewHistory(s.cfg.HistoryLimit)
	s.history.Push(s.model.Snapshot())
	if source != nil {
		s.unsubscribe = source.Subscribe(s.HandleEvent)
	}
	s.attached = true
	return nil
}

// Dispose は入力層の購読を解除し、モデルと履歴を解放する。以後の操作はすべて無効となる。
func (s *Surface) Dispose() {
	if s.disposed {
		return
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.model = nil
	s.history = nil
	s.active = nil
	s.subscribers = make(map[int]func(State))
	s.attached = false
	s.disposed = true
}

// Attached はSurfaceが操作可能かを返す。
func (s *Surface) Attached() bool {
	return s.attached && !s.disposed
}

func (s *Surface) ready(op string) bool {
	if s.attached && !s.disposed {
		return true
	}
	s.logger.Warn("キャンバスが初期化されていないため操作を無視しました",
		slog.String("operation", op),
		slog.Bool("disposed", s.disposed),
	)
	return false
}

// Subscribe は状態変更の通知を受け取る関数を登録し、登録解除関数を返す。
func (s *Surface) Subscribe(fn func(State)) func() {
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	return func() { delete(s.subscribers, id) }
}

func (s *Surface) notify() State {
	st := s.State()
	for _, fn := range s.subscribers {
		fn(st)
	}
	return st
}

// State は現在の状態を返す。
func (s *Surface) State() State {
	st := State{
		Tool:     s.ToolState(),
		Viewport: s.viewport,
		Zoom:     s.viewport.Zoom(),
		Layout:   s.layout,
		Drawing:  s.active != nil,
	}
	if s.history != nil {
		st.CanUndo = s.history.CanUndo()
		st.CanRedo = s.history.CanRedo()
	}
	if s.model != nil {
		st.Elements = s.model.Len()
	}
	return st
}

// ToolState は現在のツール状態を返す。
func (s *Surface) ToolState() ToolState {
	return ToolState{Tool: s.tool, Color: s.brushColor(), BrushWidth: s.brushWidth()}
}

func (s *Surface) brushColor() Color {
	if s.tool == ToolErase {
		if s.model != nil {
			return s.model.Background()
		}
		return s.cfg.Background
	}
	return s.color
}

func (s *Surface) brushWidth() float64 {
	if s.tool == ToolErase {
		return EraseWidth
	}
	return s.cfg.DrawWidth
}

// SetTool はツールを切り替える。rectangle/circleはキャンバス中央に図形を1つ挿入し、
// 履歴に記録した後selectに戻る。
func (s *Surface) SetTool(t Tool) (ToolState, error) {
	if !s.ready("set_tool") {
		return s.ToolState(), ErrNotAttached
	}

	s.active = nil
	s.dragShape = ""

	switch t {
	case ToolSelect, ToolDraw, ToolErase:
		s.tool = t
	case ToolRectangle:
		s.insertShape(ShapeRectangle)
		s.tool = ToolSelect
	case ToolCircle:
		s.insertShape(ShapeCircle)
		s.tool = ToolSelect
	default:
		return s.ToolState(), fmt.Errorf("unknown tool: %s", t)
	}

	s.notify()
	return s.ToolState(), nil
}

func (s *Surface) insertShape(kind ShapeKind) {
	s.shapeSeq++
	cx := float64(s.model.Width()) / 2
	cy := float64(s.model.Height()) / 2

	shape := Shape{
		ID:          fmt.Sprintf("shape-%d", s.shapeSeq),
		Kind:        kind,
		Fill:        Transparent,
		StrokeColor: s.color,
		StrokeWidth: s.cfg.DrawWidth,
	}
	switch kind {
	case ShapeRectangle:
		shape.X, shape.Y = cx-defaultRectWidth/2, cy-defaultRectHeight/2
		shape.Width, shape.Height = defaultRectWidth, defaultRectHeight
	case ShapeCircle:
		shape.X, shape.Y = cx, cy
		shape.Radius = defaultCircleRadius
	}

	s.model.AddShape(shape)
	s.history.Push(s.model.Snapshot())
}

// SetColor は選択色を変更する。消しゴム使用中は背景色が優先される。
func (s *Surface) SetColor(c Color) ToolState {
	if !s.ready("set_color") {
		return s.ToolState()
	}
	s.color = c
	s.notify()
	return s.ToolState()
}

// HandleEvent は入力層からの分類済みイベントを処理する。
func (s *Surface) HandleEvent(ev gesture.Event) {
	if !s.ready("input:" + ev.Kind.String()) {
		return
	}

	switch ev.Kind {
	case gesture.EventPress:
		s.pointerDown(ev.X, ev.Y)
	case gesture.EventDrag:
		s.pointerMove(ev.X, ev.Y)
	case gesture.EventRelease:
		s.pointerUp(ev.X, ev.Y)
	case gesture.EventCancel:
		s.active = nil
		s.dragShape = ""
	case gesture.EventPan:
		if s.tool != ToolSelect || s.dragShape != "" {
			return
		}
		s.viewport.PanX += ev.DX
		s.viewport.PanY += ev.DY
	case gesture.EventPinchStart:
		s.active = nil
		s.dragShape = ""
		s.pinchBaseZoom = s.viewport.UserZoom
	case gesture.EventPinch:
		base := s.pinchBaseZoom
		if base <= 0 {
			base = s.viewport.UserZoom
		}
		s.viewport.UserZoom = clamp(base*ev.Scale, s.cfg.MinZoom, s.cfg.MaxZoom)
	case gesture.EventPinchEnd:
		s.pinchBaseZoom = 0
	case gesture.EventDoubleTap:
		s.viewport.UserZoom = 1
		s.viewport.PanX, s.viewport.PanY = 0, 0
	default:
		return
	}
	s.notify()
}

func (s *Surface) pointerDown(x, y float64) {
	p := s.viewport.ToLogical(x, y)
	switch s.tool {
	case ToolDraw, ToolErase:
		s.active = &Stroke{
			Points: []Point{p},
			Color:  s.brushColor(),
			Width:  s.brushWidth(),
			Erase:  s.tool == ToolErase,
		}
	case ToolSelect:
		if id, ok := s.model.ShapeAt(p); ok {
			s.dragShape = id
			s.dragMoved = false
			s.lastDrag = p
		}
	}
}

func (s *Surface) pointerMove(x, y float64) {
	p := s.viewport.ToLogical(x, y)
	switch {
	case s.active != nil:
		s.active.Points = append(s.active.Points, p)
	case s.dragShape != "":
		if s.model.MoveShape(s.dragShape, p.X-s.lastDrag.X, p.Y-s.lastDrag.Y) {
			s.dragMoved = true
		}
		s.lastDrag = p
	}
}

func (s *Surface) pointerUp(x, y float64) {
	p := s.viewport.ToLogical(x, y)
	switch {
	case s.active != nil:
		if last := s.active.Points[len(s.active.Points)-1]; last != p {
			s.active.Points = append(s.active.Points, p)
		}
		s.model.AddStroke(*s.active)
		s.active = nil
		s.history.Push(s.model.Snapshot())
	case s.dragShape != "":
		if s.model.MoveShape(s.dragShape, p.X-s.lastDrag.X, p.Y-s.lastDrag.Y) && p != s.lastDrag {
			s.dragMoved = true
		}
		if s.dragMoved {
			s.history.Push(s.model.Snapshot())
		}
		s.dragShape = ""
		s.dragMoved = false
	}
}

// Clear は全要素を削除して背景色を既定に戻し、履歴に記録する。
func (s *Surface) Clear() Notice {
	if !s.ready("clear") {
		return Notice{Level: NoticeWarning, Message: "canvas is not ready"}
	}
	s.active = nil
	s.model.Reset(s.cfg.Background)
	s.history.Push(s.model.Snapshot())
	s.notify()
	return Notice{Level: NoticeSuccess, Message: "canvas cleared"}
}

// Undo は1つ前のスナップショットでモデルを置き換える。
func (s *Surface) Undo() (State, bool) {
	if !s.ready("undo") {
		return s.State(), false
	}
	snap, ok := s.history.Undo()
	if !ok {
		return s.State(), false
	}
	s.active = nil
	s.model.Restore(snap)
	return s.notify(), true
}

// Redo は1つ後のスナップショットでモデルを置き換える。
func (s *Surface) Redo() (State, bool) {
	if !s.ready("redo") {
		return s.State(), false
	}
	snap, ok := s.history.Redo()
	if !ok {
		return s.State(), false
	}
	s.active = nil
	s.model.Restore(snap)
	return s.notify(), true
}

// Snapshot は現在のモデルのスナップショットを返す。
func (s *Surface) Snapshot() (Snapshot, error) {
	if !s.ready("snapshot") {
		return Snapshot{}, ErrNotAttached
	}
	return s.model.Snapshot(), nil
}

// Load はスナップショットでモデルを置き換え、履歴に記録する。
// 上限を超えるスナップショットはErrInvalidSnapshotで拒否し、モデルは変更しない。
func (s *Surface) Load(snap Snapshot) error {
	if !s.ready("load") {
		return ErrNotAttached
	}
	if err := snap.Validate(); err != nil {
		return err
	}
	s.active = nil
	s.model.Restore(snap)
	s.history.Push(s.model.Snapshot())
	s.notify()
	return nil
}

// Model は現在のモデルを返す。未アタッチの場合はnil。
func (s *Surface) Model() *Model {
	if !s.Attached() {
		return nil
	}
	return s.model
}

// ExportImage はモデル全体を表示倍率に関係なく1倍の論理サイズで画像化する。
func (s *Surface) ExportImage(format Format, quality float64) ([]byte, error) {
	if !s.ready("export_image") {
		return nil, ErrNotAttached
	}
	return Encode(s.model.Snapshot(), format, quality)
}

// Resize はコンテナサイズから表示倍率を再計算する。
// 同じ倍率が描画ズームとポインタ座標の変換の両方に使われる。
func (s *Surface) Resize(containerWidth, containerHeight float64, device DeviceClass) Layout {
	if !s.ready("resize") {
		return s.layout
	}
	s.layout = s.cfg.Sizer.Fit(containerWidth, containerHeight, device)
	s.viewport.FitScale = s.layout.Scale
	s.notify()
	return s.layout
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
