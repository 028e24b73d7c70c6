package canvas

import (
	"bytes"
	"errors"
	"image/png"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/paintedminds/paintedminds/internal/gesture"
)

func newTestSurface(t *testing.T) (*Surface, *gesture.Router) {
	t.Helper()
	cfg := DefaultSurfaceConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewSurface(cfg)
	router := gesture.NewRouter(nil)
	if err := s.Attach(router); err != nil {
		t.Fatalf("Attach error: %v", err)
	}
	return s, router
}

// drag はマウスで(x0,y0)から(x1,y1)まで1本のストロークを描く。
func drag(r *gesture.Router, x0, y0, x1, y1 float64) {
	now := time.Now()
	r.Pointer(gesture.PhaseStart, x0, y0, now)
	r.Pointer(gesture.PhaseMove, (x0+x1)/2, (y0+y1)/2, now)
	r.Pointer(gesture.PhaseEnd, x1, y1, now)
}

func TestSurface_AttachSeedsHistory(t *testing.T) {
	s, router := newTestSurface(t)
	if router.Subscribers() != 1 {
		t.Errorf("Subscribers = %d, want 1", router.Subscribers())
	}
	st := s.State()
	if st.CanUndo || st.CanRedo {
		t.Error("アタッチ直後はUndo/Redoできないべき")
	}
	if st.Tool.Tool != ToolDraw {
		t.Errorf("初期ツール = %s, want draw", st.Tool.Tool)
	}
}

func TestSurface_StrokeMappedThroughZoom(t *testing.T) {
	s, router := newTestSurface(t)

	layout := s.Resize(432, 0, DeviceDesktop)
	if layout.Scale != 0.5 {
		t.Fatalf("Scale = %v, want 0.5", layout.Scale)
	}

	drag(router, 100, 50, 200, 100)

	strokes := s.Model().Strokes()
	if len(strokes) != 1 {
		t.Fatalf("ストローク数 = %d, want 1", len(strokes))
	}
	first := strokes[0].Points[0]
	last := strokes[0].Points[len(strokes[0].Points)-1]
	if first != (Point{X: 200, Y: 100}) {
		t.Errorf("始点 = %+v, want (200,100)", first)
	}
	if last != (Point{X: 400, Y: 200}) {
		t.Errorf("終点 = %+v, want (400,200)", last)
	}

	data, err := s.ExportImage(FormatPNG, 0)
	if err != nil {
		t.Fatalf("ExportImage error: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png.Decode error: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 800 || b.Dy() != 400 {
		t.Errorf("エクスポートサイズ = %dx%d, want 800x400（表示倍率に依存しない）", b.Dx(), b.Dy())
	}
	r, _, _, _ := img.At(300, 150).RGBA()
	if r > 0x8000 {
		t.Errorf("(300,150)はストローク上で暗いはず, R=%#x", r)
	}
	r, _, _, _ = img.At(700, 50).RGBA()
	if r < 0xf000 {
		t.Errorf("(700,50)は背景色のはず, R=%#x", r)
	}
}

func TestSurface_EraseAddsBackgroundStroke(t *testing.T) {
	s, router := newTestSurface(t)
	drag(router, 10, 10, 100, 10)
	original := s.Model().Strokes()[0]

	st, err := s.SetTool(ToolErase)
	if err != nil {
		t.Fatalf("SetTool error: %v", err)
	}
	if st.Color != White || st.BrushWidth != EraseWidth {
		t.Errorf("消しゴムのToolState = %+v, want 背景色/幅%v", st, EraseWidth)
	}
	s.SetColor(Color{R: 255, A: 255})
	drag(router, 10, 10, 100, 10)

	strokes := s.Model().Strokes()
	if len(strokes) != 2 {
		t.Fatalf("ストローク数 = %d, want 2", len(strokes))
	}
	if len(strokes[0].Points) != len(original.Points) || strokes[0].Points[0] != original.Points[0] || strokes[0].Color != Black {
		t.Error("消しゴムで元のストロークが変更されてはならない")
	}
	eraser := strokes[1]
	if !eraser.Erase || eraser.Color != White || eraser.Width != EraseWidth {
		t.Errorf("消しゴムストローク = %+v, want 背景色・固定幅", eraser)
	}
	if EraseWidth < 2*DefaultDrawWidth {
		t.Errorf("EraseWidth = %v, 描画幅の2倍以上であるべき", EraseWidth)
	}
}

func TestSurface_ShapeToolIsOneShot(t *testing.T) {
	s, router := newTestSurface(t)

	st, err := s.SetTool(ToolRectangle)
	if err != nil {
		t.Fatalf("SetTool error: %v", err)
	}
	if st.Tool != ToolSelect {
		t.Errorf("挿入後のツール = %s, want select", st.Tool)
	}
	shapes := s.Model().Shapes()
	if len(shapes) != 1 {
		t.Fatalf("図形数 = %d, want 1", len(shapes))
	}
	if shapes[0].X != 320 || shapes[0].Y != 150 || shapes[0].Width != 160 || shapes[0].Height != 100 {
		t.Errorf("矩形 = %+v, want 中央配置(320,150,160x100)", shapes[0])
	}

	drag(router, 10, 10, 60, 60)
	if n := len(s.Model().Shapes()); n != 1 {
		t.Errorf("移動後の図形数 = %d, want 1", n)
	}
	if n := len(s.Model().Strokes()); n != 0 {
		t.Errorf("selectモードでストロークが追加された: %d", n)
	}
	if !s.State().CanUndo {
		t.Error("図形挿入は履歴に記録されるべき")
	}
}

func TestSurface_SelectDragsShape(t *testing.T) {
	s, router := newTestSurface(t)
	s.SetTool(ToolCircle)

	drag(router, 400, 200, 420, 230)
	sh := s.Model().Shapes()[0]
	if sh.X != 420 || sh.Y != 230 {
		t.Errorf("円の中心 = (%v,%v), want (420,230)", sh.X, sh.Y)
	}

	s.Undo()
	sh = s.Model().Shapes()[0]
	if sh.X != 400 || sh.Y != 200 {
		t.Errorf("Undo後の円の中心 = (%v,%v), want (400,200)", sh.X, sh.Y)
	}
}

func TestSurface_UndoRedoClear(t *testing.T) {
	s, router := newTestSurface(t)
	drag(router, 0, 0, 10, 10)
	drag(router, 20, 20, 30, 30)

	notice := s.Clear()
	if notice.Level != NoticeSuccess {
		t.Errorf("Clear notice = %+v, want success", notice)
	}
	if s.Model().Len() != 0 {
		t.Fatalf("Clear後の要素数 = %d, want 0", s.Model().Len())
	}

	if _, ok := s.Undo(); !ok {
		t.Fatal("Clear後にUndoできるべき")
	}
	if s.Model().Len() != 2 {
		t.Errorf("Undo後の要素数 = %d, want 2", s.Model().Len())
	}
	if _, ok := s.Redo(); !ok {
		t.Fatal("Redoできるべき")
	}
	if s.Model().Len() != 0 {
		t.Errorf("Redo後の要素数 = %d, want 0", s.Model().Len())
	}
}

func TestSurface_PinchClampAndDoubleTapReset(t *testing.T) {
	s, router := newTestSurface(t)
	s.SetTool(ToolSelect)
	t0 := time.Now()

	router.Touch(gesture.PhaseStart, []gesture.Touch{{ID: 1, X: 0, Y: 0}, {ID: 2, X: 100, Y: 0}}, t0)
	router.Touch(gesture.PhaseMove, []gesture.Touch{{ID: 1, X: 0, Y: 0}, {ID: 2, X: 1000, Y: 0}}, t0)
	if z := s.State().Viewport.UserZoom; z != 3 {
		t.Errorf("UserZoom = %v, want 3（上限でクランプ）", z)
	}
	router.Touch(gesture.PhaseEnd, nil, t0)

	router.Touch(gesture.PhaseStart, []gesture.Touch{{ID: 3, X: 50, Y: 50}}, t0.Add(time.Second))
	router.Touch(gesture.PhaseMove, []gesture.Touch{{ID: 3, X: 70, Y: 60}}, t0.Add(time.Second))
	router.Touch(gesture.PhaseEnd, nil, t0.Add(time.Second))
	if v := s.State().Viewport; v.PanX != 20 || v.PanY != 10 {
		t.Errorf("Pan = (%v,%v), want (20,10)", v.PanX, v.PanY)
	}

	router.Touch(gesture.PhaseStart, []gesture.Touch{{ID: 4, X: 50, Y: 50}}, t0.Add(time.Second+200*time.Millisecond))
	v := s.State().Viewport
	if v.UserZoom != 1 || v.PanX != 0 || v.PanY != 0 {
		t.Errorf("ダブルタップ後のViewport = %+v, want zoom 1 / pan 0", v)
	}
	if math.Abs(s.State().Zoom-1) > 1e-9 {
		t.Errorf("Zoom = %v, want 1", s.State().Zoom)
	}
}

func TestSurface_OperationsBeforeAttachAreNoops(t *testing.T) {
	cfg := DefaultSurfaceConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewSurface(cfg)

	if _, err := s.SetTool(ToolErase); !errors.Is(err, ErrNotAttached) {
		t.Errorf("SetTool error = %v, want ErrNotAttached", err)
	}
	if n := s.Clear(); n.Level != NoticeWarning {
		t.Errorf("Clear notice = %+v, want warning", n)
	}
	if _, ok := s.Undo(); ok {
		t.Error("未アタッチでUndoが成功してはならない")
	}
	if _, err := s.ExportImage(FormatPNG, 0); !errors.Is(err, ErrNotAttached) {
		t.Errorf("ExportImage error = %v, want ErrNotAttached", err)
	}
	s.HandleEvent(gesture.Event{Kind: gesture.EventPress, X: 1, Y: 1})
}

func TestSurface_LoadRejectsOversizedSnapshot(t *testing.T) {
	s, router := newTestSurface(t)
	drag(router, 10, 10, 50, 50)
	before, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot error: %v", err)
	}

	err = s.Load(Snapshot{Width: 1000000, Height: 1000000})
	if !errors.Is(err, ErrInvalidSnapshot) {
		t.Fatalf("Load error = %v, want ErrInvalidSnapshot", err)
	}
	after, _ := s.Snapshot()
	if after.Width != before.Width || len(after.Elements) != len(before.Elements) {
		t.Errorf("拒否されたスナップショットでモデルが変わった: before=%dx%d/%d after=%dx%d/%d",
			before.Width, before.Height, len(before.Elements), after.Width, after.Height, len(after.Elements))
	}
}

func TestSurface_DisposeDetachesInput(t *testing.T) {
	s, router := newTestSurface(t)
	calls := 0
	s.Subscribe(func(State) { calls++ })

	s.Dispose()
	if router.Subscribers() != 0 {
		t.Errorf("Dispose後のSubscribers = %d, want 0", router.Subscribers())
	}
	drag(router, 0, 0, 10, 10)
	if calls != 0 {
		t.Errorf("Dispose後に通知された: %d", calls)
	}
	if _, err := s.ExportImage(FormatPNG, 0); !errors.Is(err, ErrNotAttached) {
		t.Errorf("ExportImage error = %v, want ErrNotAttached", err)
	}
	if err := s.Attach(router); !errors.Is(err, ErrNotAttached) {
		t.Errorf("破棄後のAttach error = %v, want ErrNotAttached", err)
	}
	s.Dispose()
}

func TestSurface_ExportJPEG(t *testing.T) {
	s, router := newTestSurface(t)
	drag(router, 0, 0, 100, 100)
	data, err := s.ExportImage(FormatJPEG, 0.8)
	if err != nil {
		t.Fatalf("ExportImage error: %v", err)
	}
	if len(data) < 3 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Error("JPEGのマジックバイトで始まるべき")
	}
}

func TestThumbnail_ScalesToWidth(t *testing.T) {
	snap := NewModel(800, 400, White).Snapshot()
	data, err := Thumbnail(snap, 320)
	if err != nil {
		t.Fatalf("Thumbnail error: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png.Decode error: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 320 || b.Dy() != 160 {
		t.Errorf("サムネイルサイズ = %dx%d, want 320x160", b.Dx(), b.Dy())
	}
}
