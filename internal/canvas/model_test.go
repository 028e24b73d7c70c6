package canvas

import (
	"errors"
	"strings"
	"testing"
)

func TestColor_ParseAndHex(t *testing.T) {
	c, err := ParseColor("#FF8000")
	if err != nil {
		t.Fatalf("ParseColor error: %v", err)
	}
	if c != (Color{R: 255, G: 128, B: 0, A: 255}) {
		t.Errorf("ParseColor = %+v", c)
	}
	if c.Hex() != "#ff8000" {
		t.Errorf("Hex = %s, want #ff8000", c.Hex())
	}
	if _, err := ParseColor("red"); err == nil {
		t.Error("不正な色指定でエラーを返すべき")
	}
}

func TestParseTool(t *testing.T) {
	for _, name := range []string{"select", "draw", "erase", "rectangle", "circle"} {
		tool, err := ParseTool(name)
		if err != nil {
			t.Fatalf("ParseTool(%q) error: %v", name, err)
		}
		if tool.String() != name {
			t.Errorf("String = %s, want %s", tool, name)
		}
	}
	if _, err := ParseTool("lasso"); err == nil {
		t.Error("未知のツールでエラーを返すべき")
	}
}

func TestModel_SnapshotRestoreIsFullReplace(t *testing.T) {
	m := NewModel(100, 50, White)
	m.AddStroke(Stroke{Points: []Point{{X: 1, Y: 2}, {X: 3, Y: 4}}, Color: Black, Width: 2})
	snap := m.Snapshot()

	m.AddShape(Shape{ID: "s1", Kind: ShapeCircle, X: 10, Y: 10, Radius: 5})
	m.Reset(Color{R: 1, G: 2, B: 3, A: 255})

	m.Restore(snap)
	m.Restore(snap)
	if m.Len() != 1 || len(m.Strokes()) != 1 || len(m.Shapes()) != 0 {
		t.Errorf("Restore後の要素 = strokes %d shapes %d, want 1/0", len(m.Strokes()), len(m.Shapes()))
	}
	if m.Background() != White {
		t.Errorf("Background = %s, want #ffffff", m.Background().Hex())
	}
}

func TestModel_ShapeAtReturnsTopmost(t *testing.T) {
	m := NewModel(100, 100, White)
	m.AddShape(Shape{ID: "bottom", Kind: ShapeRectangle, X: 0, Y: 0, Width: 50, Height: 50})
	m.AddShape(Shape{ID: "top", Kind: ShapeCircle, X: 25, Y: 25, Radius: 10})

	id, ok := m.ShapeAt(Point{X: 25, Y: 25})
	if !ok || id != "top" {
		t.Errorf("ShapeAt = (%s, %v), want (top, true)", id, ok)
	}
	id, ok = m.ShapeAt(Point{X: 45, Y: 45})
	if !ok || id != "bottom" {
		t.Errorf("ShapeAt = (%s, %v), want (bottom, true)", id, ok)
	}
	if _, ok := m.ShapeAt(Point{X: 90, Y: 90}); ok {
		t.Error("図形外の点でヒットしてはならない")
	}
}

func TestSnapshot_MarshalRoundTripKeepsRender(t *testing.T) {
	m := NewModel(40, 20, White)
	m.AddStroke(Stroke{Points: []Point{{X: 0, Y: 10}, {X: 40, Y: 10}}, Color: Black, Width: 4})
	m.AddShape(Shape{ID: "r", Kind: ShapeRectangle, X: 5, Y: 5, Width: 10, Height: 5, Fill: Black})

	data, err := MarshalSnapshot(m.Snapshot())
	if err != nil {
		t.Fatalf("MarshalSnapshot error: %v", err)
	}
	if !strings.Contains(string(data), `"#000000"`) {
		t.Errorf("色は16進文字列でエンコードされるべき: %s", data)
	}

	decoded, err := UnmarshalSnapshot(data)
	if err != nil {
		t.Fatalf("UnmarshalSnapshot error: %v", err)
	}
	a, _ := Encode(m.Snapshot(), FormatPNG, 0)
	b, _ := Encode(decoded, FormatPNG, 0)
	if string(a) != string(b) {
		t.Error("デコードしたスナップショットの描画結果が一致しない")
	}
}

func TestUnmarshalSnapshot_RejectsAmbiguousElement(t *testing.T) {
	_, err := UnmarshalSnapshot([]byte(`{"width":10,"height":10,"background":"#ffffff","elements":[{}]}`))
	if err == nil {
		t.Error("strokeもshapeも持たない要素はエラーにすべき")
	}
}

func TestUnmarshalSnapshot_RejectsOversizedCanvas(t *testing.T) {
	_, err := UnmarshalSnapshot([]byte(`{"width":1000000,"height":1000000,"background":"#ffffff","elements":[]}`))
	if !errors.Is(err, ErrInvalidSnapshot) {
		t.Errorf("error = %v, want ErrInvalidSnapshot", err)
	}
}

func TestSnapshotValidate_Limits(t *testing.T) {
	pts := func(n int) []Point { return make([]Point, n) }
	tests := []struct {
		name string
		snap Snapshot
		ok   bool
	}{
		{"上限ちょうど", Snapshot{Width: MaxLogicalSize, Height: MaxLogicalSize}, true},
		{"サイズ0はサイズ維持", Snapshot{}, true},
		{"幅が上限超過", Snapshot{Width: MaxLogicalSize + 1, Height: 10}, false},
		{"高さが負", Snapshot{Width: 10, Height: -1}, false},
		{"要素数超過", Snapshot{Width: 10, Height: 10, Elements: make([]Element, MaxElements+1)}, false},
		{"1本の点数超過", Snapshot{Width: 10, Height: 10, Elements: []Element{{Stroke: &Stroke{Points: pts(MaxStrokePoints + 1)}}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.snap.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidSnapshot) {
				t.Errorf("error = %v, want ErrInvalidSnapshot", err)
			}
		})
	}

	var elems []Element
	for i := 0; i < MaxTotalPoints/MaxStrokePoints+1; i++ {
		elems = append(elems, Element{Stroke: &Stroke{Points: pts(MaxStrokePoints)}})
	}
	if err := (Snapshot{Width: 10, Height: 10, Elements: elems}).Validate(); !errors.Is(err, ErrInvalidSnapshot) {
		t.Errorf("合計点数の超過はエラーにすべき: %v", err)
	}
}
