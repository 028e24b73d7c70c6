// Package canvas は手描きキャンバスの描画エンジンを提供する。
// ストローク/図形モデル、スナップショット、Undo/Redo履歴、ビューポート計算、
// 入力イベントをモデル変更に変換するSurfaceコントローラを含む。
package canvas

import "math"

// Point は論理キャンバス座標上の点を表す。
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke はポインタダウンからポインタアップまでの1回のドラッグで描かれた折れ線を表す。
// 消しゴムストロークは背景色で描かれたストロークであり、既存の要素を削除しない。
type Stroke struct {
	Points []Point `json:"points"`
	Color  Color   `json:"color"`
	Width  float64 `json:"width"`
	Erase  bool    `json:"erase,omitempty"`
}

// ShapeKind は図形の種別を表す。
type ShapeKind string

const (
	// ShapeRectangle は矩形。位置は左上隅。
	ShapeRectangle ShapeKind = "rectangle"
	// ShapeCircle は円。位置は中心。
	ShapeCircle ShapeKind = "circle"
)

// Shape は矩形または円のプリミティブを表す。
type Shape struct {
	ID          string    `json:"id"`
	Kind        ShapeKind `json:"kind"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Width       float64   `json:"width,omitempty"`
	Height      float64   `json:"height,omitempty"`
	Radius      float64   `json:"radius,omitempty"`
	Fill        Color     `json:"fill"`
	StrokeColor Color     `json:"stroke_color"`
	StrokeWidth float64   `json:"stroke_width"`
}

// Contains は点pが図形の内側にあるかを判定する。
func (s Shape) Contains(p Point) bool {
	switch s.Kind {
	case ShapeRectangle:
		return p.X >= s.X && p.X <= s.X+s.Width && p.Y >= s.Y && p.Y <= s.Y+s.Height
	case ShapeCircle:
		return math.Hypot(p.X-s.X, p.Y-s.Y) <= s.Radius
	}
	return false
}

// Element はzオーダー順に並ぶキャンバス要素。StrokeかShapeのどちらか一方だけを持つ。
type Element struct {
	Stroke *Stroke `json:"stroke,omitempty"`
	Shape  *Shape  `json:"shape,omitempty"`
}

func (e Element) clone() Element {
	var out Element
	if e.Stroke != nil {
		s := *e.Stroke
		s.Points = append([]Point(nil), e.Stroke.Points...)
		out.Stroke = &s
	}
	if e.Shape != nil {
		sh := *e.Shape
		out.Shape = &sh
	}
	return out
}

// Model はキャンバスの内容（背景色と要素列）を保持する。
// 単一のSurfaceから操作される前提で、同期は呼び出し側が行う。
type Model struct {
	width      int
	height     int
	background Color
	elements   []Element
}

// NewModel は空のモデルを生成する。
func NewModel(width, height int, background Color) *Model {
	return &Model{width: width, height: height, background: background}
}

// Width は論理キャンバス幅を返す。
func (m *Model) Width() int { return m.width }

// Height は論理キャンバス高さを返す。
func (m *Model) Height() int { return m.height }

// Background は背景色を返す。
func (m *Model) Background() Color { return m.background }

// Len は要素数を返す。
func (m *Model) Len() int { return len(m.elements) }

// AddStroke はストロークのコピーを最前面に追加する。
func (m *Model) AddStroke(s Stroke) {
	m.elements = append(m.elements, Element{Stroke: &s}.clone())
}

// AddShape は図形のコピーを最前面に追加する。
func (m *Model) AddShape(s Shape) {
	m.elements = append(m.elements, Element{Shape: &s}.clone())
}

// ShapeAt は点pを含む最前面の図形IDを返す。
func (m *Model) ShapeAt(p Point) (string, bool) {
	for i := len(m.elements) - 1; i >= 0; i-- {
		if sh := m.elements[i].Shape; sh != nil && sh.Contains(p) {
			return sh.ID, true
		}
	}
	return "", false
}

// MoveShape は指定IDの図形を(dx, dy)だけ移動する。見つからない場合はfalseを返す。
func (m *Model) MoveShape(id string, dx, dy float64) bool {
	for _, e := range m.elements {
		if e.Shape != nil && e.Shape.ID == id {
			e.Shape.X += dx
			e.Shape.Y += dy
			return true
		}
	}
	return false
}

// Strokes はストロークのコピーをzオーダー順で返す。
func (m *Model) Strokes() []Stroke {
	var out []Stroke
	for _, e := range m.elements {
		if e.Stroke != nil {
			out = append(out, *e.clone().Stroke)
		}
	}
	return out
}

// Shapes は図形のコピーをzオーダー順で返す。
func (m *Model) Shapes() []Shape {
	var out []Shape
	for _, e := range m.elements {
		if e.Shape != nil {
			out = append(out, *e.Shape)
		}
	}
	return out
}

// Reset は全要素を削除し、背景色を設定し直す。
func (m *Model) Reset(background Color) {
	m.elements = nil
	m.background = background
}

// Snapshot はモデル全体のディープコピーを返す。
func (m *Model) Snapshot() Snapshot {
	elems := make([]Element, len(m.elements))
	for i, e := range m.elements {
		elems[i] = e.clone()
	}
	return Snapshot{
		Width:      m.width,
		Height:     m.height,
		Background: m.background,
		Elements:   elems,
	}
}

// Restore はスナップショットでモデル全体を置き換える。差分適用は行わない。
func (m *Model) Restore(s Snapshot) {
	c := s.Clone()
	if c.Width > 0 && c.Height > 0 {
		m.width, m.height = c.Width, c.Height
	}
	m.background = c.Background
	m.elements = c.Elements
}
