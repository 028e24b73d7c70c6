package canvas

import (
	"encoding/json"
	"errors"
	"fmt"
)

// スナップショットとして受け付ける上限。描画時の画像バッファはWidth×Height×4バイトになる。
const (
	MaxLogicalSize  = 4096
	MaxElements     = 5000
	MaxStrokePoints = 10000
	MaxTotalPoints  = 200000
)

// ErrInvalidSnapshot はスナップショットの内容が受け付けられない場合に返る。
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Snapshot はある時点のキャンバス内容全体のシリアライズ可能なキャプチャ。
// スナップショットだけで描画結果が一意に決まる。
type Snapshot struct {
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Background Color     `json:"background"`
	Elements   []Element `json:"elements"`
}

// Clone はディープコピーを返す。
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Elements = make([]Element, len(s.Elements))
	for i, e := range s.Elements {
		out.Elements[i] = e.clone()
	}
	return out
}

// StrokeCount はストローク数を返す。
func (s Snapshot) StrokeCount() int {
	n := 0
	for _, e := range s.Elements {
		if e.Stroke != nil {
			n++
		}
	}
	return n
}

// MarshalSnapshot はスナップショットをJSONにエンコードする。
func MarshalSnapshot(s Snapshot) ([]byte, error) {
	if s.Elements == nil {
		s.Elements = []Element{}
	}
	return json.Marshal(s)
}

// Validate はサイズと要素の整合性を検証する。
// Width/Heightの0は「現在のサイズを維持する」を意味する。
func (s Snapshot) Validate() error {
	if s.Width < 0 || s.Height < 0 || s.Width > MaxLogicalSize || s.Height > MaxLogicalSize {
		return fmt.Errorf("%w: size %dx%d exceeds 0..%d", ErrInvalidSnapshot, s.Width, s.Height, MaxLogicalSize)
	}
	if len(s.Elements) > MaxElements {
		return fmt.Errorf("%w: %d elements exceeds %d", ErrInvalidSnapshot, len(s.Elements), MaxElements)
	}
	total := 0
	for i, e := range s.Elements {
		if (e.Stroke == nil) == (e.Shape == nil) {
			return fmt.Errorf("%w: element %d must hold exactly one of stroke or shape", ErrInvalidSnapshot, i)
		}
		if e.Shape != nil && e.Shape.Kind != ShapeRectangle && e.Shape.Kind != ShapeCircle {
			return fmt.Errorf("%w: element %d: unknown shape kind %q", ErrInvalidSnapshot, i, e.Shape.Kind)
		}
		if e.Stroke == nil {
			continue
		}
		n := len(e.Stroke.Points)
		if n == 0 {
			return fmt.Errorf("%w: element %d: stroke has no points", ErrInvalidSnapshot, i)
		}
		if n > MaxStrokePoints {
			return fmt.Errorf("%w: element %d: %d points exceeds %d", ErrInvalidSnapshot, i, n, MaxStrokePoints)
		}
		total += n
		if total > MaxTotalPoints {
			return fmt.Errorf("%w: more than %d points in total", ErrInvalidSnapshot, MaxTotalPoints)
		}
	}
	return nil
}

// UnmarshalSnapshot はJSONからスナップショットをデコードし、Validateで検証する。
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("%w: decoding: %v", ErrInvalidSnapshot, err)
	}
	if err := s.Validate(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}
