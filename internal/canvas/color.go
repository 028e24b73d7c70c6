package canvas

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image/color"
	"strings"
)

// Color はキャンバス上の色（非乗算済みRGBA）を表す。
// JSONでは "#rrggbb" または "#rrggbbaa" 形式の文字列として扱う。
type Color struct {
	R, G, B, A uint8
}

var (
	// White はキャンバスのデフォルト背景色。
	White = Color{R: 255, G: 255, B: 255, A: 255}
	// Black はデフォルトのブラシ色。
	Black = Color{A: 255}
	// Transparent は塗りなしを表す。
	Transparent = Color{}
)

// ParseColor は "#rrggbb" または "#rrggbbaa" 形式の文字列をColorに変換する。
func ParseColor(s string) (Color, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "#")
	switch len(raw) {
	case 6:
		raw += "ff"
	case 8:
	default:
		return Color{}, fmt.Errorf("invalid color %q: want #rrggbb or #rrggbbaa", s)
	}

	b, err := hex.DecodeString(raw)
	if err != nil {
		return Color{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return Color{R: b[0], G: b[1], B: b[2], A: b[3]}, nil
}

// Hex は色を16進表記で返す。不透明な場合はアルファを省略する。
func (c Color) Hex() string {
	if c.A == 255 {
		return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
	}
	return fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}

// NRGBA は描画ライブラリに渡すためのcolor.NRGBAを返す。
func (c Color) NRGBA() color.NRGBA {
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A}
}

// MarshalJSON はColorを16進文字列としてエンコードする。
func (c Color) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Hex())
}

// UnmarshalJSON は16進文字列からColorをデコードする。
func (c *Color) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("color must be a string: %w", err)
	}
	parsed, err := ParseColor(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
