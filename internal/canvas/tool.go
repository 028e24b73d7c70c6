package canvas

import (
	"fmt"
	"strings"
)

// Tool は描画ツールを表す閉じた列挙型。
type Tool int

const (
	// ToolSelect は図形の直接操作モード。
	ToolSelect Tool = iota
	// ToolDraw は手描きモード。
	ToolDraw
	// ToolErase は背景色で塗る消しゴムモード。
	ToolErase
	// ToolRectangle は矩形を1つ挿入してselectに戻るワンショットツール。
	ToolRectangle
	// ToolCircle は円を1つ挿入してselectに戻るワンショットツール。
	ToolCircle
)

const (
	// DefaultDrawWidth は手描きストロークの既定幅（px）。
	DefaultDrawWidth = 5.0
	// EraseWidth は消しゴムストロークの固定幅（px）。
	EraseWidth = 4 * DefaultDrawWidth
)

var toolNames = map[Tool]string{
	ToolSelect:    "select",
	ToolDraw:      "draw",
	ToolErase:     "erase",
	ToolRectangle: "rectangle",
	ToolCircle:    "circle",
}

// String はツール名を返す。
func (t Tool) String() string {
	if name, ok := toolNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tool(%d)", int(t))
}

// ParseTool はツール名をToolに変換する。未知の名前はエラーを返す。
func ParseTool(s string) (Tool, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for t, n := range toolNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown tool: %q", s)
}

// MarshalText はツール名をテキストとして返す。
func (t Tool) MarshalText() ([]byte, error) {
	if _, ok := toolNames[t]; !ok {
		return nil, fmt.Errorf("unknown tool: %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText はツール名を解析する。
func (t *Tool) UnmarshalText(b []byte) error {
	parsed, err := ParseTool(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ToolState は現在のツール、選択色、派生したブラシ幅を表す。
type ToolState struct {
	Tool       Tool    `json:"tool"`
	Color      Color   `json:"color"`
	BrushWidth float64 `json:"brush_width"`
}
