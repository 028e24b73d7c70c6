package canvas

import "math"

// DeviceClass は端末区分を表す。
type DeviceClass string

const (
	// DeviceDesktop はデスクトップ端末。
	DeviceDesktop DeviceClass = "desktop"
	// DeviceMobile はモバイル端末。
	DeviceMobile DeviceClass = "mobile"
)

// minFitScale はコンテナが極端に小さい場合の縮小率の下限。
const minFitScale = 0.05

// SizerConfig はビューポート計算の設定を保持する。
type SizerConfig struct {
	LogicalWidth     float64
	LogicalHeight    float64
	Padding          float64
	MaxHeightDesktop float64
	MaxHeightMobile  float64
	MobileBreakpoint float64
}

// DefaultSizerConfig はデフォルト設定（800x400、余白16px）を返す。
func DefaultSizerConfig() SizerConfig {
	return SizerConfig{
		LogicalWidth:     800,
		LogicalHeight:    400,
		Padding:          16,
		MaxHeightDesktop: 600,
		MaxHeightMobile:  360,
		MobileBreakpoint: 768,
	}
}

// DeviceClassFor はウィンドウ幅から端末区分を判定する。
func (c SizerConfig) DeviceClassFor(windowWidth float64) DeviceClass {
	if windowWidth < c.MobileBreakpoint {
		return DeviceMobile
	}
	return DeviceDesktop
}

// ParseDeviceClass は文字列を端末区分に変換する。未知の値はデスクトップとして扱う。
func ParseDeviceClass(s string) DeviceClass {
	if DeviceClass(s) == DeviceMobile {
		return DeviceMobile
	}
	return DeviceDesktop
}

// Layout はビューポート計算の結果を表す。
type Layout struct {
	Scale         float64 `json:"scale"`
	DisplayWidth  float64 `json:"display_width"`
	DisplayHeight float64 `json:"display_height"`
}

// Fit はコンテナサイズから表示倍率と表示サイズを計算する。
// scale = min(利用可能幅/論理幅, 利用可能高さ/論理高さ, 1) で、1倍を超えて拡大しない。
// containerHeightが0以下の場合は端末区分ごとの最大高さのみで制限する。
// 同じ入力に対して常に同じ結果を返す。
func (c SizerConfig) Fit(containerWidth, containerHeight float64, device DeviceClass) Layout {
	if c.LogicalWidth <= 0 || c.LogicalHeight <= 0 {
		return Layout{Scale: 1}
	}

	maxHeight := c.MaxHeightDesktop
	if device == DeviceMobile {
		maxHeight = c.MaxHeightMobile
	}

	availWidth := containerWidth - 2*c.Padding
	availHeight := maxHeight
	if containerHeight > 0 {
		availHeight = math.Min(containerHeight-2*c.Padding, maxHeight)
	}

	scale := math.Min(math.Min(availWidth/c.LogicalWidth, availHeight/c.LogicalHeight), 1)
	if math.IsNaN(scale) || scale < minFitScale {
		scale = minFitScale
	}

	return Layout{
		Scale:         scale,
		DisplayWidth:  c.LogicalWidth * scale,
		DisplayHeight: c.LogicalHeight * scale,
	}
}

// Viewport は表示倍率とパン量を保持する。
// 実効倍率 = FitScale × UserZoom で、描画とポインタ座標の逆変換に同じ値を使う。
type Viewport struct {
	FitScale float64 `json:"fit_scale"`
	UserZoom float64 `json:"user_zoom"`
	PanX     float64 `json:"pan_x"`
	PanY     float64 `json:"pan_y"`
}

// Zoom は実効倍率を返す。
func (v Viewport) Zoom() float64 {
	z := v.FitScale * v.UserZoom
	if z <= 0 {
		return 1
	}
	return z
}

// ToLogical は画面座標を論理キャンバス座標に変換する。
func (v Viewport) ToLogical(x, y float64) Point {
	z := v.Zoom()
	return Point{X: (x - v.PanX) / z, Y: (y - v.PanY) / z}
}

// ToScreen は論理キャンバス座標を画面座標に変換する。
func (v Viewport) ToScreen(p Point) (float64, float64) {
	z := v.Zoom()
	return p.X*z + v.PanX, p.Y*z + v.PanY
}
