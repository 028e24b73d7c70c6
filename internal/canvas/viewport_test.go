package canvas

import (
	"math"
	"testing"
)

func TestFit_Idempotent(t *testing.T) {
	cfg := DefaultSizerConfig()
	first := cfg.Fit(500, 700, DeviceMobile)
	second := cfg.Fit(500, 700, DeviceMobile)
	if first != second {
		t.Errorf("同じ入力で結果が変化した: %+v != %+v", first, second)
	}
}

func TestFit(t *testing.T) {
	cfg := DefaultSizerConfig()

	tests := []struct {
		name      string
		width     float64
		height    float64
		device    DeviceClass
		wantScale float64
	}{
		{name: "広いコンテナでは拡大しない", width: 2000, height: 0, device: DeviceDesktop, wantScale: 1},
		{name: "幅で制限される", width: 432, height: 0, device: DeviceDesktop, wantScale: 0.5},
		{name: "モバイルの最大高さで制限される", width: 2000, height: 0, device: DeviceMobile, wantScale: 0.9},
		{name: "コンテナ高さで制限される", width: 2000, height: 232, device: DeviceDesktop, wantScale: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cfg.Fit(tt.width, tt.height, tt.device)
			if math.Abs(got.Scale-tt.wantScale) > 1e-9 {
				t.Errorf("Scale = %v, want %v", got.Scale, tt.wantScale)
			}
			if math.Abs(got.DisplayWidth-800*tt.wantScale) > 1e-9 {
				t.Errorf("DisplayWidth = %v, want %v", got.DisplayWidth, 800*tt.wantScale)
			}
		})
	}
}

func TestFit_TinyContainerHasFloor(t *testing.T) {
	got := DefaultSizerConfig().Fit(10, 10, DeviceMobile)
	if got.Scale <= 0 {
		t.Errorf("Scale = %v, 正の値であるべき", got.Scale)
	}
}

func TestDeviceClassFor(t *testing.T) {
	cfg := DefaultSizerConfig()
	if got := cfg.DeviceClassFor(375); got != DeviceMobile {
		t.Errorf("375px = %s, want mobile", got)
	}
	if got := cfg.DeviceClassFor(1280); got != DeviceDesktop {
		t.Errorf("1280px = %s, want desktop", got)
	}
}

func TestViewport_ToLogicalInvertsToScreen(t *testing.T) {
	v := Viewport{FitScale: 0.5, UserZoom: 2, PanX: 30, PanY: -10}
	p := Point{X: 123, Y: 45}
	x, y := v.ToScreen(p)
	got := v.ToLogical(x, y)
	if math.Abs(got.X-p.X) > 1e-9 || math.Abs(got.Y-p.Y) > 1e-9 {
		t.Errorf("ToLogical(ToScreen(p)) = %+v, want %+v", got, p)
	}
}
