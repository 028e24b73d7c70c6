package canvas

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"strings"

	"github.com/fogleman/gg"
	xdraw "golang.org/x/image/draw"
)

// Format は画像のエクスポート形式を表す。
type Format string

const (
	// FormatPNG はPNG形式。
	FormatPNG Format = "png"
	// FormatJPEG はJPEG形式。
	FormatJPEG Format = "jpeg"
)

// ParseFormat は形式名を解析する。空文字列はPNGとして扱う。
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	}
	return "", fmt.Errorf("unsupported image format: %q", s)
}

// ContentType はMIMEタイプを返す。
func (f Format) ContentType() string {
	if f == FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// Extension はファイル拡張子を返す。
func (f Format) Extension() string {
	if f == FormatJPEG {
		return ".jpg"
	}
	return ".png"
}

// newContext はスナップショットを論理サイズ（1倍）で描画したコンテキストを返す。
func newContext(s Snapshot) *gg.Context {
	w, h := s.Width, s.Height
	if w <= 0 || h <= 0 {
		w, h = 1, 1
	}

	dc := gg.NewContext(w, h)
	dc.SetColor(s.Background.NRGBA())
	dc.Clear()
	dc.SetLineCapRound()
	dc.SetLineJoinRound()

	for _, e := range s.Elements {
		switch {
		case e.Stroke != nil:
			drawStroke(dc, e.Stroke)
		case e.Shape != nil:
			drawShape(dc, e.Shape)
		}
	}
	return dc
}

func drawStroke(dc *gg.Context, s *Stroke) {
	if len(s.Points) == 0 {
		return
	}
	dc.SetColor(s.Color.NRGBA())
	if len(s.Points) == 1 {
		p := s.Points[0]
		dc.DrawCircle(p.X, p.Y, s.Width/2)
		dc.Fill()
		return
	}
	dc.SetLineWidth(s.Width)
	dc.MoveTo(s.Points[0].X, s.Points[0].Y)
	for _, p := range s.Points[1:] {
		dc.LineTo(p.X, p.Y)
	}
	dc.Stroke()
}

func drawShape(dc *gg.Context, s *Shape) {
	switch s.Kind {
	case ShapeRectangle:
		dc.DrawRectangle(s.X, s.Y, s.Width, s.Height)
	case ShapeCircle:
		dc.DrawCircle(s.X, s.Y, s.Radius)
	default:
		return
	}
	dc.SetColor(s.Fill.NRGBA())
	dc.FillPreserve()
	if s.StrokeWidth > 0 {
		dc.SetColor(s.StrokeColor.NRGBA())
		dc.SetLineWidth(s.StrokeWidth)
		dc.Stroke()
		return
	}
	dc.ClearPath()
}

// Render はスナップショットを論理サイズで描画した画像を返す。
func Render(s Snapshot) image.Image {
	return newContext(s).Image()
}

// Encode はスナップショットを指定形式でエンコードする。
// qualityは0〜1でJPEGの品質（1〜100）に対応し、PNGでは無視される。
func Encode(s Snapshot, format Format, quality float64) ([]byte, error) {
	dc := newContext(s)
	var buf bytes.Buffer
	switch format {
	case FormatPNG, "":
		if err := dc.EncodePNG(&buf); err != nil {
			return nil, fmt.Errorf("encoding png: %w", err)
		}
	case FormatJPEG:
		if err := jpeg.Encode(&buf, dc.Image(), &jpeg.Options{Quality: jpegQuality(quality)}); err != nil {
			return nil, fmt.Errorf("encoding jpeg: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported image format: %q", format)
	}
	return buf.Bytes(), nil
}

func jpegQuality(q float64) int {
	if q <= 0 || math.IsNaN(q) {
		return jpeg.DefaultQuality
	}
	if q >= 1 {
		return 100
	}
	v := int(math.Round(q * 100))
	if v < 1 {
		v = 1
	}
	return v
}

// Thumbnail は幅widthに縮小したPNG画像を返す。元画像がwidth以下の場合は縮小しない。
func Thumbnail(s Snapshot, width int) ([]byte, error) {
	src := Render(s)
	b := src.Bounds()
	if width <= 0 || b.Dx() <= width {
		return Encode(s, FormatPNG, 0)
	}

	height := int(math.Max(1, math.Round(float64(b.Dy())*float64(width)/float64(b.Dx()))))
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)

	dc := gg.NewContextForRGBA(dst)
	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encoding thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
