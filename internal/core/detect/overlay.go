package detect

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/jonboulle/clockwork"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	cropPadding   = 20
	boxThickness  = 2
	labelPadding  = 3
	cropJPEGLevel = 90
)

var (
	boxColor   = color.RGBA{G: 255, A: 255}
	labelColor = color.RGBA{A: 255}
)

// Overlay 基于 basicfont 的叠加绘制器
type Overlay struct {
	dir   string
	clock clockwork.Clock
	face  font.Face
}

// NewOverlay dir 为检测截图保存目录
func NewOverlay(dir string, clock clockwork.Clock) *Overlay {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Overlay{dir: dir, clock: clock, face: basicfont.Face7x13}
}

// DrawOverlay 在副本上绘制检测框与 "类别 置信度" 标签
func (o *Overlay) DrawOverlay(img *image.RGBA, dets []Detection) *image.RGBA {
	out := Clone(img)
	bounds := out.Bounds()
	for _, d := range dets {
		r := d.BBox.Rect().Intersect(bounds)
		if r.Empty() {
			continue
		}
		drawBox(out, r, boxColor, boxThickness)

		label := fmt.Sprintf("%s %.2f", d.ClassName, d.Confidence)
		w := font.MeasureString(o.face, label).Ceil()
		h := o.face.Metrics().Height.Ceil()
		top := r.Min.Y - h - labelPadding*2
		if top < bounds.Min.Y {
			top = r.Min.Y
		}
		bg := image.Rect(r.Min.X, top, r.Min.X+w+labelPadding*2, top+h+labelPadding*2).Intersect(bounds)
		draw.Draw(out, bg, image.NewUniform(boxColor), image.Point{}, draw.Src)

		dr := font.Drawer{
			Dst:  out,
			Src:  image.NewUniform(labelColor),
			Face: o.face,
			Dot:  fixed.P(r.Min.X+labelPadding, top+labelPadding+o.face.Metrics().Ascent.Ceil()),
		}
		dr.DrawString(label)
	}
	return out
}

// SaveCrop 按检测框外扩 20 像素截取并保存为 jpg
func (o *Overlay) SaveCrop(img image.Image, det Detection) (string, error) {
	bounds := img.Bounds()
	r := image.Rect(
		det.BBox.X1-cropPadding, det.BBox.Y1-cropPadding,
		det.BBox.X2+cropPadding, det.BBox.Y2+cropPadding,
	).Intersect(bounds)
	if r.Empty() {
		return "", fmt.Errorf("bbox %+v outside frame %v", det.BBox, bounds)
	}

	crop := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(crop, crop.Bounds(), img, r.Min, draw.Src)

	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return "", err
	}
	now := o.clock.Now()
	name := fmt.Sprintf("%s_%s_%06d.jpg", det.ClassName, now.Format("20060102_150405"), now.Nanosecond()/1000)
	path := filepath.Join(o.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := jpeg.Encode(f, crop, &jpeg.Options{Quality: cropJPEGLevel}); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	return path, f.Close()
}

// Clone 深拷贝一帧
func Clone(img *image.RGBA) *image.RGBA {
	out := image.NewRGBA(img.Rect)
	draw.Draw(out, img.Rect, img, img.Rect.Min, draw.Src)
	return out
}

func drawBox(img *image.RGBA, r image.Rectangle, c color.Color, t int) {
	u := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t),
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y),
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(r), u, image.Point{}, draw.Src)
	}
}
