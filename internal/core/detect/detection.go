package detect

import (
	"context"
	"image"
)

// BBox 像素坐标框，X1<X2，Y1<Y2
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Valid 坐标合法
func (b BBox) Valid() bool {
	return b.X1 < b.X2 && b.Y1 < b.Y2
}

// Detection 一个检测结果
type Detection struct {
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// TargetClasses 关注的 COCO 类别，其余类别的结果丢弃
var TargetClasses = map[int]string{
	0:  "person",
	1:  "bicycle",
	2:  "car",
	3:  "motorcycle",
	5:  "bus",
	7:  "truck",
	14: "bird",
	15: "cat",
	16: "dog",
}

// Filter 保留关注类别且置信度达标、坐标合法的结果，类别名以 TargetClasses 为准
func Filter(dets []Detection, confidence float64) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		name, ok := TargetClasses[d.ClassID]
		if !ok || d.Confidence < confidence || !d.BBox.Valid() {
			continue
		}
		d.ClassName = name
		out = append(out, d)
	}
	return out
}

// Detector 目标检测模型，调用方负责超时控制
type Detector interface {
	Detect(ctx context.Context, img image.Image, confidence float64) ([]Detection, error)
}

// Renderer 叠加绘制与截图保存
type Renderer interface {
	// DrawOverlay 返回绘制了检测框的新图，不修改入参
	DrawOverlay(img *image.RGBA, dets []Detection) *image.RGBA
	// SaveCrop 保存检测目标的局部截图，返回文件路径
	SaveCrop(img image.Image, det Detection) (string, error)
}

// NopDetector 未配置检测服务时使用，永远没有结果
type NopDetector struct{}

func (NopDetector) Detect(context.Context, image.Image, float64) ([]Detection, error) {
	return nil, nil
}
