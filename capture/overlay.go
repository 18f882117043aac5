package capture

import (
	"TouchCounter/touch"
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	boxColor   = color.RGBA{G: 255, A: 255}
	countColor = color.RGBA{B: 255, A: 255}
)

// DrawDetections outlines each accepted detection and labels it with its
// class and confidence.
func DrawDetections(img *gocv.Mat, dets []touch.Detection) {
	for _, d := range dets {
		rect := image.Rect(int(d.BBox.X1), int(d.BBox.Y1), int(d.BBox.X2), int(d.BBox.Y2))
		gocv.Rectangle(img, rect, boxColor, 2)
		text := fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
		gocv.PutText(img, text, image.Pt(rect.Min.X, rect.Min.Y-10), gocv.FontHersheySimplex, 0.5, boxColor, 2)
	}
}

// DrawTouches writes the running total in the top-left corner.
func DrawTouches(img *gocv.Mat, touches int) {
	gocv.PutText(img, fmt.Sprintf("Touches: %d", touches), image.Pt(10, 30), gocv.FontHersheySimplex, 1, countColor, 2)
}

// Resize scales img in place to size x size. A non-positive size is a no-op.
func Resize(img *gocv.Mat, size int) {
	if size <= 0 {
		return
	}
	if img.Cols() == size && img.Rows() == size {
		return
	}
	gocv.Resize(*img, img, image.Pt(size, size), 0, 0, gocv.InterpolationLinear)
}
