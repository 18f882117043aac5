package engine

import (
	"TouchCounter/touch"
	"context"
	"image"
	"os"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

type YoloConfig struct {
	ModelPath  string
	Names      []string
	InputSize  int
	Confidence float32
	Iou        float32
	UseGPU     bool
}

// Yolo runs a YOLOv8-style network through the OpenCV dnn module. The output
// tensor is expected as [1, 4+classes, anchors] with boxes in (cx, cy, w, h).
type Yolo struct {
	mu  sync.Mutex
	net gocv.Net
	cfg YoloConfig
}

// NewYolo loads the model. ONNX, Darknet and other formats OpenCV recognises
// by extension are accepted.
func NewYolo(cfg YoloConfig) (*Yolo, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("model path cannot be empty")
	}
	if len(cfg.Names) == 0 {
		return nil, errors.New("class names cannot be empty")
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, errors.Wrap(err, "model file")
	}
	net := gocv.ReadNet(cfg.ModelPath, "")
	if net.Empty() {
		_ = net.Close()
		return nil, errors.Errorf("failed to load model %s", cfg.ModelPath)
	}
	if cfg.UseGPU {
		_ = net.SetPreferableBackend(gocv.NetBackendCUDA)
		_ = net.SetPreferableTarget(gocv.NetTargetCUDA)
	} else {
		_ = net.SetPreferableBackend(gocv.NetBackendDefault)
		_ = net.SetPreferableTarget(gocv.NetTargetCPU)
	}
	return &Yolo{net: net, cfg: cfg}, nil
}

func (y *Yolo) Names() []string {
	return y.cfg.Names
}

// Detect decodes image and runs DetectMat on it.
func (y *Yolo) Detect(ctx context.Context, img []byte) ([]touch.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat, err := DecodeImage(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()
	return y.DetectMat(mat)
}

// DetectMat runs inference on a BGR frame. Coordinates are returned in the
// frame's pixel space.
func (y *Yolo) DetectMat(img gocv.Mat) ([]touch.Detection, error) {
	if img.Empty() {
		return nil, ErrEmptyImage
	}
	size := y.cfg.InputSize
	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	y.mu.Lock()
	y.net.SetInput(blob, "")
	out := y.net.Forward("")
	y.mu.Unlock()
	defer out.Close()

	dims := out.Size()
	if len(dims) != 3 || dims[1] < 5 {
		return nil, errors.Errorf("unexpected output shape %v", dims)
	}
	attrs, anchors := dims[1], dims[2]
	classes := attrs - 4
	if classes > len(y.cfg.Names) {
		classes = len(y.cfg.Names)
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "read output tensor")
	}

	scaleX := float64(img.Cols()) / float64(size)
	scaleY := float64(img.Rows()) / float64(size)

	var (
		rects   []image.Rectangle
		scores  []float32
		classID []int
		boxes   []touch.BBox
	)
	for i := 0; i < anchors; i++ {
		best, bestScore := -1, float32(0)
		for c := 0; c < classes; c++ {
			if s := data[(4+c)*anchors+i]; s > bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 || bestScore < y.cfg.Confidence {
			continue
		}
		cx := float64(data[i]) * scaleX
		cy := float64(data[anchors+i]) * scaleY
		w := float64(data[2*anchors+i]) * scaleX
		h := float64(data[3*anchors+i]) * scaleY
		b := touch.BBox{X1: cx - w/2, Y1: cy - h/2, X2: cx + w/2, Y2: cy + h/2}
		boxes = append(boxes, b)
		rects = append(rects, image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2)))
		scores = append(scores, bestScore)
		classID = append(classID, best)
	}
	if len(rects) == 0 {
		return []touch.Detection{}, nil
	}

	keep := gocv.NMSBoxes(rects, scores, y.cfg.Confidence, y.cfg.Iou)
	dets := make([]touch.Detection, 0, len(keep))
	for _, k := range keep {
		dets = append(dets, touch.Detection{
			Label:      y.cfg.Names[classID[k]],
			BBox:       boxes[k],
			Confidence: float64(scores[k]),
		})
	}
	return dets, nil
}

func (y *Yolo) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()
	return y.net.Close()
}
