package engine

import (
	"TouchCounter/touch"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// DecodeImage decodes an encoded image (jpeg, png, ...) into a BGR Mat. The
// caller owns the returned Mat; on error no Mat is allocated.
func DecodeImage(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.Mat{}, ErrEmptyImage
	}
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.Mat{}, errors.Wrapf(touch.ErrInvalidImage, "decode image: %v", err)
	}
	if mat.Empty() {
		_ = mat.Close()
		return gocv.Mat{}, ErrEmptyImage
	}
	return mat, nil
}
