package engine

import (
	"TouchCounter/touch"
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// remoteDetection is one entry of the remote service response. Coordinates
// are [x1, y1, x2, y2].
type remoteDetection struct {
	Label       string    `json:"label"`
	Coordinates []float64 `json:"coordinates"`
	Confidence  float64   `json:"confidence"`
}

type remoteResponse struct {
	Detections []remoteDetection `json:"detections"`
	Error      string            `json:"error"`
}

// Remote forwards frames to an HTTP detection service that accepts a
// multipart "file" upload and answers {"detections": [...]}.
type Remote struct {
	client *resty.Client
	url    string
}

func NewRemote(url string, timeout time.Duration) *Remote {
	return &Remote{
		client: resty.New().SetTimeout(timeout),
		url:    url,
	}
}

func (r *Remote) Detect(ctx context.Context, img []byte) ([]touch.Detection, error) {
	if len(img) == 0 {
		return nil, ErrEmptyImage
	}
	var body remoteResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetFileReader("file", "frame.jpg", bytes.NewReader(img)).
		SetResult(&body).
		SetError(&body).
		Post(r.url)
	if err != nil {
		return nil, errors.Wrap(err, "remote detector request")
	}
	if rejectedImage(resp.StatusCode(), body.Error) {
		return nil, errors.Wrapf(touch.ErrInvalidImage, "remote detector: %s", body.Error)
	}
	if resp.IsError() {
		if body.Error != "" {
			return nil, errors.Errorf("remote detector returned %s: %s", resp.Status(), body.Error)
		}
		return nil, errors.Errorf("remote detector returned %s", resp.Status())
	}
	if body.Error != "" {
		return nil, errors.Errorf("remote detector: %s", body.Error)
	}

	dets := make([]touch.Detection, 0, len(body.Detections))
	for _, d := range body.Detections {
		if len(d.Coordinates) != 4 {
			// Not a box; the filter would drop it anyway.
			continue
		}
		dets = append(dets, touch.Detection{
			Label:      d.Label,
			BBox:       touch.BBox{X1: d.Coordinates[0], Y1: d.Coordinates[1], X2: d.Coordinates[2], Y2: d.Coordinates[3]},
			Confidence: d.Confidence,
		})
	}
	return dets, nil
}

func (r *Remote) Close() error {
	return nil
}

// uploadErrors are the messages a detection service answers for an unusable
// upload, sometimes with a 200 status.
var uploadErrors = map[string]struct{}{
	"No file uploaded":     {},
	"Empty file content":   {},
	"Invalid image format": {},
}

func rejectedImage(status int, msg string) bool {
	switch status {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		return true
	}
	_, ok := uploadErrors[msg]
	return ok
}
