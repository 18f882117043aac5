package server

import (
	"TouchCounter/pipeline"
	"TouchCounter/store"
	"TouchCounter/touch"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

// MockDetector reads the image bytes as "x" or "x,conf" and reports one ball
// centred at (x, 10). "empty" yields no detections, "fail" an inference error
// and "garbage" an undecodable image.
type MockDetector struct{}

func (MockDetector) Detect(ctx context.Context, image []byte) ([]touch.Detection, error) {
	s := string(image)
	switch s {
	case "empty":
		return []touch.Detection{}, nil
	case "fail":
		return nil, errors.New("inference error")
	case "garbage":
		return nil, fmt.Errorf("decode image: %w", touch.ErrInvalidImage)
	}
	x, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return []touch.Detection{
		{Label: "sports ball", Confidence: 0.8, BBox: touch.BBox{X1: x - 10, Y1: 0, X2: x + 10, Y2: 20}},
		{Label: "suitcase", Confidence: 0.95, BBox: touch.BBox{X1: 0, Y1: 0, X2: 450, Y2: 350}},
	}, nil
}

type testEnv struct {
	srv      *Server
	registry *touch.Registry
	journal  *store.Store
	router   http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := touch.DefaultConfig()
	cfg.MovementThreshold = 15
	reg, err := touch.NewRegistry(cfg)
	require.NoError(t, err)

	journal, err := store.New(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	pipe := pipeline.New(MockDetector{}, 2, pipeline.WithRecorder(journal))
	t.Cleanup(pipe.Close)

	srv := New(reg, pipe, journal, WithAllowedOrigins([]string{"*"}))
	return &testEnv{srv: srv, registry: reg, journal: journal, router: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return w, body
}

func uploadRequest(t *testing.T, path string, image string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if image != "" {
		fw, err := mw.CreateFormFile("file", "frame.jpg")
		require.NoError(t, err)
		_, err = fw.Write([]byte(image))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
