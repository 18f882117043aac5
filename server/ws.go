package server

import (
	"TouchCounter/logger"
	"TouchCounter/monitor"
	"TouchCounter/pipeline"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// decodeBase64 accepts plain base64 or a data URL.
func decodeBase64(b64 string) ([]byte, error) {
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadImage, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", errBadImage)
	}
	return data, nil
}

// stream handles one WebSocket connection. Text messages carry base64 images,
// binary messages raw encoded images. Frames are applied one at a time in
// arrival order and each gets exactly one JSON reply.
func (s *Server) stream(c *gin.Context) {
	monitor.RequestsTotal.WithLabelValues("ws", "connect").Inc()
	// Check the session before upgrading so the client gets a JSON 404.
	sess, ok := s.session(c)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxImageBytes)

	ctx := c.Request.Context()
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Session(sess.ID()).Debug("stream closed", zap.Error(err))
			return
		}
		var data []byte
		switch mt {
		case websocket.TextMessage:
			data, err = decodeBase64(string(msg))
		case websocket.BinaryMessage:
			data = msg
		default:
			continue
		}
		if err != nil {
			_ = conn.WriteJSON(gin.H{"error": err.Error()})
			continue
		}
		monitor.RequestsTotal.WithLabelValues("ws", "frame").Inc()
		res, err := s.pipeline.Process(ctx, sess, pipeline.Frame{Image: data})
		if err != nil {
			_ = conn.WriteJSON(gin.H{"error": err.Error()})
			continue
		}
		if err := conn.WriteJSON(frameJSON(res)); err != nil {
			return
		}
	}
}
