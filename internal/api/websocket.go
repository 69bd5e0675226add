package api

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/crowdsight/crowdsight/internal/core"
	"github.com/crowdsight/crowdsight/internal/detection"
	"github.com/crowdsight/crowdsight/internal/models"
)

const (
	// wsReadLimit bounds one inbound socket message. Frames arrive
	// base64-encoded, so this sits above the multipart upload cap.
	wsReadLimit = 16 << 20
	// wsPingPeriod keeps idle push connections alive through proxies.
	wsPingPeriod = 30 * time.Second
)

// wsError is the reply for a socket message that could not be processed.
type wsError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// wsFrames ingests frames over a persistent socket. Each message is a JSON
// frame envelope; each gets a JSON ack with the "received" or "rejected"
// status and the counts from the newest processed frame.
func (s *Server) wsFrames(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade frame socket", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	for {
		var msg models.FrameMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("frame socket read failed", "error", err)
			}
			return
		}

		if msg.CameraID == "" || msg.FrameData == "" {
			if err := conn.WriteJSON(wsError{Status: "error", Message: "Missing camera_id or frame_data"}); err != nil {
				return
			}
			continue
		}

		data, err := base64.StdEncoding.DecodeString(msg.FrameData)
		if err != nil {
			if err := conn.WriteJSON(wsError{Status: "error", Message: "frame_data must be base64-encoded"}); err != nil {
				return
			}
			continue
		}

		start := time.Now()
		ts := start.UTC()
		if msg.Timestamp != "" {
			if parsed, err := models.ParseTime(msg.Timestamp); err == nil {
				ts = parsed
			}
		}

		frame := &detection.Frame{
			CameraID:  msg.CameraID,
			FrameID:   msg.FrameID,
			Timestamp: ts,
			Data:      data,
			Width:     msg.Width,
			Height:    msg.Height,
		}

		ack := s.ingestFrame(r.Context(), frame, start, "received")
		if err := conn.WriteJSON(ack); err != nil {
			return
		}
	}
}

// wsDashboard streams a camera's per-frame analytics samples.
func (s *Server) wsDashboard(w http.ResponseWriter, r *http.Request) {
	s.servePush(w, r, core.SubjectMetrics(chi.URLParam(r, "id")))
}

// wsAlerts streams every generated alert.
func (s *Server) wsAlerts(w http.ResponseWriter, r *http.Request) {
	s.servePush(w, r, core.SubjectAlerts)
}

// servePush relays one hub topic onto a socket. When the hub disconnects the
// subscriber for falling behind, the socket is closed with a policy
// violation so the client knows to reconnect.
func (s *Server) servePush(w http.ResponseWriter, r *http.Request, topic string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade push socket", "topic", topic, "error", err)
		return
	}

	sub := s.deps.Hub.Subscribe(topic)
	defer s.deps.Hub.Unsubscribe(sub)
	defer conn.Close()

	// Reader drains control frames and surfaces the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	deadline := s.deps.Hub.Config().SendDeadline
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case payload, ok := <-sub.C():
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "subscriber too slow")
				conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(deadline))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(deadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
