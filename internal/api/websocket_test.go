package api

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crowdsight/crowdsight/internal/core"
	"github.com/crowdsight/crowdsight/internal/models"
)

func dialWS(t *testing.T, env *testEnv, path string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(env.ts.URL, "http", "ws", 1) + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

// waitForSubscriber blocks until the server side of a freshly dialed push
// socket has registered with the hub.
func waitForSubscriber(t *testing.T, env *testEnv, topic string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for env.deps.Hub.SubscriberCount(topic) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no subscriber appeared on %s", topic)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func encodeTestJPEG(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8)), nil); err != nil {
		t.Fatalf("failed to encode frame: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestWSFramesIngest(t *testing.T) {
	env := newTestEnv(t)
	env.registerCamera(t, "cam-1", "edge-1")
	conn := dialWS(t, env, "/ws/frames")

	var errReply map[string]string
	if err := conn.WriteJSON(map[string]string{"camera_id": "cam-1"}); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&errReply); err != nil {
		t.Fatal(err)
	}
	if errReply["status"] != "error" || errReply["message"] != "Missing camera_id or frame_data" {
		t.Errorf("missing-field reply = %v", errReply)
	}

	if err := conn.WriteJSON(map[string]string{"camera_id": "cam-1", "frame_data": "not base64!!"}); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&errReply); err != nil {
		t.Fatal(err)
	}
	if errReply["message"] != "frame_data must be base64-encoded" {
		t.Errorf("bad-encoding reply = %v", errReply)
	}

	frameData := encodeTestJPEG(t)
	msg := models.FrameMessage{CameraID: "cam-1", FrameID: 3, FrameData: frameData}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatal(err)
	}
	var ack models.FrameAck
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.Status != "received" || ack.FrameID != 3 {
		t.Errorf("ack = %+v, want received frame 3", ack)
	}

	// Replaying the same frame id is rejected.
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.Status != "rejected" {
		t.Errorf("replay ack status = %q, want rejected", ack.Status)
	}
}

func TestWSDashboardPush(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env, "/ws/dashboard/cam-1")

	topic := core.SubjectMetrics("cam-1")
	waitForSubscriber(t, env, topic)

	payload := []byte(`{"people_count":4}`)
	env.deps.Hub.Publish(topic, payload)

	_, got, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read push: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("push payload = %s, want %s", got, payload)
	}
}

func TestWSAlertsPush(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env, "/ws/alerts")

	waitForSubscriber(t, env, core.SubjectAlerts)

	payload := []byte(`{"type":"alert","alert":{"severity":"CRITICAL"}}`)
	env.deps.Hub.Publish(core.SubjectAlerts, payload)

	_, got, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read push: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("push payload = %s, want %s", got, payload)
	}
}
