package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reading struct {
	Pitch float64 `json:"pitch"`
	Note  string  `json:"note"`
}

func TestSocketHandlerStreamsJSON(t *testing.T) {
	b := NewBroadcaster[reading]()
	srv := httptest.NewServer(NewSocketHandler(b, 8, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return b.ListenerCount() == 1 }, time.Second, 5*time.Millisecond)

	b.Publish(reading{Pitch: 220, Note: "A3"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got reading
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, reading{Pitch: 220, Note: "A3"}, got)
}

func TestSocketHandlerUnsubscribesOnDisconnect(t *testing.T) {
	b := NewBroadcaster[reading]()
	srv := httptest.NewServer(NewSocketHandler(b, 8, nil))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.ListenerCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return b.ListenerCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSocketHandlerClosesWhenBroadcastEnds(t *testing.T) {
	b := NewBroadcaster[reading]()
	srv := httptest.NewServer(NewSocketHandler(b, 8, nil))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return b.ListenerCount() == 1 }, time.Second, 5*time.Millisecond)

	b.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestSocketHandlerRejectsPlainHTTP(t *testing.T) {
	rec := httptest.NewRecorder()
	NewSocketHandler(NewBroadcaster[reading](), 8, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/pitch", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebRTCHandlerPreflight(t *testing.T) {
	h := NewWebRTCHandler(NewBroadcaster[[]float32](), 64000, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/offer", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebRTCHandlerRequiresPost(t *testing.T) {
	h := NewWebRTCHandler(NewBroadcaster[[]float32](), 64000, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/offer", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWebRTCHandlerRejectsBadOffer(t *testing.T) {
	h := NewWebRTCHandler(NewBroadcaster[[]float32](), 64000, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/offer", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, h.PeerCount())
	assert.NoError(t, h.Close())
}

func TestWebRTCHandlerRejectsMalformedSDP(t *testing.T) {
	b := NewBroadcaster[[]float32]()
	h := NewWebRTCHandler(b, 64000, nil)
	rec := httptest.NewRecorder()
	body := `{"type":"offer","sdp":"not an sdp"}`
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/offer", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, h.PeerCount())
	assert.Equal(t, 0, b.ListenerCount())
}

func TestWebRTCHandlerPeerLifecycle(t *testing.T) {
	b := NewBroadcaster[[]float32]()
	h := NewWebRTCHandler(b, 64000, nil)

	client, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer client.Close()
	_, err = client.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
	require.NoError(t, err)
	offer, err := client.CreateOffer(nil)
	require.NoError(t, err)
	gathered := webrtc.GatheringCompletePromise(client)
	require.NoError(t, client.SetLocalDescription(offer))
	<-gathered

	body, err := json.Marshal(client.LocalDescription())
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/offer", strings.NewReader(string(body))))
	require.Equal(t, http.StatusOK, rec.Code)

	var answer webrtc.SessionDescription
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&answer))
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.Contains(t, answer.SDP, "opus")

	// one encoding subscription per peer
	assert.Equal(t, 1, h.PeerCount())
	assert.Equal(t, 1, b.ListenerCount())

	require.NoError(t, h.Close())
	assert.Equal(t, 0, h.PeerCount())
	assert.Equal(t, 0, b.ListenerCount())
}
