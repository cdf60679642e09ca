package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/pitchcoach/internal/audio"
)

var errRejectedOffer = errors.New("offer rejected")

// tonePeer is one remote listener: its connection, the outgoing Opus track
// and the encoder fed from the tone broadcast.
type tonePeer struct {
	pc     *webrtc.PeerConnection
	track  *webrtc.TrackLocalStaticSample
	enc    *opus.Encoder
	frames *Listener[[]float32]
	log    *zap.SugaredLogger

	closeOnce sync.Once
	closeErr  error
}

func newTonePeer(bitrate int, log *zap.SugaredLogger) (*tonePeer, error) {
	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		log.Warnw("opus bitrate rejected", "bitrate", bitrate, "error", err)
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("peer connection: %w", err)
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: audio.SampleRate, Channels: audio.Channels},
		"audio",
		"pitchcoach-tone",
	)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("audio track: %w", err), pc.Close())
	}
	if _, err := pc.AddTrack(track); err != nil {
		return nil, multierr.Append(fmt.Errorf("add track: %w", err), pc.Close())
	}
	return &tonePeer{pc: pc, track: track, enc: enc, log: log}, nil
}

// answer applies the remote offer and returns the local description once
// ICE gathering has finished.
func (p *tonePeer) answer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("%w: %v", errRejectedOffer, err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	<-gathered
	return p.pc.LocalDescription(), nil
}

// run encodes tone frames onto the track until the subscription ends or the
// track stops accepting samples.
func (p *tonePeer) run() {
	packet := make([]byte, 4000)
	for frame := range p.frames.C {
		if len(frame) != audio.FrameSamples {
			continue
		}
		n, err := p.enc.EncodeFloat32(frame, packet)
		if err != nil {
			p.log.Warnw("opus encode failed", "error", err)
			continue
		}
		if err := p.track.WriteSample(media.Sample{Data: packet[:n], Duration: audio.FrameDuration}); err != nil {
			return
		}
	}
}

func (p *tonePeer) close() error {
	p.closeOnce.Do(func() { p.closeErr = p.pc.Close() })
	return p.closeErr
}

// WebRTCHandler serves SDP negotiation and streams the reference tone to
// each peer as Opus. Frames are 20ms of mono float PCM at audio.SampleRate.
type WebRTCHandler struct {
	frames  *Broadcaster[[]float32]
	bitrate int
	log     *zap.SugaredLogger

	mu    sync.Mutex
	peers map[*tonePeer]struct{}
}

// NewWebRTCHandler creates a WebRTC stream handler.
func NewWebRTCHandler(b *Broadcaster[[]float32], bitrate int, log *zap.SugaredLogger) *WebRTCHandler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &WebRTCHandler{frames: b, bitrate: bitrate, log: log, peers: make(map[*tonePeer]struct{})}
}

// PeerCount returns the number of active WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	peer, err := newTonePeer(h.bitrate, h.log)
	if err != nil {
		h.log.Errorw("tone peer setup failed", "error", err)
		http.Error(w, "peer setup failed", http.StatusInternalServerError)
		return
	}
	desc, err := peer.answer(offer)
	if err != nil {
		peer.close()
		status := http.StatusInternalServerError
		if errors.Is(err, errRejectedOffer) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	h.attach(peer)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := json.NewEncoder(w).Encode(desc); err != nil {
		h.log.Warnw("write SDP answer failed", "error", err)
	}
}

// attach subscribes peer to the tone broadcast and tracks it until its
// connection ends.
func (h *WebRTCHandler) attach(peer *tonePeer) {
	peer.frames = h.frames.Subscribe(DefaultBuffer)
	h.mu.Lock()
	h.peers[peer] = struct{}{}
	count := len(h.peers)
	h.mu.Unlock()
	h.log.Infof("tone peer connected (total: %d)", count)

	peer.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			if h.detach(peer) {
				h.log.Infof("tone peer disconnected (remaining: %d)", h.PeerCount())
			}
		}
	})
	go peer.run()
}

// detach unsubscribes and closes peer. It reports whether peer was still
// tracked.
func (h *WebRTCHandler) detach(peer *tonePeer) bool {
	h.mu.Lock()
	_, ok := h.peers[peer]
	delete(h.peers, peer)
	h.mu.Unlock()
	if !ok {
		return false
	}
	h.frames.Unsubscribe(peer.frames)
	if err := peer.close(); err != nil {
		h.log.Warnw("close tone peer", "error", err)
	}
	return true
}

// Close hangs up every peer.
func (h *WebRTCHandler) Close() error {
	h.mu.Lock()
	peers := h.peers
	h.peers = make(map[*tonePeer]struct{})
	h.mu.Unlock()
	var err error
	for peer := range peers {
		h.frames.Unsubscribe(peer.frames)
		err = multierr.Append(err, peer.close())
	}
	return err
}
