// Package api exposes the recorder, the reference tone and the live preview
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/pitchcoach/internal/capture"
	"github.com/satindergrewal/pitchcoach/internal/monitor"
	"github.com/satindergrewal/pitchcoach/internal/note"
	"github.com/satindergrewal/pitchcoach/internal/pitch"
	"github.com/satindergrewal/pitchcoach/internal/stream"
	"github.com/satindergrewal/pitchcoach/internal/tone"
)

// Deps are the components the server drives. Readings, Samples and WebRTC
// are optional; their routes are not registered when nil.
type Deps struct {
	Recorder *capture.Recorder
	Tone     *tone.Source
	Monitor  *monitor.Monitor

	Readings *stream.Broadcaster[monitor.Reading]
	Samples  *stream.Broadcaster[pitch.Sample]
	WebRTC   *stream.WebRTCHandler

	Log *zap.SugaredLogger
}

// Server is the HTTP surface.
type Server struct {
	Deps
	readings *stream.SocketHandler[monitor.Reading]
	samples  *stream.SocketHandler[pitch.Sample]
}

// NewServer wires the handlers.
func NewServer(d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop().Sugar()
	}
	s := &Server{Deps: d}
	if d.Readings != nil {
		s.readings = stream.NewSocketHandler(d.Readings, stream.DefaultBuffer, d.Log)
	}
	if d.Samples != nil {
		s.samples = stream.NewSocketHandler(d.Samples, stream.DefaultBuffer, d.Log)
	}
	return s
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/record/start", s.handleStart)
	mux.HandleFunc("/api/record/stop", s.handleStop)
	mux.HandleFunc("/api/recording", s.handleRecording)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/tone", s.handleTone)
	mux.HandleFunc("/api/spectrum", s.handleSpectrum)

	if s.readings != nil {
		mux.Handle("/ws/pitch", s.readings)
	}
	if s.samples != nil {
		mux.Handle("/ws/samples", s.samples)
	}
	if s.WebRTC != nil {
		mux.Handle("/offer", s.WebRTC)
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, method+" required", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

type sessionInfo struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"startedAt"`
	SampleRate float64   `json:"sampleRate"`
	MimeType   string    `json:"mimeType"`
}

func infoOf(sess *capture.Session) *sessionInfo {
	if sess == nil {
		return nil
	}
	return &sessionInfo{
		ID:         sess.ID().String(),
		StartedAt:  sess.StartedAt(),
		SampleRate: sess.SampleRate(),
		MimeType:   sess.MimeType(),
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	sess, err := s.Recorder.Start(r.Context())
	switch {
	case errors.Is(err, capture.ErrDeviceUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, infoOf(sess))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	// A client hanging up must not cut the recording short.
	art, err := s.Recorder.Stop(context.WithoutCancel(r.Context()))
	if err != nil {
		s.Log.Errorf("stop recording: %v", err)
		if art == nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	if art == nil {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, art)
}

var extensions = map[string]string{
	"audio/ogg": "ogg",
	"audio/wav": "wav",
}

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	art := s.Recorder.Last()
	if art == nil {
		http.Error(w, "no recording", http.StatusNotFound)
		return
	}
	ext := "bin"
	if base, _, err := mime.ParseMediaType(art.MimeType); err == nil {
		if e, ok := extensions[base]; ok {
			ext = e
		}
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="recording-%s.%s"`, art.ID, ext))
	w.Header().Set("Content-Type", art.MimeType)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write(art.EncodedAudio)
}

type lastSummary struct {
	ID           string        `json:"id"`
	MimeType     string        `json:"mimeType"`
	Bytes        int           `json:"bytes"`
	Samples      int           `json:"samples"`
	AveragePitch *float64      `json:"averagePitch"`
	Duration     time.Duration `json:"duration"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"recording": false,
		"session":   nil,
		"last":      nil,
		"target":    s.Monitor.Target(),
		"preview":   s.Monitor.Latest(),
	}
	if sess := s.Recorder.Active(); sess != nil {
		status["recording"] = true
		status["session"] = infoOf(sess)
		status["samples"] = len(sess.Aggregator().Samples())
	}
	if art := s.Recorder.Last(); art != nil {
		status["last"] = lastSummary{
			ID:           art.ID.String(),
			MimeType:     art.MimeType,
			Bytes:        len(art.EncodedAudio),
			Samples:      len(art.Samples),
			AveragePitch: art.AveragePitch,
			Duration:     art.Duration,
		}
	}
	if s.Tone != nil {
		status["tone"] = s.Tone.State()
	}
	if s.Readings != nil {
		status["ws_listeners"] = s.Readings.ListenerCount()
	}
	if s.WebRTC != nil {
		status["webrtc_listeners"] = s.WebRTC.PeerCount()
	}
	writeJSON(w, http.StatusOK, status)
}

type toneRequest struct {
	Frequency    *float64 `json:"frequency"`
	Note         *string  `json:"note"`
	Volume       *float64 `json:"volume"`
	TransitionMs *int     `json:"transition_ms"`
	Playing      *bool    `json:"playing"`
}

func (s *Server) handleTone(w http.ResponseWriter, r *http.Request) {
	if s.Tone == nil {
		http.Error(w, "tone disabled", http.StatusNotFound)
		return
	}
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, s.Tone.State())
		return
	}
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req toneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	freq := req.Frequency
	if req.Note != nil {
		hz, ok := note.NameToFreq(*req.Note)
		if !ok {
			http.Error(w, "unknown note", http.StatusBadRequest)
			return
		}
		freq = &hz
	}
	if freq != nil {
		if err := s.Tone.SetFrequency(*freq); err != nil {
			s.toneError(w, err)
			return
		}
		s.Monitor.SetTarget(*freq)
	}
	if req.Volume != nil {
		transition := tone.TransitionDefault
		if req.TransitionMs != nil {
			transition = time.Duration(*req.TransitionMs) * time.Millisecond
		}
		if err := s.Tone.SetVolume(*req.Volume, transition); err != nil {
			s.toneError(w, err)
			return
		}
	}
	if req.Playing != nil {
		var err error
		if *req.Playing {
			err = s.Tone.Start()
		} else {
			err = s.Tone.Stop()
		}
		if err != nil {
			s.toneError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.Tone.State())
}

func (s *Server) toneError(w http.ResponseWriter, err error) {
	if errors.Is(err, tone.ErrDisposed) {
		http.Error(w, err.Error(), http.StatusGone)
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (s *Server) handleSpectrum(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	sess := s.Recorder.Active()
	if sess == nil {
		http.Error(w, "not recording", http.StatusNotFound)
		return
	}
	sp := sess.Spectrum()
	peak := sp.Peak()
	writeJSON(w, http.StatusOK, map[string]any{
		"binHz":    sp.BinHz,
		"decibels": sp.Decibels,
		"peakHz":   peak,
	})
}
