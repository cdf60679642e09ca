package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/pitchcoach/internal/api"
	"github.com/satindergrewal/pitchcoach/internal/audio"
	"github.com/satindergrewal/pitchcoach/internal/capture"
	"github.com/satindergrewal/pitchcoach/internal/config"
	"github.com/satindergrewal/pitchcoach/internal/device"
	"github.com/satindergrewal/pitchcoach/internal/encoder"
	"github.com/satindergrewal/pitchcoach/internal/logging"
	"github.com/satindergrewal/pitchcoach/internal/monitor"
	"github.com/satindergrewal/pitchcoach/internal/pitch"
	"github.com/satindergrewal/pitchcoach/internal/stream"
	"github.com/satindergrewal/pitchcoach/internal/tone"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pitchcoach: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "pitchcoach: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		reportFailure(log, os.Stderr, err)
		os.Exit(1)
	}
}

// reportFailure logs err, flushes the logger and echoes err to w. os.Exit
// skips deferred calls, so the flush has to happen here.
func reportFailure(log *zap.SugaredLogger, w io.Writer, err error) {
	log.Errorf("pitchcoach: %v", err)
	log.Sync()
	fmt.Fprintf(w, "pitchcoach: %v\n", err)
}

func run(cfg config.Config, log *zap.SugaredLogger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("pitchcoach starting up...")

	target, err := cfg.Target()
	if err != nil {
		return err
	}

	// Reference tone
	src, err := tone.New(tone.Options{
		SampleRate: audio.SampleRate,
		Frequency:  target,
		Volume:     &cfg.ToneVolume,
		Harmonics:  cfg.ToneHarmonics,
		CutoffHz:   cfg.HarmonicCutoffHz,
	})
	if err != nil {
		return fmt.Errorf("tone: %w", err)
	}
	defer src.Dispose()

	// Tone frames for WebRTC listeners. With a local output device the
	// device callback renders and the tap forwards; otherwise the feed paces
	// rendering on its own.
	toneFrames := stream.NewBroadcaster[[]float32]()
	webrtcHandler := stream.NewWebRTCHandler(toneFrames, cfg.OpusBitrate, log)
	defer webrtcHandler.Close()

	var playback *device.Playback
	if cfg.ToneOutput == "device" {
		playback, err = device.StartPlayback(cfg.OutputDevice, audio.SampleRate, tone.NewTap(src, toneFrames.Publish), log)
		if err != nil {
			log.Warnf("tone playback unavailable, WebRTC only: %v", err)
		} else {
			defer playback.Close()
		}
	}

	// Recorder
	samples := stream.NewBroadcaster[pitch.Sample]()
	recorder, err := capture.NewRecorder(capture.Options{
		Device:      device.NewCapture(cfg.InputDevice, log),
		Stream:      capture.DefaultStreamConfig(cfg.SampleRate),
		WindowSize:  cfg.WindowSize,
		PitchBuffer: cfg.PitchBuffer,
		ChunkBuffer: cfg.ChunkBuffer,
		Validity: pitch.Validity{
			MinHz:      cfg.MinPitchHz,
			MaxHz:      cfg.MaxPitchHz,
			MinClarity: cfg.MinClarity,
		},
		Formats:   cfg.RecordingFormats,
		Bitrate:   cfg.OpusBitrate,
		Encoders:  encoder.NewRegistry(log),
		Telemetry: samples,
		Log:       log,
	})
	if err != nil {
		return fmt.Errorf("recorder: %w", err)
	}

	// Live preview
	readings := stream.NewBroadcaster[monitor.Reading]()
	mon := monitor.New(func() *pitch.Aggregator {
		if s := recorder.Active(); s != nil {
			return s.Aggregator()
		}
		return nil
	}, readings, monitor.Config{
		Interval:  cfg.PreviewInterval,
		TargetHz:  target,
		Tolerance: cfg.Tolerance,
	}, log)

	srv := api.NewServer(api.Deps{
		Recorder: recorder,
		Tone:     src,
		Monitor:  mon,
		Readings: readings,
		Samples:  samples,
		WebRTC:   webrtcHandler,
		Log:      log,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	if playback == nil {
		feed := tone.NewFeed(src, log)
		g.Go(func() error {
			feed.Run(gctx)
			return nil
		})
		g.Go(func() error {
			toneFrames.Run(gctx, feed.Frames())
			return nil
		})
	}
	g.Go(func() error {
		return mon.Run(gctx)
	})
	g.Go(func() error {
		log.Infof("pitchcoach live on %s (target %.2f Hz)", addr, target)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...")

		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if art, err := recorder.Stop(sctx); err != nil {
			log.Errorf("finalize recording: %v", err)
		} else if art != nil {
			log.Infow("recording finalized on shutdown", "id", art.ID, "bytes", len(art.EncodedAudio))
		}
		toneFrames.Close()
		readings.Close()
		samples.Close()
		return server.Shutdown(sctx)
	})
	return g.Wait()
}
