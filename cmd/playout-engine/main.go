package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alxayo/playout-engine/internal/channel"
	"github.com/alxayo/playout-engine/internal/clock"
	"github.com/alxayo/playout-engine/internal/control"
	"github.com/alxayo/playout-engine/internal/evidence"
	"github.com/alxayo/playout-engine/internal/frame"
	"github.com/alxayo/playout-engine/internal/logger"
	"github.com/alxayo/playout-engine/internal/pad"
	"github.com/alxayo/playout-engine/internal/pipeline"
	"github.com/alxayo/playout-engine/internal/playout"
	"github.com/alxayo/playout-engine/internal/producer"
	"github.com/alxayo/playout-engine/internal/rational"
	"github.com/alxayo/playout-engine/internal/sink"
	"github.com/alxayo/playout-engine/internal/tickgrid"
)

// demoSource is a synthetic producer.Source standing in for a real
// container/codec decoder, which is an external collaborator this repo
// does not implement. It yields an unbounded run of house-format frames
// stamped with a fixed PTS cadence, enough to drive the pipeline and
// control-plane surface end to end without a real asset on disk.
type demoSource struct {
	format frame.Format
	videoN int64
	audioN int64
}

func newDemoSource(format frame.Format) *demoSource { return &demoSource{format: format} }

func (d *demoSource) ReadVideo() (frame.Video, bool, error) {
	durationMicros := int64(1_000_000) * d.format.FPSDen / d.format.FPSNum
	v := frame.Video{
		PTSMicros:      d.videoN * durationMicros,
		DurationMicros: durationMicros,
		Format:         d.format.PixFormat,
		Width:          d.format.Width,
		Height:         d.format.Height,
	}
	d.videoN++
	return v, true, nil
}

func (d *demoSource) ReadAudio() (frame.Audio, bool, error) {
	const samplesPerFrame = 960
	durationMicros := int64(samplesPerFrame) * 1_000_000 / int64(d.format.SampleRate)
	a := frame.Audio{
		PTSMicros:  d.audioN * durationMicros,
		NumSamples: samplesPerFrame,
	}
	d.audioN++
	return a, true, nil
}

func (d *demoSource) SeekPreciseToMs(ms int64) error {
	d.videoN = ms * d.format.FPSNum / (d.format.FPSDen * 1000)
	d.audioN = ms * int64(d.format.SampleRate) / (960 * 1000)
	return nil
}

func (d *demoSource) SourceFPS() (int64, int64) { return d.format.FPSNum, d.format.FPSDen }
func (d *demoSource) Close() error              { return nil }

var _ producer.Source = (*demoSource)(nil)

func houseFormat(cfg *cliConfig) frame.Format {
	return frame.Format{
		FPSNum:     cfg.fpsNum,
		FPSDen:     cfg.fpsDen,
		Width:      1280,
		Height:     720,
		SampleRate: 48000,
		Channels:   2,
		PixFormat:  frame.PixelFormatI420,
	}
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.Logger().With("component", "cli")

	format := houseFormat(cfg)
	rate, err := rational.NewRate(cfg.fpsNum, cfg.fpsDen)
	if err != nil {
		log.Error("invalid tick rate", "error", err)
		os.Exit(1)
	}

	clk := clock.NewReal()
	epochUTCMicros := clk.NowUTCMicros()
	epochMonoNanos := clk.NowMonoNanos()
	if err := clk.SetSessionEpoch(epochUTCMicros, epochMonoNanos); err != nil {
		log.Error("failed to set session epoch", "error", err)
		os.Exit(1)
	}
	grid := tickgrid.New(rate, epochMonoNanos, epochUTCMicros/1000)

	spool, err := evidence.Open(cfg.evidencePath, cfg.sessionID, cfg.channelID, cfg.evidenceMaxBytes)
	if err != nil {
		log.Error("failed to open evidence spool", "error", err)
		os.Exit(1)
	}
	defer spool.Close()
	_, _ = spool.Append(evidence.NewRecord(cfg.sessionID, cfg.channelID, evidence.EventSessionStart).
		With("fps_num", cfg.fpsNum).With("fps_den", cfg.fpsDen), epochUTCMicros/1000)

	padProducer := pad.New(format)
	session := playout.New()

	ch := channel.New(format, grid, func(assetURI string, startOffsetMs int64) (producer.Source, error) {
		src := newDemoSource(format)
		if startOffsetMs > 0 {
			_ = src.SeekPreciseToMs(startOffsetMs)
		}
		return src, nil
	}, padProducer, sink.NewRouter(time.Duration(cfg.freezeWindowMs)*time.Millisecond, nil), spool, session, channel.Config{
		RingCapacity:     cfg.ringCapacity,
		MinPrefeedFrames: cfg.minPrefeedFrames,
		SessionID:        cfg.sessionID,
		ChannelID:        cfg.channelID,
	})

	pl := pipeline.New(clk, grid, ch, ch, pipeline.Config{})

	registry := prometheus.NewRegistry()
	ctlServer := control.New(session, ch, ch, ch, registry)

	httpServer := &http.Server{Addr: cfg.listenAddr, Handler: ctlServer.Router()}

	go func() {
		log.Info("control plane listening", "addr", cfg.listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("control plane server error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pl.Start(ctx); err != nil {
		log.Error("failed to start pipeline", "error", err)
		os.Exit(1)
	}
	log.Info("pipeline started", "version", version)

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		pl.Stop()
		_ = httpServer.Shutdown(shutdownCtx)
		close(done)
	}()

	select {
	case <-done:
		log.Info("stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after timeout")
	}
}
