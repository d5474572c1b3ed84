package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/chorus/internal/adapters/rtc"
	"github.com/dkeye/chorus/internal/client"
	"github.com/dkeye/chorus/internal/client/audio"
	"github.com/dkeye/chorus/internal/client/mesh"
	"github.com/dkeye/chorus/internal/config"
	"github.com/dkeye/chorus/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Client.Token == "" {
		log.Fatal().Msg("client.token is required")
	}

	fanout := audio.NewFanout()
	graph := audio.NewGraph(audio.NewTone(440), audio.NewGain(cfg.Client.Volume), fanout, nil)

	c, err := client.Dial(ctx, cfg.Client.URL, client.Options{
		Token:      cfg.Client.Token,
		ServerID:   domain.ServerID(cfg.Client.ServerID),
		ChannelID:  domain.ChannelID(cfg.Client.ChannelID),
		SendBuffer: cfg.SendBuffer,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("dial")
	}

	sink := &audio.Discard{}
	playouts := audio.NewPlayouts(sink)
	m := mesh.NewManager(ctx, rtc.NewFactory(rtc.DefaultWebRTCConfig(cfg.RTC.ICEServers), fanout), c)
	m.SetBitrateCeiling(cfg.RTC.MaxBitrate)
	m.OnTrack(func(remote domain.UserID, t *webrtc.TrackRemote) {
		playouts.Start(ctx, remote, audio.FromTrack(t))
	})
	c.UseMesh(m)
	c.OnPeerLeft(playouts.Stop)

	runCtx, stop := context.WithCancel(ctx)
	var g errgroup.Group
	g.Go(func() error { return graph.Run(runCtx) })
	g.Go(func() error {
		defer stop()
		defer playouts.StopAll()
		return c.Run(runCtx)
	})

	err = g.Wait()
	log.Info().Int64("received_bytes", sink.Bytes()).Msg("voicebot stopped")
	switch {
	case errors.Is(err, client.ErrForcedDisconnect):
		log.Warn().Msg("signed in elsewhere, not reconnecting")
		os.Exit(2)
	case err != nil:
		log.Error().Err(err).Msg("voicebot failed")
		os.Exit(1)
	}
}
