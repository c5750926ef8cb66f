package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/proximity/internal/app"
	"github.com/dkeye/proximity/internal/config"
	"github.com/dkeye/proximity/internal/domain"
)

func main() {
	var (
		path = flag.String("path", "", `waypoints to walk, "x,y;x,y;..."`)
		step = flag.Duration("step", time.Second, "time spent at each waypoint")
		room = flag.String("room", "", "room to join (overrides peer.room)")
		nick = flag.String("nick", "", "nickname (overrides peer.nickname)")
	)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		os.Exit(1)
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if *room != "" {
		cfg.Peer.Room = *room
	}
	if *nick != "" {
		cfg.Peer.Nickname = *nick
	}

	pcfg, err := app.ConfigFrom(cfg.Peer)
	if err != nil {
		log.Error().Err(err).Msg("bad peer config")
		os.Exit(1)
	}

	var waypoints []domain.Vec2
	if *path != "" {
		if waypoints, err = app.ParsePath(*path); err != nil {
			log.Error().Err(err).Msg("bad --path")
			os.Exit(1)
		}
		pcfg.Start = waypoints[0]
	}

	peer := app.Build(ctx, pcfg)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return peer.Run(gctx) })
	if len(waypoints) > 0 {
		g.Go(func() error {
			err := app.Walk(gctx, nil, *step, waypoints, peer.MoveTo)
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	log.Info().Str("room", string(pcfg.Room)).Str("relay", pcfg.Endpoints.Room).Msg("Proximity peer started")
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("peer stopped")
		os.Exit(1)
	}
	log.Info().Msg("Peer exited")
}
