package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alxayo/wfd-out-session/internal/logger"
	"github.com/alxayo/wfd-out-session/internal/session"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		// the flag package already printed usage/parse errors; validation
		// errors from parseFlags exit here without a message
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
	log := logger.Logger().With().Str("component", "cli").Logger()

	subelement, err := hex.DecodeString(cfg.subelementHex)
	if err != nil {
		log.Error().Err(err).Msg("invalid -sink-subelement hex")
		os.Exit(2)
	}

	sess, err := session.New(session.Config{
		Display: session.DisplaySource{
			Scheme: cfg.displayScheme,
			Name:   cfg.displayName,
			X:      cfg.displayX,
			Y:      cfg.displayY,
			Width:  cfg.displayWidth,
			Height: cfg.displayHeight,
		},
		Peer: session.PeerDescriptor{
			LocalAddr:   cfg.localAddr,
			RemoteAddr:  cfg.remoteAddr,
			Connected:   true,
			Subelements: subelement,
		},
		PipelineProgram:  cfg.pipelineProgram,
		PipelineArgsBase: cfg.pipelineArgsBase(),
		RateLimitPerSec:  cfg.rateLimitPerSec,
		RateLimitBurst:   cfg.rateLimitBurst,
	}, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to construct session")
		os.Exit(1)
	}

	if err := sess.InitiateIO(); err != nil {
		log.Error().Err(err).Msg("failed to bind RTSP listener")
		os.Exit(1)
	}
	log.Info().Str("addr", sess.ListenAddr().String()).Msg("waiting for sink to connect")

	if err := sess.HandleIO(); err != nil {
		log.Error().Err(err).Msg("failed to accept sink connection")
		os.Exit(1)
	}

	if err := sess.InitiateRequest(); err != nil {
		log.Error().Err(err).Msg("failed to start capability negotiation")
		os.Exit(1)
	}
	log.Info().Msg("session started")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		if err := sess.Close(); err != nil {
			log.Error().Err(err).Msg("session close error")
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("session torn down cleanly")
	case <-shutdownCtx.Done():
		log.Error().Msg("forced exit after timeout")
	}
}
