// reader-agent bridges a punch card reader to the local network: it owns the
// reader session, serves status and control over REST, streams card reads to
// websocket clients and journals every read to sqlite.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"orienteer/punchcard-go/pkg/channel"
	"orienteer/punchcard-go/pkg/config"
	"orienteer/punchcard-go/pkg/logger"
	"orienteer/punchcard-go/pkg/reader"
	"orienteer/punchcard-go/pkg/readlog"
)

func main() {
	configPath := flag.String("config", "reader-agent.toml", "path to the agent config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "reader-agent:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := newLogger(cfg.Log)
	log.Info().Str("config", configPath).Msg("starting reader agent")

	dialer, err := newDialer(cfg.Reader)
	if err != nil {
		return err
	}

	session := reader.NewSession(dialer, reader.Config{
		VerifyChecksum: cfg.Reader.VerifyChecksum,
	}, logger.NewZerologLogger(log.With().Str("component", "session").Logger()))

	var journal *readlog.Store
	if cfg.Database.Path != "" {
		journal, err = readlog.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer journal.Close()
	}

	hub := newWSHub(log.With().Str("component", "ws").Logger())
	go hub.run()

	srv := newServer(log, session, journal, hub)
	session.AddObserver(srv)

	// Connect eagerly, but a missing reader at boot is not fatal: the desk can
	// plug in later and POST /api/connect.
	if err := session.Connect(); err != nil {
		var cerr *reader.ConnectionError
		if errors.As(err, &cerr) {
			log.Warn().Err(cerr).Msg(cerr.Guidance())
		} else {
			log.Warn().Err(err).Msg("initial connect failed")
		}
	}

	addr := net.JoinHostPort(cfg.HTTP.ListenAddress, strconv.Itoa(cfg.HTTP.ListenPort))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("API listening")
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown")
	}
	if err := session.Disconnect(); err != nil {
		log.Warn().Err(err).Msg("disconnect")
	}
	return nil
}

// newLogger builds the root zerolog logger from config.
func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}

// newDialer maps the configured transport to a channel constructor. The
// dialer runs on every connect, so discovery happens each time: replugging
// the reader on a different port still works.
func newDialer(cfg config.ReaderConfig) (reader.Dialer, error) {
	switch cfg.Transport {
	case config.TransportSerial:
		return reader.DialerFunc(func() (channel.PhysicalChannel, error) {
			return channel.NewSerialChannel(channel.SerialConfig{
				Port:      cfg.Port,
				VendorID:  cfg.VendorID,
				ProductID: cfg.ProductID,
			})
		}), nil
	case config.TransportTCP:
		return reader.DialerFunc(func() (channel.PhysicalChannel, error) {
			return channel.NewTCPChannel(channel.TCPChannelConfig{
				Address: cfg.Address,
			})
		}), nil
	case config.TransportQUIC:
		return reader.DialerFunc(func() (channel.PhysicalChannel, error) {
			return channel.NewQUICChannel(channel.QUICChannelConfig{
				Address: cfg.Address,
			})
		}), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
