package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/danmuck/canview/internal/auth"
	"github.com/danmuck/canview/internal/canbus"
	"github.com/danmuck/canview/internal/canbus/replay"
	"github.com/danmuck/canview/internal/canbus/slcan"
	"github.com/danmuck/canview/internal/canbus/socketcan"
	"github.com/danmuck/canview/internal/config"
	"github.com/danmuck/canview/internal/monitor"
	"github.com/danmuck/canview/internal/observability"
	"github.com/danmuck/canview/internal/server"
	"github.com/danmuck/canview/internal/signaldb"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "canview: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}
	observability.InitLogger("canview")

	var (
		decoder canbus.Decoder
		catalog server.Catalog
		db      *signaldb.Database
	)
	if cfg.Database != "" {
		db, err = signaldb.Load(cfg.Database)
		if err != nil {
			return err
		}
		decoder, catalog = db, db
		log.Info().Str("database", db.Source()).Int("messages", len(db.IDs())).Msg("signal database loaded")
	} else {
		log.Warn().Msg("no signal database; selected frames will only be counted")
	}

	selection := monitor.NewSelection(cfg.Select...)
	if cfg.SelectAll && db != nil {
		selection.Set(db.IDs()...)
	}

	session, err := monitor.NewSession(monitor.SessionDeps{
		Transport: buildTransport(cfg),
		Decoder:   decoder,
		Selection: selection,
		Config:    cfg.Monitor,
	})
	if err != nil {
		return err
	}
	refresher := monitor.NewRefresher(session.Builder(), session.Config().RefreshInterval)
	if cfg.Print {
		refresher.Subscribe(newPrinter(os.Stdout))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = refresher.Run(ctx)
	}()
	defer func() {
		shutdown(session)
		stop()
		wg.Wait()
	}()

	if cfg.Autostart {
		if err := autostart(session, cfg); err != nil {
			if cfg.HTTPAddr == "" {
				return err
			}
			log.Error().Err(err).Msg("autostart failed; use the HTTP API to retry")
		}
	}

	if cfg.HTTPAddr == "" {
		<-ctx.Done()
		return nil
	}
	var validator auth.Validator
	if cfg.ControlToken != "" {
		validator = auth.StaticToken{Token: cfg.ControlToken}
	}
	srv := server.New(server.Config{
		Addr:        cfg.HTTPAddr,
		CORSOrigins: cfg.CORSOrigins,
		Channel:     cfg.Channel,
		Bitrate:     cfg.Bitrate,
		Validator:   validator,
		TLSCert:     cfg.TLSCert,
		TLSKey:      cfg.TLSKey,
	}, server.Deps{
		Session:   session,
		Refresher: refresher,
		Catalog:   catalog,
	})
	return srv.Serve(ctx)
}

func parseConfig(args []string) (config.App, error) {
	fs := flag.NewFlagSet("canview", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a canview TOML config")
	transport := fs.String("transport", "", "transport: socketcan | slcan | replay")
	channel := fs.String("channel", "", "interface name, serial device or replay log path")
	bitrate := fs.Int("bitrate", 0, "bus bitrate in bit/s")
	database := fs.String("db", "", "signal database (.dbc, .toml, .yaml)")
	httpAddr := fs.String("http", "", "HTTP listen address")
	printText := fs.Bool("print", false, "render snapshots to stdout")
	if err := fs.Parse(args); err != nil {
		return config.App{}, err
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return config.App{}, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "transport":
			cfg.Transport = *transport
		case "channel":
			cfg.Channel = *channel
		case "bitrate":
			cfg.Bitrate = *bitrate
		case "db":
			cfg.Database = *database
		case "http":
			cfg.HTTPAddr = *httpAddr
		case "print":
			cfg.Print = *printText
		}
	})

	if err := cfg.Validate(); err != nil {
		return config.App{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func buildTransport(cfg config.App) canbus.Transport {
	switch cfg.Transport {
	case config.TransportSLCAN:
		return slcan.New(slcan.Options{Baud: cfg.SerialBaud})
	case config.TransportReplay:
		return replay.New(replay.Options{Rate: cfg.ReplayRate, Loop: cfg.ReplayLoop})
	default:
		return socketcan.New(socketcan.Options{ConfigureLink: cfg.ConfigureLink})
	}
}

func autostart(session *monitor.Session, cfg config.App) error {
	if err := session.Connect(cfg.Channel, cfg.Bitrate); err != nil {
		return err
	}
	return session.StartReceiving()
}

func shutdown(session *monitor.Session) {
	if session.State() == monitor.StateDisconnected {
		return
	}
	if err := session.Disconnect(); err != nil && !errors.Is(err, monitor.ErrPrecondition) {
		log.Error().Err(err).Msg("disconnect on shutdown failed")
		return
	}
	log.Info().Msg("session closed")
}

// printer renders each snapshot as text. On a terminal it redraws in place.
type printer struct {
	out  io.Writer
	tty  bool
	last string
}

func newPrinter(f *os.File) *printer {
	return &printer{out: f, tty: isatty.IsTerminal(f.Fd())}
}

func (p *printer) Consume(snap monitor.Snapshot) {
	text := snap.Text()
	if !p.tty {
		if text == "" || text == p.last {
			return
		}
		p.last = text
		fmt.Fprintln(p.out, text)
		return
	}
	fmt.Fprint(p.out, "\033[H\033[2J", text)
}
