// Command sequent records speech in fixed-length blocks, interprets each block
// with a remote model and keeps the results in a timeline.
//
//	sequent daemon   record and interpret; serves the control socket
//	sequent tui      terminal front-end for a running daemon
//	sequent mcp      MCP server over the session archive (stdio)
//	sequent export   write a recorded session as CSV
//	sequent status   print the daemon's state
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/exp/slog"

	"github.com/jwulff/sequent/internal/app"
	"github.com/jwulff/sequent/internal/config"
	"github.com/jwulff/sequent/internal/daemon"
	"github.com/jwulff/sequent/internal/db"
	"github.com/jwulff/sequent/internal/export"
	"github.com/jwulff/sequent/internal/gateway"
	"github.com/jwulff/sequent/internal/logging"
	"github.com/jwulff/sequent/internal/mcpserver"
	"github.com/jwulff/sequent/internal/session"
	"github.com/jwulff/sequent/internal/sink"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "daemon":
		err = runDaemon(args)
	case "tui":
		err = runTUI(args)
	case "mcp":
		err = runMCP(args)
	case "export":
		err = runExport(args)
	case "status":
		err = runStatus(args)
	case "-h", "--help", "help":
		usage()
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: sequent <daemon|tui|mcp|export|status> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Common flags:")
	fmt.Fprintln(os.Stderr, "  -config   Config file (toml or yaml)")
	fmt.Fprintln(os.Stderr, "  -env      .env file loaded before the environment (default .env)")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Settings may also come from SEQUENT_* variables, e.g. SEQUENT_INTERVAL_MS.")
	fmt.Fprintln(os.Stderr, "The Gemini key is read from SEQUENT_GEMINI_API_KEY, GEMINI_API_KEY or API_KEY.")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// loadConfig parses the common flags plus any registered on fs.
func loadConfig(fs *flag.FlagSet, args []string) (config.Config, error) {
	configPath := fs.String("config", "", "config file (toml or yaml)")
	envFile := fs.String("env", ".env", ".env file to load first")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openLog logs to the configured file, or to fallback when none is set.
func openLog(cfg config.Config, fallback io.Writer) (*slog.Logger, func(), error) {
	if cfg.LogFile == "" {
		return logging.New(fallback, cfg.LogLevel), func() {}, nil
	}
	log, closer, err := logging.Open(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return log, func() { closer.Close() }, nil
}

func dbPath(cfg config.Config) string {
	if cfg.DBPath != "" {
		return cfg.DBPath
	}
	return db.DefaultDBPath()
}

func socketPath(cfg config.Config) string {
	if cfg.SocketPath != "" {
		return cfg.SocketPath
	}
	return daemon.SocketPath()
}

func runDaemon(args []string) error {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	device := fs.String("device", "", "capture device: ffmpeg, stdin, file or synthetic")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if *device != "" {
		cfg.Device = *device
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if cfg.GeminiAPIKey == "" {
		return errors.New("no API key: set GEMINI_API_KEY or gemini_api_key")
	}

	log, closeLog, err := openLog(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	store, err := db.Open(dbPath(cfg))
	if err != nil {
		return err
	}
	defer store.Close()
	if n, err := store.MarkInterrupted(time.Now()); err != nil {
		log.Warn("mark interrupted sessions", "err", err)
	} else if n > 0 {
		log.Info("marked sessions left active by a previous run as interrupted", "count", n)
	}

	dev, err := cfg.OpenDevice()
	if err != nil {
		return err
	}
	gw := gateway.NewGemini(cfg.GeminiAPIKey)
	gw.Model = cfg.GeminiModel
	gw.BaseURL = cfg.GeminiBaseURL
	gw.Context = cfg.Context
	gw.Logger = log

	srv := daemon.NewServer(cfg.ExportDir, log)
	srv.WSOrigins = cfg.WSOrigins
	listeners := session.Listeners{srv}
	if cfg.AMQPURL != "" {
		pub, err := sink.DialRabbitMQ(cfg.AMQPURL)
		if err != nil {
			return err
		}
		sk := sink.New(pub, cfg.AMQPQueue, log)
		defer sk.Close()
		listeners = append(listeners, sk)
		log.Info("publishing entries", "queue", cfg.AMQPQueue)
	}

	langs, _ := cfg.Languages()
	sess := session.New(session.Options{
		Device:         dev,
		Gateway:        gw,
		Store:          store,
		Listener:       listeners,
		Interval:       cfg.Interval(),
		TickEvery:      cfg.TickEvery(),
		Languages:      langs,
		GatewayTimeout: cfg.GatewayTimeout(),
		MaxInFlight:    cfg.MaxInFlight,
		Logger:         log,
	})
	srv.Recorder = sess

	sock := socketPath(cfg)
	ln, err := daemon.Listen(sock)
	if err != nil {
		return err
	}
	defer os.Remove(sock)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.WSAddr != "" {
		go func() {
			if err := srv.ServeWebsocket(ctx, cfg.WSAddr); err != nil {
				log.Error("websocket bridge stopped", "err", err)
			}
		}()
	}

	log.Info("daemon listening", "socket", sock, "device", dev.Name(), "model", gw.Model,
		"interval", cfg.Interval(), "source", langs.Source, "target", langs.Target)
	err = srv.Serve(ctx, ln)

	sess.Stop()
	log.Info("waiting for in-flight interpretations")
	sess.Wait()
	log.Info("daemon stopped")
	return err
}

func runTUI(args []string) error {
	fs := flag.NewFlagSet("tui", flag.ExitOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	// The terminal belongs to bubbletea; only log when a file is configured.
	if cfg.LogFile != "" {
		log, closeLog, err := openLog(cfg, io.Discard)
		if err != nil {
			return err
		}
		defer closeLog()
		log.Info("tui started", "socket", socketPath(cfg))
	}

	p := tea.NewProgram(app.New(socketPath(cfg)), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func runMCP(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	// stdout carries the protocol.
	log, closeLog, err := openLog(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	store, err := db.OpenReadOnly(dbPath(cfg))
	if err != nil {
		return err
	}
	defer store.Close()

	return mcpserver.ServeStdio(mcpserver.New(&mcpserver.Handlers{
		Archive:   store,
		ExportDir: cfg.ExportDir,
		Log:       log,
	}))
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	sessionID := fs.String("session", "", "session ID (default: most recent)")
	dir := fs.String("dir", "", "output directory (default: export_dir or .)")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	store, err := db.OpenReadOnly(dbPath(cfg))
	if err != nil {
		return err
	}
	defer store.Close()

	var sess *db.Session
	if *sessionID == "" {
		sess, err = store.LatestSession()
	} else {
		sess, err = store.GetSession(*sessionID)
	}
	if err != nil {
		return err
	}
	if sess == nil {
		return errors.New("no such session")
	}
	entries, err := store.EntriesForSession(sess.ID)
	if err != nil {
		return err
	}

	out := *dir
	if out == "" {
		out = cfg.ExportDir
	}
	if out == "" {
		out = "."
	}
	path, err := export.WriteFile(out, entries, time.Now())
	if err != nil {
		return err
	}
	abs, _ := filepath.Abs(path)
	fmt.Println(abs)
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	c, err := daemon.Connect(socketPath(cfg))
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.SendCommand(daemon.Command{Cmd: daemon.CmdStatus})
	if err != nil {
		return err
	}
	if !resp.OK {
		return errors.New(resp.Error)
	}
	state := "idle"
	if resp.Recording != nil && *resp.Recording {
		state = "recording (session " + resp.SessionID + ")"
	}
	fmt.Printf("%s\n%s -> %s\n", state, resp.Source, resp.Target)
	if resp.Pending != nil && *resp.Pending > 0 {
		fmt.Printf("%d block(s) awaiting interpretation\n", *resp.Pending)
	}
	return nil
}
