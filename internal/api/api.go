// Package api provides HTTP handlers and the main server logic for BookingBridge.
//
// It exposes the inbound message webhook plus operational endpoints for
// sending messages, reading the turn log, and health checks. The API wires
// together the assistant, scheduling, messaging, and store modules.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/BookingBridge/internal/assistant"
	"github.com/BTreeMap/BookingBridge/internal/flow"
	"github.com/BTreeMap/BookingBridge/internal/messaging"
	"github.com/BTreeMap/BookingBridge/internal/scheduling"
	"github.com/BTreeMap/BookingBridge/internal/store"
	"github.com/BTreeMap/BookingBridge/internal/twiliowhatsapp"
)

// Server defaults.
const (
	// DefaultAddr is the listen address when none is configured.
	DefaultAddr = ":8080"
	// DefaultTurnTimeout bounds one webhook invocation end to end. It leaves
	// headroom over the poll loop's own 60-attempt bound.
	DefaultTurnTimeout = 2 * time.Minute
	// DefaultShutdownTimeout bounds graceful server shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// TurnRunner is the orchestration interface the server depends on.
type TurnRunner interface {
	RunTurn(ctx context.Context, userText string) (flow.TurnResult, error)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr       string
	BookingURL string
	Timezone   string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithBookingURL sets the generic booking link appended to availability replies.
func WithBookingURL(url string) Option {
	return func(o *Opts) { o.BookingURL = url }
}

// WithTimezone sets the IANA timezone the scheduling provider reports slot
// times in.
func WithTimezone(tz string) Option {
	return func(o *Opts) { o.Timezone = tz }
}

// Server holds the wired dependencies for all HTTP handlers.
type Server struct {
	msgService messaging.Service
	orch       TurnRunner
	st         store.Store
	addr       string
}

// NewServer creates a Server with explicit dependencies. Tests substitute
// doubles for any of them.
func NewServer(msgService messaging.Service, orch TurnRunner, st store.Store, addr string) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{
		msgService: msgService,
		orch:       orch,
		st:         st,
		addr:       addr,
	}
}

// Run builds the full service from options and serves HTTP until SIGINT or
// SIGTERM.
func Run(assistantOpts []assistant.Option, schedOpts []scheduling.Option, twilioOpts []twiliowhatsapp.Option, storeOpts []store.Option, apiOpts []Option) error {
	var cfg Opts
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	backend, err := assistant.NewClient(assistantOpts...)
	if err != nil {
		return err
	}

	provider, err := scheduling.NewClient(schedOpts...)
	if err != nil {
		return err
	}

	location := time.UTC
	if cfg.Timezone != "" {
		loc, locErr := time.LoadLocation(cfg.Timezone)
		if locErr != nil {
			slog.Warn("Server.Run: invalid timezone, using UTC", "timezone", cfg.Timezone, "error", locErr)
		} else {
			location = loc
		}
	}
	formatter := flow.NewAvailabilityFormatter(provider, cfg.BookingURL, location)
	dispatcher := flow.NewToolDispatcher(formatter)
	orch := flow.NewTurnOrchestrator(backend, dispatcher)

	twilioClient, err := twiliowhatsapp.NewClient(twilioOpts...)
	if err != nil {
		return err
	}
	msgService := messaging.NewTwilioService(twilioClient)
	defer msgService.Stop()

	st, err := buildStore(storeOpts)
	if err != nil {
		return err
	}
	defer st.Close()

	server := NewServer(msgService, orch, st, cfg.Addr)
	return server.Serve()
}

// buildStore selects a backend from the configured DSN, defaulting to memory.
func buildStore(storeOpts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Debug("Server.buildStore: no DSN configured, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(cfg.DSN) == "postgres" {
		return store.NewPostgresStore(storeOpts...)
	}
	return store.NewSQLiteStore(storeOpts...)
}

// Serve registers routes and runs the HTTP server with graceful shutdown.
func (s *Server) Serve() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/incoming", s.incomingHandler)
	mux.HandleFunc("/send", s.sendHandler)
	mux.HandleFunc("/turns", s.turnsHandler)
	mux.HandleFunc("/receipts", s.receiptsHandler)
	mux.HandleFunc("/health", s.healthHandler)

	httpServer := &http.Server{Addr: s.addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("BookingBridge API running", "addr", s.addr)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case sig := <-sigCh:
		slog.Info("Shutting down on signal", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(ctx)
	}
}
