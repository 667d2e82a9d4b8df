// ABOUTME: Gateway orchestrator that wires the session, dispatcher and applications together
// ABOUTME: Runs them under one context and serves the optional health endpoints

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/onebot-gateway/internal/apps"
	"github.com/2389/onebot-gateway/internal/config"
	"github.com/2389/onebot-gateway/internal/dispatch"
	"github.com/2389/onebot-gateway/internal/gscore"
	"github.com/2389/onebot-gateway/internal/onebot"
	"github.com/2389/onebot-gateway/internal/session"
)

const shutdownTimeout = 5 * time.Second

// Gateway orchestrates the onebot-gateway components.
type Gateway struct {
	config     *config.Config
	handle     *session.Handle
	supervisor *session.Supervisor
	dispatcher *dispatch.Dispatcher
	client     *onebot.Client
	gscore     *gscore.Adapter
	httpServer *http.Server
	logger     *slog.Logger
	startedAt  time.Time

	mu       sync.Mutex
	httpAddr net.Addr
}

// Option customizes gateway construction.
type Option func(*options)

type options struct {
	dialer       session.Dialer
	gscoreDialer session.Dialer
	extraApps    []func(*onebot.Client) dispatch.Application
}

// WithDialer overrides how the primary connection is opened.
func WithDialer(d session.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithGSCoreDialer overrides how the GSCore connection is opened.
func WithGSCoreDialer(d session.Dialer) Option {
	return func(o *options) { o.gscoreDialer = d }
}

// WithApplication registers an additional application built from the client.
func WithApplication(build func(*onebot.Client) dispatch.Application) Option {
	return func(o *options) { o.extraApps = append(o.extraApps, build) }
}

// New builds a gateway from cfg. Nothing connects until Run.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	handle := session.NewHandle(logger.With("component", "handle"))
	client := onebot.NewClient(handle, logger)

	gw := &Gateway{
		config:    cfg,
		handle:    handle,
		client:    client,
		logger:    logger.With("component", "gateway"),
		startedAt: time.Now(),
	}

	applications, err := gw.buildApplications(o, logger)
	if err != nil {
		return nil, err
	}

	gw.dispatcher = dispatch.New(dispatch.Config{
		DedupeTTL: cfg.Dispatch.DedupeTTL,
	}, logger, applications...)

	var supOpts []session.Option
	if o.dialer != nil {
		supOpts = append(supOpts, session.WithDialer(o.dialer))
	}
	gw.supervisor = session.NewSupervisor(session.Config{
		Endpoint:         cfg.OneBot.Endpoint,
		AccessToken:      cfg.OneBot.AccessToken,
		QueueSize:        cfg.OneBot.QueueSize,
		ReconnectDelay:   cfg.OneBot.ReconnectDelay,
		RequestTimeout:   cfg.OneBot.RequestTimeout,
		SweepInterval:    cfg.OneBot.SweepInterval,
		HandshakeTimeout: cfg.OneBot.HandshakeTimeout,
	}, handle, gw.dispatcher, logger, supOpts...)

	if cfg.Server.HTTPAddr != "" {
		gw.httpServer = &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           gw.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return gw, nil
}

func (g *Gateway) buildApplications(o options, logger *slog.Logger) ([]dispatch.Application, error) {
	cfg := g.config
	list := []dispatch.Application{
		apps.NewLogger(g.client, cfg.Apps.LogGroups, logger),
		apps.NewPing(g.client, g.handle, cfg.Apps.OwnerID, cfg.Apps.MainGroup, logger),
	}

	if cfg.GSCore.Enabled {
		var daemonOpts []gscore.DaemonOption
		if o.gscoreDialer != nil {
			daemonOpts = append(daemonOpts, gscore.WithDaemonDialer(o.gscoreDialer))
		}
		g.gscore = gscore.NewAdapter(gscore.Config{
			Endpoint:      cfg.GSCore.Endpoint,
			BotID:         cfg.GSCore.BotID,
			EnabledGroups: cfg.GSCore.EnabledGroups,
			NodeSender: gscore.NodeSender{
				UserID:   cfg.GSCore.NodeSenderID,
				Nickname: cfg.GSCore.NodeSenderNickname,
			},
			ReconnectDelay: cfg.GSCore.ReconnectDelay,
		}, g.client, logger, daemonOpts...)
		list = append(list, g.gscore)
	}

	if cfg.Matrix.Enabled {
		mirror, err := apps.NewMatrixMirror(apps.MatrixConfig{
			Homeserver:  cfg.Matrix.Homeserver,
			UserID:      cfg.Matrix.UserID,
			AccessToken: cfg.Matrix.AccessToken,
			RoomID:      cfg.Matrix.RoomID,
			Groups:      cfg.Matrix.Groups,
			Rate:        cfg.Matrix.Rate,
		}, logger)
		if err != nil {
			return nil, err
		}
		list = append(list, mirror)
	}

	for _, build := range o.extraApps {
		list = append(list, build(g.client))
	}
	return list, nil
}

// Client returns the action client shared by all applications.
func (g *Gateway) Client() *onebot.Client {
	return g.client
}

// Run starts every component and blocks until ctx is cancelled or the
// health server fails. Returns nil on a clean shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("starting gateway",
		"endpoint", g.config.OneBot.Endpoint,
		"http_addr", g.config.Server.HTTPAddr,
		"gscore", g.config.GSCore.Enabled,
		"matrix", g.config.Matrix.Enabled,
	)

	var ln net.Listener
	if g.httpServer != nil {
		var err error
		ln, err = net.Listen("tcp", g.config.Server.HTTPAddr)
		if err != nil {
			return fmt.Errorf("listening on HTTP address: %w", err)
		}
		g.mu.Lock()
		g.httpAddr = ln.Addr()
		g.mu.Unlock()
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return g.dispatcher.Run(gctx) })
	grp.Go(func() error { return g.supervisor.Launch(gctx) })

	if ln != nil {
		grp.Go(func() error {
			g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
			if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server: %w", err)
			}
			return nil
		})
		grp.Go(func() error {
			<-gctx.Done()
			return g.gracefulShutdown()
		})
	}

	err := grp.Wait()
	if g.gscore != nil {
		g.gscore.Wait()
	}
	g.logger.Info("gateway stopped")

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// gracefulShutdown uses a fresh context since the run context is already cancelled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := g.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}

// HTTPAddr returns the bound health server address once Run has started it.
func (g *Gateway) HTTPAddr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.httpAddr
}

// Status is the body of /health/ready.
type Status struct {
	session.Status
	Uptime string              `json:"uptime"`
	GSCore *bool               `json:"gscore_connected,omitempty"`
	Apps   []dispatch.AppStats `json:"apps"`
}

// Status reports connection state and per-application counters.
func (g *Gateway) Status() Status {
	st := Status{
		Status: g.supervisor.Status(),
		Apps:   g.dispatcher.Stats(),
	}
	st.Uptime = time.Since(g.startedAt).Round(time.Second).String()
	if g.gscore != nil {
		connected := g.gscore.Connected()
		st.GSCore = &connected
	}
	return st
}

// Handler returns the health endpoints.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	return mux
}

// handleHealth returns 200 OK if the process is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 while a backend session is live, 503 otherwise.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	st := g.Status()
	w.Header().Set("Content-Type", "application/json")
	if !st.Connected {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if err := json.NewEncoder(w).Encode(st); err != nil {
		g.logger.Warn("failed to encode status", "error", err)
	}
}
