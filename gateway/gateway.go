// Package gateway accepts websocket connections on /sc2api, classifies each
// peer as supervisor or bot by its handshake headers and routes it: match
// requests go to the coordinator, bot connections to the session awaiting
// that player. A misbehaving handshake closes that one connection and
// nothing else.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"arenaclient/applog"
	"arenaclient/coordinator"
	"arenaclient/metrics"
	"arenaclient/results"
	"arenaclient/transport"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"nhooyr.io/websocket"
)

type Config struct {
	Addr string
	// MaxConns caps raw concurrent connections at the listener (default 64).
	MaxConns int
	// BotJoinTimeout bounds the wait for a bot's first frame (default 30s).
	BotJoinTimeout time.Duration
}

const (
	defaultMaxConns       = 64
	defaultBotJoinTimeout = 30 * time.Second
	shutdownGrace         = 5 * time.Second
)

type Gateway struct {
	cfg   Config
	coord *coordinator.Coordinator
	agg   *results.Aggregator

	mu          sync.Mutex
	addr        string
	supervisors map[string]*supervisorLink

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

func New(cfg Config, coord *coordinator.Coordinator, agg *results.Aggregator) *Gateway {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = defaultMaxConns
	}
	if cfg.BotJoinTimeout <= 0 {
		cfg.BotJoinTimeout = defaultBotJoinTimeout
	}
	return &Gateway{
		cfg:         cfg,
		coord:       coord,
		agg:         agg,
		supervisors: make(map[string]*supervisorLink),
		shutdownCh:  make(chan struct{}),
	}
}

// ShutdownRequested fires when a peer presented the shutdown header.
func (g *Gateway) ShutdownRequested() <-chan struct{} {
	return g.shutdownCh
}

// TriggerShutdown makes ListenAndServe stop accepting and return.
func (g *Gateway) TriggerShutdown() {
	g.shutdownOnce.Do(func() { close(g.shutdownCh) })
}

// Addr is the bound listen address, available once ListenAndServe started.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addr
}

// ListenAndServe blocks until the context is canceled or shutdown is
// triggered.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.cfg.Addr)
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", g.cfg.Addr, err)
	}
	ln = netutil.LimitListener(ln, g.cfg.MaxConns)

	g.mu.Lock()
	g.addr = ln.Addr().String()
	g.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/sc2api", func(w http.ResponseWriter, r *http.Request) {
		g.handleConn(ctx, w, r)
	})
	metrics.Register(mux)

	srv := &http.Server{
		Handler: mux,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
		case <-g.shutdownCh:
		case <-stopped:
			return
		}
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	applog.FromContext(ctx).Info("Gateway listening", zap.String("addr", g.Addr()))

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (g *Gateway) handleConn(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	logger := applog.FromContext(ctx).With(zap.String("remote", r.RemoteAddr))

	if r.Header.Get("shutdown") != "" {
		logger.Info("Shutdown requested by peer")
		g.TriggerShutdown()
		w.WriteHeader(http.StatusOK)
		return
	}

	isSupervisor := r.Header.Get("supervisor") != ""

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		logger.Warn("Websocket accept failed", zap.Error(err))
		metrics.ConnectionsClassified.WithLabelValues("rejected").Inc()
		return
	}
	conn := transport.NewWebsocketConn(ws, r.RemoteAddr)

	if isSupervisor {
		metrics.ConnectionsClassified.WithLabelValues("supervisor").Inc()
		logger.Info("Supervisor connected")
		g.runSupervisor(ctx, conn)
	} else {
		metrics.ConnectionsClassified.WithLabelValues("bot").Inc()
		g.runBot(ctx, logger, conn)
	}
}

func (g *Gateway) registerSupervisor(sessionID string, link *supervisorLink) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.supervisors[sessionID] = link
}

func (g *Gateway) unregisterSupervisor(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.supervisors, sessionID)
}

// notifyBotConnected tells the supervisor that started the session about a
// bot attach.
func (g *Gateway) notifyBotConnected(ctx context.Context, sessionID string) {
	g.mu.Lock()
	link := g.supervisors[sessionID]
	g.mu.Unlock()

	if link != nil {
		_ = link.send(ctx, map[string]string{"Bot": "Connected"})
	}
}
