// Package server orchestrates all components: COMMS client, classification store, dispatch
// pipeline, dispatcher and the HTTP health endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/morezero/message-relay/internal/config"
	"github.com/morezero/message-relay/internal/logging"
	"github.com/morezero/message-relay/pkg/bootstrap"
	"github.com/morezero/message-relay/pkg/classify"
	"github.com/morezero/message-relay/pkg/clients"
	"github.com/morezero/message-relay/pkg/commsutil"
	"github.com/morezero/message-relay/pkg/db"
	"github.com/morezero/message-relay/pkg/dispatcher"
	"github.com/morezero/message-relay/pkg/events"
	"github.com/morezero/message-relay/pkg/metrics"
	"github.com/morezero/message-relay/pkg/relay"
	"github.com/morezero/message-relay/pkg/signer"
)

const logPrefix = "server:server"

// Server is the message-relay orchestrator.
type Server struct {
	cfg        *config.Config
	topology   *bootstrap.ResolvedTopology
	nc         *comms.Conn
	pool       *pgxpool.Pool
	classifier *classify.Classifier
	disp       *dispatcher.Dispatcher
	sub        *comms.Subscription
	httpServer *http.Server
	listener   net.Listener
	logger     *slog.Logger

	// Relay requests run on their own goroutines under baseCtx. Once closing is set no
	// new request is accepted, and Shutdown waits on inflight.
	baseCtx    context.Context
	cancelBase context.CancelFunc
	mu         sync.Mutex
	closing    bool
	inflight   sync.WaitGroup
}

// Run loads configuration, starts the server, blocks until a shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	logging.Init(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	slog.Info(fmt.Sprintf("%s - Starting message-relay", logPrefix))

	topology, err := bootstrap.LoadTopology(cfg.BootstrapFile)
	if err != nil {
		return fmt.Errorf("%s - failed to load topology: %w", logPrefix, err)
	}
	resolved := bootstrap.CreateResolvedTopology(topology)
	cfg.ApplyTopology(resolved)
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := New(ctx, cfg, resolved)
	if err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		s.Shutdown(ctx)
		return err
	}

	slog.Info(fmt.Sprintf("%s - message-relay is ready", logPrefix))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HealthCheckTimeout)
	defer shutdownCancel()
	s.Shutdown(shutdownCtx)

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// New connects to COMMS and the classification store and wires the dispatch pipeline.
// cfg must already carry topology defaults. Nothing is subscribed until Start.
func New(ctx context.Context, cfg *config.Config, topology *bootstrap.ResolvedTopology) (*Server, error) {
	if topology == nil {
		topology = bootstrap.CreateResolvedTopology(bootstrap.GetDefaultTopology())
	}
	s := &Server{cfg: cfg, topology: topology, logger: logging.New("relay")}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName, commsutil.ConnectOptions{NkeySeed: cfg.COMMSNkeySeed})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}
	s.nc = nc

	store, err := s.openStore(ctx)
	if err != nil {
		nc.Close()
		s.cancelBase()
		return nil, err
	}

	if err := s.wire(store); err != nil {
		s.closeResources()
		return nil, err
	}
	return s, nil
}

// openStore returns the Postgres-backed store when DATABASE_URL is set and the in-memory
// store otherwise.
func (s *Server) openStore(ctx context.Context) (classify.Store, error) {
	if s.cfg.DatabaseURL == "" {
		s.logger.Warn(fmt.Sprintf("%s - DATABASE_URL not set, classifications are kept in memory", logPrefix))
		return classify.NewMemoryStore(), nil
	}

	if err := db.EnsureDatabase(ctx, s.cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("%s - failed to ensure database: %w", logPrefix, err)
	}
	pool, err := db.NewPool(ctx, s.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}

	if s.cfg.RunMigrations {
		files, source, err := db.LoadMigrations(s.cfg.MigrationPath)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
		}
		if err := db.RunMigrations(ctx, pool, files); err != nil {
			pool.Close()
			return nil, fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
		}
		s.logger.Info(fmt.Sprintf("%s - Applied %d migration(s) from %s", logPrefix, len(files), source))
	}

	s.pool = pool
	return db.NewClassificationRepository(pool), nil
}

// wire builds the upstream clients, classifier, pipeline and dispatcher.
func (s *Server) wire(store classify.Store) error {
	cfg := s.cfg
	hc := &http.Client{Timeout: cfg.UpstreamTimeout}
	timer := metrics.UpstreamTimer()

	gateway, err := clients.NewGatewayClient(clients.NewGatewayClientParams{
		GatewayURL:  cfg.GatewayURL,
		UploaderURL: cfg.UploaderURL,
		HTTPClient:  hc,
		ProbeRate:   cfg.GatewayProbeRate,
		Logger:      logging.New("gateway"),
	})
	if err != nil {
		return err
	}
	scheduler, err := clients.NewSchedulerClient(cfg.SchedulerRouterURL, hc, logging.New("scheduler"))
	if err != nil {
		return err
	}
	cu, err := clients.NewCUClient(clients.NewCUClientParams{
		Nodes:             cfg.CUURLs,
		VersionConstraint: cfg.CUVersionConstraint,
		HTTPClient:        hc,
		Logger:            logging.New("cu"),
	})
	if err != nil {
		return err
	}
	sig, err := signer.NewSigner(cfg.SignerSeed, logging.New("signer"))
	if err != nil {
		return err
	}

	classifier, err := classify.NewClassifier(classify.NewClassifierParams{
		Store:       store,
		Prober:      gateway,
		ExcludedIDs: s.topology.KnownProcessIDs(),
		Retry:       cfg.ProbeRetryPolicy(),
		Timer:       timer,
		Logger:      logging.New("classify"),
	})
	if err != nil {
		return err
	}
	s.classifier = classifier

	pipeline, err := relay.NewPipeline(relay.Deps{
		Classifier: classifier,
		Locator:    scheduler,
		Builder:    sig,
		Writer:     clients.Transport{SchedulerClient: scheduler, GatewayClient: gateway},
		Selector:   cu,
		Fetcher:    cu,
		Timer:      timer,
		Logger:     s.logger,
	})
	if err != nil {
		return err
	}

	publisher := events.NewCommsPublisher(s.nc, &events.CommsPublisherOpts{EvaluationSubject: cfg.EvaluationSubject})

	s.disp = dispatcher.NewDispatcher(dispatcher.NewDispatcherParams{
		Pipeline:     pipeline,
		Classifier:   classifier,
		Publisher:    publisher,
		HealthChecks: s.healthChecks(),
		Logger:       logging.New("dispatcher"),
	})
	s.logger.Info(fmt.Sprintf("%s - Signing as %s, %d evaluation node(s)", logPrefix, sig.Owner(), len(cfg.CUURLs)))
	return nil
}

func (s *Server) healthChecks() map[string]dispatcher.HealthCheck {
	checks := map[string]dispatcher.HealthCheck{
		"comms": func(context.Context) error {
			if !s.nc.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		},
	}
	if s.pool != nil {
		checks["store"] = func(ctx context.Context) error {
			return s.pool.Ping(ctx)
		}
	}
	return checks
}

// Start subscribes to the relay subject and starts the HTTP endpoint.
func (s *Server) Start() error {
	subject := s.cfg.RelaySubject
	if subject == "" {
		subject = commsutil.SubjectRelay
	}
	sub, err := s.nc.Subscribe(subject, s.acceptRequest)
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, subject, err)
	}
	s.sub = sub
	s.logger.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, subject))

	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("%s - failed to listen on %s: %w", logPrefix, s.cfg.ListenAddr(), err)
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		s.logger.Info(fmt.Sprintf("%s - HTTP health server listening on %s", logPrefix, ln.Addr()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()
	return nil
}

// Addr returns the HTTP listen address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// acceptRequest hands msg to its own goroutine so slow dispatches do not hold up the
// subscription's delivery loop.
func (s *Server) acceptRequest(msg *comms.Msg) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		s.logger.Warn(fmt.Sprintf("%s - shutting down, dropping request on %s", logPrefix, msg.Subject))
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.inflight.Done()
		s.handleRequest(msg)
	}()
}

// handleRequest decodes one relay request, dispatches it under the request timeout and
// responds when the caller supplied a reply subject.
func (s *Server) handleRequest(msg *comms.Msg) {
	var req dispatcher.RelayRequest
	if err := commsutil.DecodePayload(msg.Data, &req); err != nil {
		s.logger.Error(fmt.Sprintf("%s - failed to decode request: %v", logPrefix, err))
		s.respond(msg, &dispatcher.RelayResponse{
			Ok: false,
			Error: &dispatcher.ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: "Failed to decode request",
			},
		})
		return
	}

	ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.RequestTimeout)
	defer cancel()

	s.respond(msg, s.disp.Dispatch(ctx, &req))
}

func (s *Server) respond(msg *comms.Msg, resp *dispatcher.RelayResponse) {
	if msg.Reply == "" {
		return
	}
	data, err := commsutil.EncodePayload(resp)
	if err != nil {
		s.logger.Error(fmt.Sprintf("%s - failed to encode response: %v", logPrefix, err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn(fmt.Sprintf("%s - failed to respond: %v", logPrefix, err))
	}
}

// Handler returns the HTTP mux serving /health, /ready and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()
		h := s.disp.Health(ctx)
		w.Header().Set("Content-Type", "application/json")
		if h.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if s.sub == nil || !s.sub.IsValid() {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "starting"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Shutdown stops accepting requests, waits for in-flight dispatches until ctx expires,
// drains COMMS and closes the store. Dispatches still running at the deadline are cancelled.
func (s *Server) Shutdown(ctx context.Context) {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Warn(fmt.Sprintf("%s - unsubscribe: %v", logPrefix, err))
		}
	}
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.waitInflight(ctx)

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
		}
	}
	s.closeResources()
}

func (s *Server) waitInflight(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn(fmt.Sprintf("%s - in-flight requests still running at shutdown deadline, cancelling", logPrefix))
		if s.cancelBase != nil {
			s.cancelBase()
		}
		<-done
	}
}

func (s *Server) closeResources() {
	if s.cancelBase != nil {
		defer s.cancelBase()
	}
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			s.nc.Close()
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}
