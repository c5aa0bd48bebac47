package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/nats-io/nats.go"

	"github.com/ArnBdev/OneAgent-sub002/bus"
	"github.com/ArnBdev/OneAgent-sub002/config"
	"github.com/ArnBdev/OneAgent-sub002/conversation"
	"github.com/ArnBdev/OneAgent-sub002/credentials"
	"github.com/ArnBdev/OneAgent-sub002/discovery"
	"github.com/ArnBdev/OneAgent-sub002/heartbeat"
	"github.com/ArnBdev/OneAgent-sub002/llm"
	"github.com/ArnBdev/OneAgent-sub002/logging"
	"github.com/ArnBdev/OneAgent-sub002/matching"
	"github.com/ArnBdev/OneAgent-sub002/mcp"
	"github.com/ArnBdev/OneAgent-sub002/memory"
	"github.com/ArnBdev/OneAgent-sub002/policy"
	"github.com/ArnBdev/OneAgent-sub002/protocol"
	"github.com/ArnBdev/OneAgent-sub002/ratelimit"
	"github.com/ArnBdev/OneAgent-sub002/registry"
	"github.com/ArnBdev/OneAgent-sub002/rpc"
	"github.com/ArnBdev/OneAgent-sub002/shutdown"
	"github.com/ArnBdev/OneAgent-sub002/telemetry"
	"github.com/ArnBdev/OneAgent-sub002/transport"
	"github.com/ArnBdev/OneAgent-sub002/workflow"
)

// shutdownTimeout bounds the whole phased stop.
const shutdownTimeout = 15 * time.Second

// coreCapabilities is what the service itself advertises to discovery.
var coreCapabilities = []registry.Capability{
	{Name: "coordination", Description: "route messages and plan multi-agent tasks", Version: "1.0.0", QualityThreshold: 85, Compliant: true},
	{Name: "conversation-logging", Description: "record and analyse agent conversations", Version: "1.0.0", QualityThreshold: 85, Compliant: true},
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func runServe(ctx context.Context, cfg *config.Config, configPath string) error {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)

	logger := logging.New()
	logger.SetLevel(logging.ParseLevel(cfg.Log.Level))

	creds, credPath, err := credentials.Load()
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	srv, err := newServer(ctx, cfg, creds, logger)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Protocol.Listen)
	if err != nil {
		srv.coord.Shutdown(context.Background())
		return fmt.Errorf("listening on %s: %w", cfg.Protocol.Listen, err)
	}

	printStatus(cfg, configPath, credPath, ln.Addr().String())
	logger.Info("oneagent_started", map[string]interface{}{
		"agent":  cfg.Protocol.AgentID,
		"listen": ln.Addr().String(),
		"bus":    cfg.Bus.Backend,
	})

	return srv.serve(ctx, ln)
}

func printStatus(cfg *config.Config, configPath, credPath, addr string) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	line := func(label, value string) {
		green.Print("    ▶ ")
		fmt.Printf("%-12s %s\n", label+":", value)
	}

	if configPath == "" {
		configPath = "(defaults)"
	}
	line("Config", configPath)
	if credPath != "" {
		line("Credentials", credPath)
	}
	line("Agent", cfg.Protocol.AgentID)
	line("RPC", "http://"+addr+"/rpc")
	if cfg.Protocol.Events {
		line("Events", "http://"+addr+"/events")
	}
	if cfg.Telemetry.Metrics {
		line("Metrics", "http://"+addr+cfg.Telemetry.MetricsPath)
	}

	green.Print("    ▶ ")
	fmt.Printf("%-12s %s", "Bus:", cfg.Bus.Backend)
	if cfg.Bus.Backend == config.BackendNATS {
		gray.Printf(" (%s)", cfg.Bus.URL)
	}
	fmt.Println()

	line("Registry", cfg.Registry.Backend)
	line("Memory", cfg.Memory.Backend)

	green.Print("    ▶ ")
	fmt.Printf("%-12s %s", "Generator:", cfg.LLM.Provider)
	if cfg.LLM.Provider == "" || cfg.LLM.Provider == "stub" {
		yellow.Print(" [stub]")
	}
	if cfg.LLM.RequestsPerMinute > 0 {
		gray.Printf(" (%d/min)", cfg.LLM.RequestsPerMinute)
	}
	fmt.Println()
	fmt.Println()
}

// server holds the assembled service.
type server struct {
	cfg       *config.Config
	logger    *logging.Logger
	bus       bus.MessageBus
	proto     *protocol.Service
	discovery *discovery.Service
	monitor   *heartbeat.Monitor
	workflow  *workflow.Engine
	handler   http.Handler
	coord     *shutdown.Coordinator
}

// newServer builds every component from cfg. Components started before a
// failure are stopped before the error is returned.
func newServer(ctx context.Context, cfg *config.Config, creds *credentials.Credentials, logger *logging.Logger) (s *server, err error) {
	coord := shutdown.NewCoordinator(shutdownTimeout, logger)
	s = &server{cfg: cfg, logger: logger, coord: coord}
	defer func() {
		if err != nil {
			coord.Shutdown(context.Background())
		}
	}()

	// Components outlive the request context; the coordinator stops them.
	bg := context.WithoutCancel(ctx)

	var tracer *telemetry.Tracer
	if cfg.Telemetry.Tracing {
		p, err := telemetry.InitProvider(ctx, cfg.Tracing(version))
		if err != nil {
			return nil, fmt.Errorf("starting tracing: %w", err)
		}
		tracer = p.Tracer()
		s.coord.Register("tracing", shutdown.PhaseTransport, p.Shutdown)
	}

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Metrics {
		metrics = telemetry.NewMetrics()
	}

	b, conn, err := openBus(cfg, creds)
	if err != nil {
		return nil, err
	}
	s.bus = b
	s.coord.Register("bus", shutdown.PhaseTransport, func(context.Context) error {
		err := b.Close()
		if conn != nil {
			if derr := conn.Drain(); derr != nil && err == nil {
				err = derr
			}
		}
		return err
	})

	store, err := openRegistry(cfg, conn)
	if err != nil {
		return nil, err
	}
	s.coord.Register("registry", shutdown.PhaseStorage, func(context.Context) error { return store.Close() })

	pol := policy.New()
	if cfg.Policy.File != "" {
		if pol, err = policy.LoadFile(cfg.Policy.File); err != nil {
			return nil, fmt.Errorf("loading policy: %w", err)
		}
	}

	gen, err := s.openGenerator(cfg, creds, b)
	if err != nil {
		return nil, err
	}

	convOpts := []conversation.Option{conversation.WithLogger(logger)}
	archive, err := openMemory(cfg, creds)
	if err != nil {
		return nil, err
	}
	if archive != nil {
		s.coord.Register("memory", shutdown.PhaseStorage, func(context.Context) error { return archive.Close() })
		convOpts = append(convOpts, conversation.WithArchiver(memory.NewArchiver(archive, cfg.Memory.UserID)))
	}

	var matcher matching.Matcher = matching.Keyword{}
	if cfg.Protocol.Matcher == config.MatcherBleve {
		matcher = matching.NewBleve("")
	}

	s.proto = protocol.New(protocol.Options{
		Store:              store,
		Matcher:            matcher,
		ContentPolicy:      pol.Content,
		RegistrationPolicy: pol.Registration,
		Generator:          gen,
		Conversations:      conversation.NewManager(convOpts...),
		Logger:             logger,
		Metrics:            metrics,
		Tracer:             tracer,
		QualityThreshold:   cfg.Protocol.QualityThreshold,
		NarrateAnalysis:    cfg.Protocol.NarrateAnalysis,
	})

	s.workflow = workflow.New(s.proto, workflow.Config{Logger: logger, Metrics: metrics})
	s.proto.Observe(s.workflow)

	mux := http.NewServeMux()

	if cfg.Protocol.Events {
		hub := transport.NewHub(transport.DefaultHubConfig())
		s.proto.Observe(rpc.NewEventPublisher(hub, logger))
		mux.Handle("/events", hub)
		s.coord.Register("events", shutdown.PhaseIngress, func(context.Context) error { return hub.Close() })
	}

	interval := cfg.Membership.HeartbeatInterval.Std()
	s.monitor, err = heartbeat.NewMonitor(heartbeat.MonitorConfig{
		Bus:        b,
		Interval:   interval,
		Multiplier: cfg.Membership.DeadMultiplier,
		Logger:     logger.WithComponent("heartbeat"),
		Metrics:    metrics,
	})
	if err != nil {
		return nil, err
	}
	s.monitor.OnHeartbeat(func(agentID string, load float64) {
		s.recordHeartbeat(bg, agentID, load)
	})
	if err := s.monitor.Start(bg); err != nil {
		return nil, fmt.Errorf("starting liveness monitor: %w", err)
	}
	s.coord.Register("monitor", shutdown.PhaseMembership, func(context.Context) error {
		if err := s.monitor.Stop(); err != nil && !errors.Is(err, heartbeat.ErrNotStarted) {
			return err
		}
		return nil
	})

	s.discovery, err = discovery.New(discovery.Config{
		Self: registry.AgentRegistration{
			AgentID:      cfg.Protocol.AgentID,
			AgentType:    "core",
			Capabilities: coreCapabilities,
			Endpoint:     "http://" + advertised(cfg.Protocol.Listen) + "/rpc",
			Status:       registry.StatusOnline,
			QualityScore: 100,
		},
		Bus:               b,
		Directory:         store,
		Timeout:           cfg.Membership.DiscoveryTimeout.Std(),
		HeartbeatInterval: interval,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}
	if err := s.discovery.RespondToDiscovery(bg, coreCapabilities); err != nil {
		return nil, fmt.Errorf("answering discovery: %w", err)
	}
	s.coord.Register("discovery", shutdown.PhaseMembership, s.discovery.Shutdown)

	h, err := rpc.NewHandler(rpc.Config{
		Protocol:  s.proto,
		Discovery: s.discovery,
		Workflow:  s.workflow,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	mux.Handle("/rpc", transport.NewServer(h))
	mux.HandleFunc("/healthz", s.healthz)
	if metrics != nil {
		mux.Handle(cfg.Telemetry.MetricsPath, metrics.Handler())
	}

	s.handler = mux
	return s, nil
}

// recordHeartbeat refreshes a registered agent's load and status from a
// bus heartbeat. Liveness stays with the monitor: a silent agent is
// reported dead but never unregistered here.
func (s *server) recordHeartbeat(ctx context.Context, agentID string, load float64) {
	if agentID == s.cfg.Protocol.AgentID {
		return
	}
	if err := s.proto.RecordHeartbeat(ctx, agentID, load); err != nil {
		s.logger.Debug("heartbeat_not_recorded", map[string]interface{}{
			"agent": agentID,
			"error": err.Error(),
		})
	}
}

// serve accepts on ln until ctx is done or the server fails, then runs the
// phased shutdown.
func (s *server) serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.coord.Register("http", shutdown.PhaseIngress, httpSrv.Shutdown)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	res := s.coord.Shutdown(sctx)
	s.logger.Info("oneagent_stopped", map[string]interface{}{
		"duration": res.Duration.String(),
		"failed":   strings.Join(res.Failed(), ","),
	})

	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return res.Err
}

func (s *server) healthz(w http.ResponseWriter, r *http.Request) {
	h, err := s.proto.NetworkHealth(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "health": h})
}

func openBus(cfg *config.Config, creds *credentials.Credentials) (bus.MessageBus, *nats.Conn, error) {
	if cfg.Bus.Backend != config.BackendNATS {
		return bus.NewMemoryBus(bus.Config{BufferSize: cfg.Bus.BufferSize}), nil, nil
	}
	natsCfg := cfg.NATS()
	if natsCfg.Token == "" && natsCfg.User == "" {
		natsCfg.Token = creds.Secret("nats")
	}
	conn, err := bus.Connect(natsCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to %s: %w", natsCfg.URL, err)
	}
	return bus.NewNATSBusFromConn(conn, natsCfg), conn, nil
}

func openRegistry(cfg *config.Config, conn *nats.Conn) (registry.Store, error) {
	if cfg.Registry.Backend != config.BackendNATS {
		return registry.NewMemoryStore(), nil
	}
	store, err := registry.NewNATSStore(conn, cfg.NATSStore())
	if err != nil {
		return nil, fmt.Errorf("opening registry bucket: %w", err)
	}
	return store, nil
}

// openGenerator builds the generator, resolving its key from credentials
// when the config leaves it empty, and throttles it when configured.
func (s *server) openGenerator(cfg *config.Config, creds *credentials.Credentials, b bus.MessageBus) (llm.Generator, error) {
	gcfg := cfg.Generator()
	provider := strings.ToLower(gcfg.Provider)
	if gcfg.APIKey == "" && provider != "" && provider != "stub" {
		gcfg.APIKey = creds.Secret(provider)
	}

	gen, err := llm.New(gcfg)
	if err != nil {
		return nil, fmt.Errorf("creating %s generator: %w", gcfg.Provider, err)
	}
	if c, ok := gen.(io.Closer); ok {
		s.coord.Register("generator", shutdown.PhaseStorage, func(context.Context) error { return c.Close() })
	}

	if cfg.LLM.RequestsPerMinute <= 0 {
		return gen, nil
	}
	limiter, err := ratelimit.NewShared(ratelimit.SharedConfig{
		Bus:     b,
		AgentID: cfg.Protocol.AgentID,
		Logger:  s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating rate limiter: %w", err)
	}
	limiter.SetCapacity(provider, cfg.LLM.RequestsPerMinute, time.Minute)
	s.coord.Register("ratelimit", shutdown.PhaseMembership, func(context.Context) error { return limiter.Close() })
	return llm.Throttle(gen, limiter, provider), nil
}

// openMemory opens the conversation archive, or returns nil for the none
// backend.
func openMemory(cfg *config.Config, creds *credentials.Credentials) (memory.Store, error) {
	switch cfg.Memory.Backend {
	case config.BackendMemory:
		return memory.NewInMemoryStore(), nil
	case config.BackendSQLite:
		store, err := memory.NewSQLiteStore(cfg.Memory.Path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite memory: %w", err)
		}
		return store, nil
	case config.BackendBleve:
		store, err := memory.NewBleveStore(memory.BleveStoreConfig{BasePath: cfg.Memory.Path})
		if err != nil {
			return nil, fmt.Errorf("opening bleve memory: %w", err)
		}
		return store, nil
	case config.BackendRPC:
		token := cfg.Memory.Token
		if token == "" {
			token = creds.Secret("memory")
		}
		client, err := mcp.NewHTTPClient(mcp.Config{
			URL:           cfg.Memory.URL,
			Token:         token,
			Timeout:       cfg.Memory.Timeout.Std(),
			ClientName:    "oneagent",
			ClientVersion: version,
		})
		if err != nil {
			return nil, fmt.Errorf("creating memory client: %w", err)
		}
		return memory.NewRPCStore(client), nil
	}
	return nil, nil
}

// advertised turns a listen address like ":8083" into a dialable one.
func advertised(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
