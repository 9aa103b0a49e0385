package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	appsession "glass-server-go/internal/app/session"
	"glass-server-go/internal/contracts/providers"
	"glass-server-go/internal/domain/eventbus"
	"glass-server-go/internal/domain/interpret"
	"glass-server-go/internal/domain/reasoning"
	"glass-server-go/internal/domain/speech"
	"glass-server-go/internal/domain/vision"
	platformconfig "glass-server-go/internal/platform/config"
	platformerrors "glass-server-go/internal/platform/errors"
	platformlogging "glass-server-go/internal/platform/logging"
	platformobservability "glass-server-go/internal/platform/observability"
	platformstorage "glass-server-go/internal/platform/storage"
	httptransport "glass-server-go/internal/transport/http"
	mcptransport "glass-server-go/internal/transport/mcp"
	mqtttransport "glass-server-go/internal/transport/mqtt"
	"glass-server-go/internal/transport/ws"
)

const (
	eventWorkers    = 4
	shutdownTimeout = 15 * time.Second
)

// Options tune how Run loads its configuration.
type Options struct {
	// ConfigPath pins the YAML file. Empty searches the default locations.
	ConfigPath string
	// Getenv overrides environment lookup.
	Getenv func(string) string
	// DisableDotEnv skips loading .env.
	DisableDotEnv bool
}

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	opts                  Options
	config                *platformconfig.Config
	configPath            string
	logger                *platformlogging.Logger
	observabilityShutdown platformobservability.ShutdownFunc
	db                    *gorm.DB
	descriptions          interpret.Store
	registry              *providers.Registry
	vision                providers.VisionProvider
	reasoning             providers.ReasoningProvider
	speech                providers.SpeechProvider
	bus                   *eventbus.Bus
	session               *appsession.Session
}

// Run boots the server and blocks until ctx is cancelled, a termination
// signal arrives, or a transport fails.
func Run(ctx context.Context, opts Options) error {
	state := &appState{opts: opts}
	defer state.close()

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		return err
	}
	logger := state.logger
	logBootstrapGraph(steps, logger)

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(signalCtx)
	if err := startServices(state, group, groupCtx); err != nil {
		return err
	}
	logger.InfoTag("Bootstrap", "%s started", state.config.Server.Name)

	return waitForShutdown(signalCtx, groupCtx, logger, group)
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	logger.InfoTag("Bootstrap", "init graph")
	for _, step := range steps {
		if len(step.DependsOn) == 0 {
			logger.InfoTag("Bootstrap", "  %s: %s", step.ID, step.Title)
			continue
		}
		logger.InfoTag("Bootstrap", "  %s: %s (after %s)", step.ID, step.Title, strings.Join(step.DependsOn, ", "))
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "execute init steps", "nil bootstrap state")
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(platformerrors.KindBootstrap, step.ID, "missing execute function")
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}
			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "Setup observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "storage:init-descriptions",
			Title:     "Initialise description store",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initDescriptionStoreStep,
		},
		{
			ID:        "providers:init",
			Title:     "Initialise model providers",
			DependsOn: []string{"logging:init-provider"},
			Execute:   initProvidersStep,
		},
		{
			ID:        "eventbus:init",
			Title:     "Initialise event bus",
			DependsOn: []string{"logging:init-provider"},
			Execute:   initEventBusStep,
		},
		{
			ID:        "session:init",
			Title:     "Initialise camera session",
			DependsOn: []string{"storage:init-descriptions", "providers:init", "eventbus:init"},
			Kind:      platformerrors.KindDomain,
			Execute:   initSessionStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	loader := platformconfig.NewLoader().
		WithDotEnv(!state.opts.DisableDotEnv).
		WithPath(state.opts.ConfigPath).
		WithEnv(state.opts.Getenv)
	res, err := loader.Load()
	if err != nil {
		return err
	}
	state.config = res.Config
	state.configPath = res.Path
	if state.configPath == "" {
		state.configPath = "defaults"
	}
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}
	state.logger = logger
	logger.InfoTag("Bootstrap", "logging ready [%s] config=%s", state.config.Log.Level, state.configPath)
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	cfg := platformobservability.Config{
		Enabled: strings.EqualFold(state.config.Log.Level, "debug"),
	}
	shutdown, err := platformobservability.Setup(ctx, cfg, state.logger.Slog())
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup-hooks", "failed to setup observability hooks", err)
	}
	state.observabilityShutdown = shutdown
	return nil
}

func initDescriptionStoreStep(_ context.Context, state *appState) error {
	cacheCfg := state.config.Cache
	driver := strings.ToLower(strings.TrimSpace(cacheCfg.Driver))
	storeCfg := interpret.StoreConfig{
		Driver:     driver,
		TTL:        cacheCfg.TTL,
		GCInterval: cacheCfg.Cleanup,
	}

	var deps interpret.Dependencies
	switch driver {
	case interpret.DriverSQLite:
		db, err := platformstorage.Open(cacheCfg.SQLite.DSN)
		if err != nil {
			return err
		}
		state.db = db
		deps.SQLiteDB = db
	case interpret.DriverRedis:
		storeCfg.Redis = &interpret.RedisConfig{
			Addr:     cacheCfg.Redis.Addr,
			Username: cacheCfg.Redis.Username,
			Password: cacheCfg.Redis.Password,
			DB:       cacheCfg.Redis.DB,
			Prefix:   cacheCfg.Redis.Prefix,
		}
	}

	store, err := interpret.NewStore(storeCfg, deps)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "storage:init-descriptions", "failed to create description store", err)
	}
	state.descriptions = store
	if driver == "" {
		driver = interpret.DriverMemory
	}
	state.logger.InfoTag("Bootstrap", "description store: %s", driver)
	return nil
}

func initProvidersStep(_ context.Context, state *appState) error {
	reg := providers.NewRegistry()
	for _, register := range []func(*providers.Registry) error{vision.Register, reasoning.Register, speech.Register} {
		if err := register(reg); err != nil {
			return err
		}
	}
	state.registry = reg

	cfg := state.config
	v, err := reg.NewVision(cfg.Selected.Vision, cfg.SelectedVision())
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindVision, "providers:init", "failed to create vision provider", err)
	}
	state.vision = v

	r, err := reg.NewReasoning(cfg.Selected.Reasoning, cfg.SelectedReasoning())
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindReasoning, "providers:init", "failed to create reasoning provider", err)
	}
	state.reasoning = r

	if sc, ok := cfg.SelectedSpeech(); ok {
		sp, err := reg.NewSpeech(cfg.Selected.Speech, sc)
		if err != nil {
			return platformerrors.Wrap(platformerrors.KindSpeech, "providers:init", "failed to create speech provider", err)
		}
		state.speech = sp
	}

	state.logger.InfoTag("Bootstrap", "providers: vision=%s reasoning=%s speech=%s",
		cfg.Selected.Vision, cfg.Selected.Reasoning, cfg.Selected.Speech)
	return nil
}

func initEventBusStep(_ context.Context, state *appState) error {
	state.bus = eventbus.New(eventWorkers, state.logger)
	return eventbus.SetupEventHandlers(state.bus, eventbus.NewLogHandler(state.logger))
}

func initSessionStep(_ context.Context, state *appState) error {
	s, err := appsession.New(appsession.Options{
		Config:    state.config,
		Logger:    state.logger,
		Bus:       state.bus,
		Vision:    state.vision,
		Reasoning: state.reasoning,
		Speech:    state.speech,
		Store:     state.descriptions,
	})
	if err != nil {
		return err
	}
	state.session = s
	return nil
}

type transports struct {
	ws   *ws.Server
	mqtt *mqtttransport.Bridge
}

func startServices(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	cfg := state.config
	logger := state.logger
	var t transports

	if cfg.Transport.WebSocket.Enabled {
		t.ws = ws.NewServer(ws.ServerConfig{
			Addr:  net.JoinHostPort(cfg.Transport.WebSocket.IP, strconv.Itoa(cfg.Transport.WebSocket.Port)),
			Token: cfg.Server.Token,
		}, logger)
		t.ws.SetDeviceBuilder(ws.DeviceBuilder(state.session, logger))
		t.ws.SetViewerBuilder(ws.ViewerBuilder(state.session, logger))
		g.Go(func() error {
			return wrapTransport("websocket", t.ws.Start(groupCtx))
		})
	}

	if cfg.Transport.MQTT.Enabled {
		client := mqtttransport.NewClient(cfg.Transport.MQTT, logger)
		t.mqtt = mqtttransport.NewBridge(client, cfg.Transport.MQTT, state.session, logger)
		g.Go(func() error {
			return wrapTransport("mqtt", t.mqtt.Start(groupCtx))
		})
	}

	if cfg.Web.Enabled {
		srv, err := httptransport.NewServer(httptransport.ServerOptions{
			Config:     cfg,
			Logger:     logger,
			App:        state.session,
			Components: t.components(),
		})
		if err != nil {
			return platformerrors.Wrap(platformerrors.KindTransport, "http:new-server", "failed to create http server", err)
		}
		g.Go(func() error {
			return wrapTransport("http", srv.Start(groupCtx))
		})
	}

	if cfg.MCP.Enabled {
		srv, err := mcptransport.NewServer(state.session, cfg.MCP, cfg.Server.Name, logger)
		if err != nil {
			return platformerrors.Wrap(platformerrors.KindTransport, "mcp:new-server", "failed to create mcp server", err)
		}
		g.Go(func() error {
			return wrapTransport("mcp", srv.Start(groupCtx))
		})
	}
	return nil
}

func (t transports) components() map[string]httptransport.StatusFunc {
	out := make(map[string]httptransport.StatusFunc)
	if t.ws != nil {
		out["websocket"] = func() any {
			devices, viewers := t.ws.Counts()
			return map[string]int{"devices": devices, "viewers": viewers}
		}
	}
	if t.mqtt != nil {
		out["mqtt"] = func() any {
			return map[string]any{"devices": t.mqtt.Devices()}
		}
	}
	return out
}

func wrapTransport(name string, err error) error {
	if err == nil {
		return nil
	}
	return platformerrors.Wrap(platformerrors.KindTransport, name, "transport stopped", err)
}

// waitForShutdown returns once a signal arrives or a transport fails, then
// waits for the remaining transports to drain.
func waitForShutdown(signalCtx, groupCtx context.Context, logger *platformlogging.Logger, g *errgroup.Group) error {
	select {
	case <-signalCtx.Done():
		logger.InfoTag("Bootstrap", "shutting down: %v", context.Cause(signalCtx))
	case <-groupCtx.Done():
		logger.WarnTag("Bootstrap", "a transport stopped, shutting down")
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("Bootstrap", "shutdown with error: %v", err)
			return err
		}
		logger.InfoTag("Bootstrap", "all services stopped")
		return nil
	case <-time.After(shutdownTimeout):
		logger.ErrorTag("Bootstrap", "shutdown timed out")
		return platformerrors.New(platformerrors.KindBootstrap, "shutdown", "timed out waiting for services")
	}
}

// close releases everything the init steps created, in reverse order.
func (s *appState) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.session != nil {
		_ = s.session.Close()
	}
	if s.bus != nil {
		s.bus.Close()
	}
	for _, p := range []providers.BaseProvider{s.speech, s.reasoning, s.vision} {
		if p != nil {
			_ = p.Close()
		}
	}
	if s.descriptions != nil {
		if err := s.descriptions.Close(ctx); err != nil {
			s.logger.WarnTag("Bootstrap", "description store close: %v", err)
		}
	}
	if s.db != nil {
		_ = platformstorage.Close(s.db)
	}
	if s.observabilityShutdown != nil {
		_ = s.observabilityShutdown(ctx)
	}
	if s.logger != nil {
		_ = s.logger.Close()
	}
}
