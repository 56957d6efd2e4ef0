package testweb

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/weaveworks/promrus"
	"golang.org/x/sync/errgroup"

	"github.com/testweb/testweb/internal/common"
	commonconfig "github.com/testweb/testweb/internal/common/config"
	"github.com/testweb/testweb/internal/common/serve"
	"github.com/testweb/testweb/internal/testweb/backend"
	"github.com/testweb/testweb/internal/testweb/configuration"
	"github.com/testweb/testweb/internal/testweb/metrics"
	"github.com/testweb/testweb/internal/testweb/orchestrator"
	"github.com/testweb/testweb/internal/testweb/push"
	"github.com/testweb/testweb/internal/testweb/repository"
	"github.com/testweb/testweb/internal/testweb/server"
)

type App struct {
	Config *configuration.TestWebConfiguration
}

func New(config *configuration.TestWebConfiguration) *App {
	return &App{Config: config}
}

// LoadConfiguration merges the given files over the built-in defaults, applies
// TESTWEB_* environment overrides and validates the result.
func LoadConfiguration(configFiles []string) (*configuration.TestWebConfiguration, error) {
	var config configuration.TestWebConfiguration
	if _, err := common.LoadConfig(&config, configuration.DefaultConfig, configFiles); err != nil {
		return nil, err
	}
	if err := commonconfig.Validate(config); err != nil {
		return nil, err
	}
	return &config, nil
}

// NewOrchestrator wires an orchestrator from the configuration. registerer may be nil.
func (a *App) NewOrchestrator(ctx context.Context, registerer prometheus.Registerer) (*orchestrator.Orchestrator, error) {
	store, err := repository.NewStore(ctx, a.Config.Persistence)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening %s store", a.Config.Persistence.Backend)
	}

	client := backend.NewClient(a.Config.Backend, backend.DefaultRegistry())
	deps := orchestrator.Dependencies{
		Backend:  client,
		Registry: client.Registry(),
		Store:    store,
	}
	if a.Config.Push.Enabled {
		deps.Watcher = push.NewWatcher(a.Config.Push)
	}
	if registerer != nil {
		deps.Metrics = metrics.New(registerer)
	}

	o, err := orchestrator.New(ctx, *a.Config, deps)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return o, nil
}

// StartUp serves the HTTP API until ctx is cancelled, then shuts the orchestrator down.
func (a *App) StartUp(ctx context.Context) error {
	logger := log.WithField("component", "testweb")
	g, ctx := errgroup.WithContext(ctx)

	var registerer prometheus.Registerer
	var metricsHandler http.Handler
	if a.Config.MetricsEnabled {
		hook, err := promrus.NewPrometheusHook()
		if err != nil {
			return errors.Wrap(err, "error registering log metrics")
		}
		log.AddHook(hook)
		registerer = prometheus.DefaultRegisterer
		metricsHandler = promhttp.Handler()
	}

	o, err := a.NewOrchestrator(ctx, registerer)
	if err != nil {
		return err
	}
	logger.Infof("Test-Web orchestrator ready, backend %s", a.Config.Backend.BaseUrl)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.HttpPort),
		Handler: server.NewRouter(o, metricsHandler),
	}
	g.Go(func() error {
		return serve.ListenAndServe(ctx, httpServer)
	})

	err = g.Wait()
	logger.Info("Shutting down")
	if closeErr := o.Close(context.Background()); closeErr != nil {
		logger.WithError(closeErr).Warn("Orchestrator did not shut down cleanly")
	}
	return err
}
