package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/entrhq/renewal/pkg/browser"
	"github.com/entrhq/renewal/pkg/classify"
	"github.com/entrhq/renewal/pkg/config"
	"github.com/entrhq/renewal/pkg/logging"
	"github.com/entrhq/renewal/pkg/metrics"
	"github.com/entrhq/renewal/pkg/normalize"
	"github.com/entrhq/renewal/pkg/notify"
	"github.com/entrhq/renewal/pkg/pool"
	"github.com/entrhq/renewal/pkg/storage"
	"github.com/entrhq/renewal/pkg/tracing"
	"github.com/entrhq/renewal/pkg/workflow"
)

const shutdownTimeout = 30 * time.Second

// app holds what every command shares. Configuration is loaded on first use
// so --help works without a config file.
type app struct {
	configPath string
	logLevel   string

	cfg *config.Config
	log *logging.Logger
}

func (a *app) load() error {
	if a.cfg != nil {
		return nil
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}

	log := logging.New("renewal", os.Stderr)
	log.SetLevel(logging.ParseLevel(cfg.Logging.Level))

	a.cfg = cfg
	a.log = log
	return nil
}

func (a *app) openStore() (*storage.Store, error) {
	if err := a.load(); err != nil {
		return nil, err
	}
	store, err := storage.New(a.cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", a.cfg.Storage.Path, err)
	}
	return store, nil
}

// runtime is the wired renewal stack used by portal commands.
type runtime struct {
	orch  *workflow.Orchestrator
	pool  *pool.Pool
	store *storage.Store

	// closers run in reverse order on shutdown
	closers []func(context.Context) error
	log     *logging.Logger
}

func (r *runtime) onClose(fn func(context.Context) error) {
	r.closers = append(r.closers, fn)
}

// Close waits for pending records and notifications, then tears everything
// down.
func (r *runtime) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if r.orch != nil {
		r.orch.Wait()
	}
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// startRuntime wires storage, metrics, tracing, notifications, the browser
// engine and the session pool. warm overrides the configured warm size when
// non-negative.
func (a *app) startRuntime(ctx context.Context, warm int) (rt *runtime, err error) {
	if err := a.load(); err != nil {
		return nil, err
	}
	cfg := a.cfg
	rt = &runtime{log: a.log}
	defer func() {
		if err != nil {
			_ = rt.Close()
			rt = nil
		}
	}()

	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	rt.store = store
	rt.onClose(func(context.Context) error { return store.Close() })

	m := metrics.New()
	if cfg.Metrics.Enabled {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Errorf("metrics server: %v", err)
			}
		}()
		a.log.Infof("serving metrics on %s", cfg.Metrics.Addr)
		rt.onClose(srv.Shutdown)
	}

	if cfg.Tracing.Enabled {
		var w io.Writer = os.Stdout
		if cfg.Tracing.Output != "" {
			f, err := os.OpenFile(cfg.Tracing.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
			if err != nil {
				return nil, fmt.Errorf("open trace output: %w", err)
			}
			rt.onClose(func(context.Context) error { return f.Close() })
			w = f
		}
		tp, err := tracing.New(tracing.Config{ServiceName: "renewal", Version: version, Writer: w})
		if err != nil {
			return nil, err
		}
		rt.onClose(tp.Shutdown)
	}

	tables, err := normalize.LoadTables(cfg.Aliases)
	if err != nil {
		return nil, err
	}

	profile := cfg.Profile()
	classifier, err := classify.New(profile,
		classify.WithGraceDelay(cfg.Classifier.GraceDelay),
		classify.WithLogger(a.log.Named("classify")),
		classify.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	notifier, err := a.notifier(m)
	if err != nil {
		return nil, err
	}
	rt.onClose(func(context.Context) error { return notifier.Close() })

	engine := browser.NewPlaywrightEngine(cfg.PlaywrightConfig(), a.log.Named("browser"))
	if err := engine.Initialize(); err != nil {
		return nil, err
	}
	rt.onClose(func(context.Context) error {
		if n := engine.Sessions(); n > 0 {
			a.log.Infof("terminating %d browser sessions", n)
		}
		return engine.Close()
	})

	poolCfg := cfg.PoolConfig()
	if warm >= 0 {
		poolCfg.WarmSize = warm
	}
	p := pool.New(engine, poolCfg, a.log.Named("pool"), m)
	p.Start(ctx)
	rt.pool = p
	rt.onClose(func(context.Context) error { return p.Close() })

	rt.orch, err = workflow.New(p, normalize.New(tables), store, classifier, profile,
		workflow.WithConfig(cfg.WorkflowConfig()),
		workflow.WithRecorder(store),
		workflow.WithNotifier(notifier),
		workflow.WithLogger(a.log.Named("workflow")),
		workflow.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// notifier builds the configured event sinks. With none configured events
// are only logged by the workflow.
func (a *app) notifier(m *metrics.Metrics) (*notify.Multi, error) {
	cfg := a.cfg.Notify
	var sinks []notify.Sink

	if cfg.SlackWebhook != "" {
		slack, err := notify.NewSlackAdapter(notify.SlackConfig{
			WebhookURL: cfg.SlackWebhook,
			Channel:    cfg.SlackChannel,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, slack)
	}
	if cfg.NATSURL != "" {
		pub, err := notify.NewNATSPublisher(notify.NATSConfig{
			URL:            cfg.NATSURL,
			Subject:        cfg.NATSSubject,
			ConnectTimeout: cfg.Timeout,
		})
		if err != nil {
			// Notifications are best effort; renewals still run.
			a.log.Warnf("nats unavailable, events will not be published: %v", err)
		} else {
			sinks = append(sinks, pub)
		}
	}
	return notify.NewMulti(a.log.Named("notify"), m, sinks...), nil
}
