package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"nodestatus/internal/analytics"
	"nodestatus/internal/collector"
	"nodestatus/internal/config"
	"nodestatus/internal/execx"
	"nodestatus/internal/feequote"
	"nodestatus/internal/forwards"
	"nodestatus/internal/invoice"
	"nodestatus/internal/metrics"
	"nodestatus/internal/server"
	"nodestatus/internal/status"
)

// services is everything a snapshot or an API route needs.
type services struct {
	composer *status.Composer
	forwards *forwards.Aggregator
	fees     *feequote.Resolver
	profit   status.ProfitSource
	invoices *invoice.Service
}

func newRunner() execx.Runner {
	return execx.NewOSRunner()
}

func newServices(cfg config.Config, runner execx.Runner, m *metrics.Metrics, log *zap.Logger) services {
	svc := services{
		forwards: forwards.NewAggregator(cfg, runner, m, log),
		fees:     feequote.NewResolver(cfg, m, log),
		invoices: invoice.NewService(cfg, runner, m, log),
	}
	if cfg.Analytics.DBPath != "" {
		svc.profit = analytics.NewSource(cfg.Analytics.DBPath, cfg.Analytics.Months)
	}
	svc.composer = status.NewComposer(status.Deps{
		Chain:    collector.NewChain(cfg, runner, m, log),
		Node:     collector.NewNode(cfg, runner, m, log),
		System:   collector.NewSystem(cfg, nil, m, log),
		Fees:     svc.fees,
		Forwards: svc.forwards,
		Profit:   svc.profit,
	}, status.Options{
		WindowDays:  cfg.Forwards.DefaultDays,
		TopN:        cfg.Forwards.TopN,
		MessagePath: cfg.Files.MessagePath,
	}, log)
	return svc
}

func newServer(cfg config.Config, svc services, m *metrics.Metrics, log *zap.Logger) (*server.Server, error) {
	return server.New(cfg, server.Deps{
		Composer: svc.composer,
		Forwards: svc.forwards,
		Fees:     svc.fees,
		Profit:   svc.profit,
		Invoices: svc.invoices,
		Metrics:  m,
		Log:      log,
		Version:  version,
	})
}

func registerServer(lc fx.Lifecycle, s *server.Server) {
	lc.Append(fx.Hook{
		OnStart: s.Start,
		OnStop:  s.Stop,
	})
}

func newApp(cfg config.Config, log *zap.Logger) *fx.App {
	return fx.New(appOptions(cfg, log))
}

func appOptions(cfg config.Config, log *zap.Logger) fx.Option {
	return fx.Options(
		fx.Supply(cfg, log),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Provide(
			metrics.New,
			newRunner,
			newServices,
			newServer,
		),
		fx.Invoke(registerServer),
	)
}
