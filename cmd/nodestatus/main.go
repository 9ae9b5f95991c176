package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"nodestatus/internal/api"
	"nodestatus/internal/config"
	"nodestatus/internal/feequote"
	"nodestatus/internal/forwards"
	"nodestatus/internal/logx"
	"nodestatus/internal/metrics"
	"nodestatus/internal/model"
	"nodestatus/internal/notes"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const usage = `nodestatus - bitcoin and lightning node status dashboard

Usage:
  nodestatus serve --config <path>
  nodestatus status --config <path> [--remote <url>]
  nodestatus forwards --config <path> [--days 30] [--top 10] [--csv] [--remote <url>]
  nodestatus fees --config <path>
  nodestatus profit --config <path>
  nodestatus logs --config <path> [--lines 50]
  nodestatus version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	switch cmd {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "serve":
		handleServe(os.Args[2:])
	case "status":
		handleStatus(os.Args[2:])
	case "forwards":
		handleForwards(os.Args[2:])
	case "fees":
		handleFees(os.Args[2:])
	case "profit":
		handleProfit(os.Args[2:])
	case "logs":
		handleLogs(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	listen := fs.String("listen", "", "listen address")
	_ = fs.Parse(args)

	cfg, log := setup(*configPath, func(cfg *config.Config) {
		if *listen != "" {
			cfg.Server.Listen = *listen
		}
	})
	defer func() { _ = log.Sync() }()

	log.Info("starting", zap.String("version", version), zap.String("environment", cfg.Environment))
	newApp(cfg, log).Run()
}

func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	remote := fs.String("remote", "", "query a running server instead of collecting locally")
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	if *remote != "" {
		snap, err := api.NewClient(*remote).Status(ctx)
		if err != nil {
			fatal(err)
		}
		printJSON(os.Stdout, snap)
		return
	}

	cfg, log := setup(*configPath, nil)
	svc := newServices(cfg, newRunner(), metrics.New(), log)
	printJSON(os.Stdout, svc.composer.Compose(ctx))
}

func handleForwards(args []string) {
	fs := flag.NewFlagSet("forwards", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	remote := fs.String("remote", "", "query a running server instead of running lncli locally")
	days := fs.Int("days", 0, "window in days (1-365)")
	top := fs.Int("top", 0, "aliases per list")
	asCSV := fs.Bool("csv", false, "write CSV instead of a table")
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	var (
		report model.AggregationReport
		err    error
	)
	if *remote != "" {
		report, err = api.NewClient(*remote).Forwards(ctx, *days, *top)
	} else {
		cfg, log := setup(*configPath, nil)
		if *days == 0 {
			*days = cfg.Forwards.DefaultDays
		}
		if *top == 0 {
			*top = cfg.Forwards.TopN
		}
		report, err = forwards.NewAggregator(cfg, newRunner(), nil, log).Aggregate(ctx, *days, *top)
	}
	if err != nil {
		fatal(err)
	}

	if *asCSV {
		fatal(forwards.WriteCSV(os.Stdout, report))
		return
	}
	printForwards(os.Stdout, report)
}

func handleFees(args []string) {
	fs := flag.NewFlagSet("fees", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	cfg, log := setup(*configPath, nil)
	q := feequote.NewResolver(cfg, nil, log).Resolve(ctx)
	fmt.Fprintf(os.Stdout, "source: %s\n", q.Source)
	for _, tier := range []string{model.TierFastest, model.TierHalfHour, model.TierHour, model.TierEconomy, model.TierMinimum} {
		fmt.Fprintf(os.Stdout, "%-9s %6.1f sat/vB\n", tier, q.Tiers()[tier])
	}
}

func handleProfit(args []string) {
	fs := flag.NewFlagSet("profit", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	cfg, log := setup(*configPath, nil)
	svc := newServices(cfg, newRunner(), nil, log)
	if svc.profit == nil {
		fatal(errors.New("analytics.db_path is not configured"))
	}
	summary, err := svc.profit.Summary(ctx)
	if err != nil {
		fatal(err)
	}

	if summary.Latest != nil {
		fmt.Fprintf(os.Stdout, "latest %s: %d sat net (%d earned, %d rebalancing)\n\n",
			summary.Latest.Date, summary.Latest.NetProfitSat, summary.Latest.ForwardFeesSat, summary.Latest.RebalanceFeesSat)
	}
	fmt.Fprintf(os.Stdout, "%-8s  %10s  %12s  %10s\n", "MONTH", "EARNED", "REBALANCING", "NET")
	for _, m := range summary.Months {
		fmt.Fprintf(os.Stdout, "%-8s  %10d  %12d  %10d\n", m.Month, m.ForwardFeesSat, m.RebalanceFeesSat, m.NetProfitSat)
	}
	ytd := summary.YearToDate
	fmt.Fprintf(os.Stdout, "%-8d  %10d  %12d  %10d\n", summary.Year, ytd.ForwardFeesSat, ytd.RebalanceFeesSat, ytd.NetProfitSat)
}

func handleLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	lines := fs.Int("lines", 0, "number of lines")
	_ = fs.Parse(args)

	cfg, _ := setup(*configPath, nil)
	if cfg.Files.LogPath == "" {
		fatal(errors.New("files.log_path is not configured"))
	}
	n := *lines
	if n == 0 {
		n = cfg.Files.LogLines
	}
	out, err := notes.Tail(cfg.Files.LogPath, n)
	if err != nil {
		fatal(err)
	}
	for _, line := range out {
		fmt.Fprintln(os.Stdout, line)
	}
}

// setup loads and validates the config, applies flag overrides and builds
// the logger.
func setup(path string, override func(*config.Config)) (config.Config, *zap.Logger) {
	cfg, err := config.Load(path)
	if err != nil {
		fatal(err)
	}
	if override != nil {
		override(&cfg)
	}
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}
	log, err := logx.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fatal(err)
	}
	return cfg, log
}

func printForwards(w io.Writer, report model.AggregationReport) {
	fmt.Fprintf(w, "%d forwards over %d days, %d sat earned\n", report.TotalEvents, report.WindowDays, report.TotalFeesSat)
	for _, section := range []struct {
		title string
		peers []model.PeerAggregate
	}{
		{"TOP", report.Top},
		{"LOW", report.Low},
	} {
		fmt.Fprintf(w, "\n%-4s  %-32s  %10s  %14s  %6s\n", section.title, "ALIAS", "FEES_SAT", "AMOUNT_OUT_SAT", "EVENTS")
		for i, p := range section.peers {
			fmt.Fprintf(w, "%-4d  %-32s  %10d  %14d  %6d\n", i+1, p.Alias, p.FeesSat, p.AmountOutSat, p.Events)
		}
	}
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal(err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
