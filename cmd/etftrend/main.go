package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/sawpanic/etftrend/internal/config"
	"github.com/sawpanic/etftrend/internal/metrics"
	"github.com/sawpanic/etftrend/internal/prices"
)

const (
	appName = "etftrend"
	version = "v0.4.0"
)

// app carries what every subcommand needs once flags are parsed
type app struct {
	configPath  string
	envFile     string
	logLevel    string
	metricsAddr string

	cfg      config.Config
	logger   zerolog.Logger
	recorder metrics.Recorder
	server   *metricsServer
	out      io.Writer
}

func main() {
	a := &app{out: os.Stdout}
	err := newRootCmd(a).Execute()
	if cerr := a.teardown(); cerr != nil {
		a.logger.Warn().Err(cerr).Msg("metrics server shutdown")
	}
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:     appName,
		Short:   "ETF trend and regime strategy simulator",
		Version: version,
		Long: `etftrend classifies the market regime, allocates an ETF portfolio under
regime-dependent risk budgets and replays the strategy day by day.

Settings come from a YAML file (--config) over built-in defaults.
ETFTREND_DSN, REDIS_ADDR, REDIS_DB and ETFTREND_PRICES override the file and
may be kept in a .env file.`,
		SilenceUsage:      true,
		PersistentPreRunE: func(*cobra.Command, []string) error { return a.setup() },
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML configuration file")
	pf.StringVar(&a.envFile, "env-file", ".env", "dotenv file with environment overrides (ignored when absent)")
	pf.StringVar(&a.logLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")
	pf.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running, e.g. :9090")

	root.AddCommand(
		newRegimeCmd(a),
		newAllocateCmd(a),
		newBacktestCmd(a),
		newEngineCmd(a),
	)
	return root
}

func (a *app) setup() error {
	if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", a.envFile, err)
	}

	logger, err := newLogger(os.Stderr, a.logLevel)
	if err != nil {
		return err
	}
	a.logger = logger

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.recorder = metrics.Nop{}
	if a.metricsAddr != "" {
		srv, err := startMetricsServer(a.metricsAddr, a.logger)
		if err != nil {
			return err
		}
		a.server = srv
		a.recorder = srv.recorder
	}
	return nil
}

func (a *app) teardown() error {
	if a.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.server.Shutdown(ctx)
}

// newLogger writes human readable lines to a terminal and JSON otherwise
func newLogger(w *os.File, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = w
	if term.IsTerminal(int(w.Fd())) {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("app", appName).Logger(), nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// dateRange holds the --start/--end pair shared by the replay commands
type dateRange struct {
	start, end string
}

func (r *dateRange) flags() *pflag.FlagSet {
	set := pflag.NewFlagSet("range", pflag.ContinueOnError)
	set.StringVar(&r.start, "start", "", "first simulated date, "+prices.DateLayout+" (default: first row)")
	set.StringVar(&r.end, "end", "", "last simulated date, "+prices.DateLayout+" (default: last row)")
	return set
}

// resolve fills empty bounds from the table
func (r dateRange) resolve(t *prices.Table) (time.Time, time.Time, error) {
	start, err := parseDate(r.start, t.First())
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--start: %w", err)
	}
	end, err := parseDate(r.end, t.Last())
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--end: %w", err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--end %s is before --start %s", r.end, r.start)
	}
	return start, end, nil
}

func parseDate(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	return time.Parse(prices.DateLayout, s)
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
