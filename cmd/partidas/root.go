package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/DoyleJ11/partidas/internal/action"
	"github.com/DoyleJ11/partidas/internal/api"
	"github.com/DoyleJ11/partidas/internal/config"
	"github.com/DoyleJ11/partidas/internal/engine"
	"github.com/DoyleJ11/partidas/internal/metrics"
	"github.com/DoyleJ11/partidas/internal/notice"
	"github.com/DoyleJ11/partidas/internal/store"
)

type options struct {
	configPath string
	apiURL     string
	verbose    bool
}

// app is what every subcommand needs once flags and config are resolved.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	client   *api.Client
	tracer   *sdktrace.TracerProvider // nil when tracing is off
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	v := viper.New()
	v.SetEnvPrefix("PARTIDAS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "partidas",
		Short:         "Keep a local view of a remote game service in sync and act on its games.",
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       releaseVersion,
	}

	fs := cmd.PersistentFlags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&opts.configPath, "config", "c", "partidas.yaml", "path to the yaml config file (env: PARTIDAS_CONFIG)")
	fs.StringVar(&opts.apiURL, "api-url", "", "base url of the game service (env: PARTIDAS_API_URL)")
	fs.BoolVar(&opts.verbose, "verbose", false, "log at debug level (env: PARTIDAS_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.AddCommand(
		newServeCmd(opts),
		newListCmd(opts),
		newCreateCmd(opts),
		newJoinCmd(opts),
		newStartCmd(opts),
		newEndCmd(opts),
		newDeleteCmd(opts),
		newInviteCmd(opts),
	)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetVersionTemplate("partidas v{{.Version}}\n")

	return cmd
}

func (o *options) load() (*app, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.apiURL != "" {
		cfg.API.BaseURL = o.apiURL
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if o.verbose {
		cfg.Log.Level = "debug"
	}

	log, err := cfg.Log.Logger()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	tp, err := cfg.Tracing.TracerProvider(os.Stderr)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	clientOpts := []api.Option{
		api.WithLogger(log),
		api.WithMetrics(m),
		api.WithTimeout(cfg.API.Timeout),
	}
	if tp != nil {
		clientOpts = append(clientOpts, api.WithTracerProvider(tp))
	}
	client, err := api.New(cfg.API.BaseURL, clientOpts...)
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, log: log, registry: reg, metrics: m, client: client, tracer: tp}, nil
}

func (a *app) close() {
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.log.Warn("flush spans", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}

// session is a store and coordinator seeded with one listing, for the
// one-shot subcommands.
type session struct {
	store *store.Store
	co    *action.Coordinator
}

func (a *app) session(ctx context.Context, confirm action.Confirmer) (*session, error) {
	raws, err := a.client.ListGames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	st := store.New(ctx, a.log, engine.NormalizeAll(raws)...)
	co := action.New(ctx, a.client, st,
		action.WithLogger(a.log),
		action.WithMetrics(a.metrics),
		action.WithNotifier(notice.NewLogger(a.log)),
		action.WithConfirmer(confirm),
		action.TrustEndResponse(a.cfg.Actions.TrustEndResponse),
	)
	return &session{store: st, co: co}, nil
}

func (s *session) close() {
	s.co.Close()
	s.store.Close()
}

func (s *session) game(id int) (engine.Game, error) {
	g, ok := s.store.Get(id)
	if !ok {
		return engine.Game{}, fmt.Errorf("game %d not found", id)
	}
	return g, nil
}
