package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/DoyleJ11/partidas/internal/config"
	"github.com/DoyleJ11/partidas/internal/devserver"
)

const releaseVersion = "0.3.0"

type options struct {
	configPath string
	bind       string
	dsn        string
	legacy     bool
	verbose    bool
}

func main() {
	cobra.CheckErr(newCmd().Execute())
}

func newCmd() *cobra.Command {
	opts := &options{}

	v := viper.New()
	v.SetEnvPrefix("PARTIDAS_DEVSERVER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "devserver",
		Short:         "A local stand-in for the remote game service.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	fs := cmd.Flags()

	fs.StringVarP(&opts.configPath, "config", "c", "partidas.yaml", "path to the yaml config file (env: PARTIDAS_DEVSERVER_CONFIG)")
	fs.StringVarP(&opts.bind, "bind", "b", "", "address to listen on (env: PARTIDAS_DEVSERVER_BIND)")
	fs.StringVar(&opts.dsn, "dsn", "", "postgres dsn; games are kept in memory when empty (env: PARTIDAS_DEVSERVER_DSN)")
	fs.BoolVar(&opts.legacy, "legacy", false, "serve the older record shape (env: PARTIDAS_DEVSERVER_LEGACY)")
	fs.BoolVar(&opts.verbose, "verbose", false, "log at debug level (env: PARTIDAS_DEVSERVER_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("devserver v{{.Version}}\n")

	return cmd
}

func run(parent context.Context, opts *options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.bind != "" {
		cfg.DevServer.Bind = opts.bind
	}
	if opts.dsn != "" {
		cfg.DevServer.DSN = opts.dsn
	}
	if opts.legacy {
		cfg.DevServer.Legacy = true
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}

	log, err := cfg.Log.Logger()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repo devserver.Repository = devserver.NewMemoryRepository()
	if cfg.DevServer.DSN != "" {
		gormRepo, err := devserver.OpenGorm(ctx, cfg.DevServer.DSN)
		if err != nil {
			return err
		}
		defer func() { _ = gormRepo.Close() }()
		repo = gormRepo
	}

	srv := &http.Server{
		Addr:              cfg.DevServer.Bind,
		Handler:           devserver.NewServer(repo, cfg.DevServer.Legacy, log).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("devserver listening",
			zap.String("bind", srv.Addr),
			zap.Bool("postgres", cfg.DevServer.DSN != ""),
			zap.Bool("legacy", cfg.DevServer.Legacy))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
