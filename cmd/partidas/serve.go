package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/partidas/internal/action"
	"github.com/DoyleJ11/partidas/internal/creation"
	"github.com/DoyleJ11/partidas/internal/httpapi"
	"github.com/DoyleJ11/partidas/internal/notice"
	"github.com/DoyleJ11/partidas/internal/poller"
	"github.com/DoyleJ11/partidas/internal/store"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll the game service and serve the local view over http and websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.close()
			if bind != "" {
				a.cfg.View.Bind = bind
			}
			return serve(cmd.Context(), a)
		},
	}

	cmd.Flags().StringVarP(&bind, "bind", "b", "", "address for the local view (env: PARTIDAS_VIEW_BIND)")
	return cmd
}

func serve(parent context.Context, a *app) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifier := notice.NewLogger(a.log)

	st := store.New(ctx, a.log)
	co := action.New(ctx, a.client, st,
		action.WithLogger(a.log),
		action.WithMetrics(a.metrics),
		action.WithNotifier(notifier),
		action.WithConfirmer(action.ContextConfirmer),
		action.TrustEndResponse(a.cfg.Actions.TrustEndResponse),
	)

	orchOpts := []creation.Option{
		creation.WithLogger(a.log),
		creation.WithMetrics(a.metrics),
		creation.WithNotifier(notifier),
		creation.WithSlots(co.Slots()),
	}
	if a.cfg.Creation.JoinRate > 0 {
		orchOpts = append(orchOpts, creation.WithLimiter(
			rate.NewLimiter(rate.Limit(a.cfg.Creation.JoinRate), a.cfg.Creation.JoinBurst)))
	}
	orch := creation.New(a.client, st, orchOpts...)

	p := poller.New(a.client, st,
		poller.WithInterval(a.cfg.Poller.Interval),
		poller.WithGuard(a.cfg.Poller.Guarded),
		poller.WithLogger(a.log),
		poller.WithMetrics(a.metrics),
	)

	srv := &http.Server{
		Addr: a.cfg.View.Bind,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Store:        st,
			Coordinator:  co,
			Orchestrator: orch,
			Gatherer:     a.registry,
			PublicURL:    a.cfg.View.PublicURL,
			Log:          a.log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	polling := make(chan struct{})
	go func() {
		defer close(polling)
		p.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.log.Info("listening",
			zap.String("bind", srv.Addr),
			zap.String("api", a.client.BaseURL()),
			zap.Duration("poll_interval", a.cfg.Poller.Interval))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var errs error
	select {
	case <-ctx.Done():
		a.log.Info("shutting down")
	case err := <-serveErr:
		errs = multierr.Append(errs, err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	errs = multierr.Append(errs, srv.Shutdown(shutdownCtx))

	<-polling
	if err := p.Wait(shutdownCtx); err != nil {
		a.log.Warn("shutdown did not wait for the last poll", zap.Error(err))
	}
	co.Close()
	st.Close()
	return errs
}
