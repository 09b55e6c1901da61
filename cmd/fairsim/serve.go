package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"fairsim/internal/api"
	"fairsim/internal/runner"
	"fairsim/internal/store"
	"fairsim/internal/watch"
)

const shutdownTimeout = 10 * time.Second

func runServe(args []string) error {
	const usage = "fairsim serve [--addr ADDR] [--load MODEL] [--watch]"
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.log.Sync()

	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	addr := fs.String("addr", a.settings.Addr, "listen address")
	load := fs.String("load", "", "model whose saved results are published at startup")
	watchDir := fs.Bool("watch", false, "follow changes in the models directory")
	if _, err := parseFlags(fs, args, 0, usage); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	r := runner.New(a.service(0, 0), a.log)
	defer r.Close()

	events, unsubscribe := r.Subscribe()
	go logEvents(a, events)
	defer unsubscribe()

	if *load != "" {
		if _, err := r.Submit(runner.LoadResultsRequest{Model: *load}); err != nil {
			return err
		}
	}

	if *watchDir {
		if err := os.MkdirAll(a.store.Dir, 0o755); err != nil {
			return fmt.Errorf("models dir: %w", err)
		}
		w, err := watch.New(a.store.Dir, watch.DefaultDebounce, a.log)
		if err != nil {
			return err
		}
		go func() {
			if err := w.Run(ctx, func(c watch.Change) { followChange(a, r, c) }); err != nil {
				a.log.Error("watch stopped", "error", err)
			}
		}()
	}

	if a.settings.LogMode != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr: *addr,
		Handler: api.NewRouter(api.Config{
			Store:             a.store,
			Runner:            r,
			DefaultIterations: a.settings.Iterations,
			Log:               a.log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", "addr", *addr, "models_dir", a.store.Dir)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// followChange keeps the published snapshot in step with the models
// directory: results saved elsewhere are loaded, and an edit to the shown
// model re-simulates it.
func followChange(a *app, r *runner.Runner, c watch.Change) {
	cur := r.Current()
	switch c.Kind {
	case watch.ResultsChanged:
		m, err := a.store.Manifest(c.Model)
		if err != nil {
			if !errors.Is(err, store.ErrResultsNotFound) {
				a.log.Warn("read saved results", "model", c.Model, "error", err)
			}
			return
		}
		if cur != nil && cur.RunID == m.RunID {
			return
		}
		if _, err := r.Submit(runner.LoadResultsRequest{Model: c.Model}); err != nil {
			a.log.Warn("submit load", "model", c.Model, "error", err)
		}
	case watch.ModelChanged:
		if cur == nil || cur.Model != c.Model {
			return
		}
		if _, err := r.Submit(runner.RunSimulationRequest{Model: c.Model, Iterations: cur.Iterations}); err != nil {
			a.log.Warn("submit run", "model", c.Model, "error", err)
		}
	}
}

func logEvents(a *app, events <-chan runner.Event) {
	for ev := range events {
		switch {
		case ev.Superseded:
			a.log.Info("request superseded", "request_id", ev.RequestID, "kind", ev.Kind, "model", ev.Model)
		case ev.Err != nil:
			a.log.Warn("request failed", "request_id", ev.RequestID, "kind", ev.Kind, "model", ev.Model, "error", ev.Err)
		default:
			a.log.Info("results published", "request_id", ev.RequestID, "kind", ev.Kind, "model", ev.Model, "run_id", ev.RunID)
		}
	}
}
