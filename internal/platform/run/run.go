package run

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

type Runner struct {
	Logger *zap.Logger
}

func New(log *zap.Logger) *Runner {
	return &Runner{Logger: log}
}

// WithSignals runs start until it returns or SIGINT/SIGTERM arrives, and
// maps the outcome to a process exit code. start must return once ctx is done.
func (r *Runner) WithSignals(start func(ctx context.Context) error) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- start(ctx)
	}()

	var err error
	select {
	case <-ctx.Done():
		r.Logger.Info("shutdown signal received")
		err = <-errCh
	case err = <-errCh:
	}
	return r.exitCode(err)
}

func (r *Runner) exitCode(err error) int {
	if err == nil || errors.Is(err, http.ErrServerClosed) || errors.Is(err, context.Canceled) {
		return 0
	}
	r.Logger.Error("service exited with error", zap.Error(err))
	return 1
}

func Exit(code int) {
	os.Exit(code)
}
