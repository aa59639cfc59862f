// Package signal provides signal handling functionality.
package signal

import (
	"context"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

type IRunner interface {
	UpdateOnce(context.Context) error
}

type Handler struct {
	sigChan     chan os.Signal
	cancelCause context.CancelCauseFunc
	runner      IRunner
}

func NewHandler(cancelCause context.CancelCauseFunc, runner IRunner) *Handler {
	return &Handler{
		sigChan:     make(chan os.Signal, 1),
		cancelCause: cancelCause,
		runner:      runner,
	}
}

// Run blocks until the context is done or a termination signal arrives.
// SIGUSR1 re-runs the scenario without leaving the loop.
func (h *Handler) Run(ctx context.Context) error {
	signal.Notify(h.sigChan, unix.SIGUSR1, unix.SIGTERM, unix.SIGINT, unix.SIGHUP)
	defer signal.Stop(h.sigChan)
	logrus.Debug("Signal notifications registered for SIGUSR1, SIGTERM, SIGINT, SIGHUP")

	for {
		select {
		case sig := <-h.sigChan:
			logrus.WithField("signal", sig).Debug("Signal received")
			switch sig {
			case unix.SIGUSR1:
				logrus.Info("Received SIGUSR1, triggering manual run")
				if err := h.runner.UpdateOnce(ctx); err != nil {
					logrus.WithError(err).Error("Manual run failed, service will keep running")
				} else {
					logrus.Info("Manual run completed")
				}
			case unix.SIGTERM, unix.SIGINT, unix.SIGHUP:
				logrus.WithField("signal", sig).Info("Received termination signal, shutting down gracefully")
				h.cancelCause(context.Canceled)
				return nil
			}
		case <-ctx.Done():
			logrus.Debug("Signal handler context done, exiting")
			return context.Cause(ctx)
		}
	}
}
