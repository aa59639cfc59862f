package utils

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Debouncer struct {
	mu    sync.Mutex
	timer *time.Timer
	fire  chan func(context.Context) error
}

func NewDebouncer() *Debouncer {
	return &Debouncer{fire: make(chan func(context.Context) error, 1)}
}

// Do schedules fn to run after delay, replacing any call still waiting.
func (d *Debouncer) Do(ctx context.Context, delay time.Duration, fn func(context.Context) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(delay, func() {
		select {
		case d.fire <- fn:
		case <-ctx.Done():
		default:
			logrus.Debug("Debounced call already pending, dropping")
		}
	})
}

func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	select {
	case <-d.fire:
	default:
	}
}

func (d *Debouncer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case fn := <-d.fire:
			if err := fn(ctx); err != nil {
				logrus.WithError(err).Error("Debounced call failed")
			}
		}
	}
}
