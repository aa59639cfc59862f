// Package vrr layers the variable refresh rate state machine on top of a
// committed modeset.
package vrr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fiffeek/modesetcfg/internal/allocator"
	"github.com/fiffeek/modesetcfg/internal/errs"
	"github.com/fiffeek/modesetcfg/internal/modeset"
	"github.com/fiffeek/modesetcfg/internal/platform"
	"github.com/fiffeek/modesetcfg/internal/utils"
	"github.com/sirupsen/logrus"
)

type State int

const (
	StateDisabled State = iota
	StateArmed
	StateActive
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateArmed:
		return "armed"
	case StateActive:
		return "active"
	}
	return "unknown"
}

// Pipeline is the committed modeset VRR runs on.
type Pipeline interface {
	Name() string
	State() modeset.State
	Allocation() *allocator.Allocation
}

type Controller struct {
	hw           platform.VRR
	pipeline     Pipeline
	frameTimeout time.Duration

	state      State
	legacy     bool
	head       int
	lastLoadV  uint32
	frames     int
	underflows int
}

func NewController(hw platform.VRR, pipeline Pipeline, frameTimeout time.Duration) *Controller {
	return &Controller{hw: hw, pipeline: pipeline, frameTimeout: frameTimeout}
}

func (c *Controller) State() State {
	return c.state
}

func (c *Controller) Frames() int {
	return c.frames
}

// Underflows counts the frames that reported a display underflow.
func (c *Controller) Underflows() int {
	return c.underflows
}

func (c *Controller) fail(op string, err error) error {
	attempt := fmt.Sprintf("vrr=%s head=%d frames=%d", c.state, c.head, c.frames)
	return errs.NewPanelError(c.pipeline.Name(), op, attempt, err)
}

func (c *Controller) illegal(op string) error {
	return c.fail(op, fmt.Errorf("%w: %s from %s", errs.ErrIllegalTransition, op, c.state))
}

// Arm configures the one-shot trigger on the pipeline's head. Legacy mode
// also registers a frame completion semaphore.
func (c *Controller) Arm(ctx context.Context, legacy bool) error {
	const op = "arm vrr"
	if c.state != StateDisabled {
		return c.illegal(op)
	}
	if ms := c.pipeline.State(); ms != modeset.StateCommitted && ms != modeset.StateVerified {
		return c.fail(op, fmt.Errorf("%w: modeset is %s", errs.ErrIllegalTransition, ms))
	}
	c.head = c.pipeline.Allocation().Head

	supported, err := c.hw.VRRSupported(ctx, c.head)
	if err != nil {
		return c.fail(op, fmt.Errorf("cant query vrr support: %w", err))
	}
	if !supported {
		return c.fail(op, errs.ErrVrrUnsupported)
	}

	if err := c.hw.ConfigureOneShot(ctx, c.head, true); err != nil {
		return c.fail(op, fmt.Errorf("cant configure one-shot mode: %w", err))
	}
	if legacy {
		if err := c.hw.RegisterFrameSemaphore(ctx, c.head); err != nil {
			return c.fail(op, errors.Join(
				fmt.Errorf("cant register frame semaphore: %w", err),
				c.rollback(ctx, false),
			))
		}
	}
	counter, err := c.hw.ReadLoadVCounter(ctx, c.head)
	if err != nil {
		return c.fail(op, errors.Join(
			fmt.Errorf("cant read load-v counter: %w", err),
			c.rollback(ctx, legacy),
		))
	}

	c.legacy = legacy
	c.lastLoadV = counter
	c.frames = 0
	c.underflows = 0
	c.state = StateArmed
	logrus.WithFields(logrus.Fields{"panel": c.pipeline.Name(), "head": c.head, "legacy": legacy}).
		Debug("VRR armed")
	return nil
}

// rollback undoes a partial Arm.
func (c *Controller) rollback(ctx context.Context, semaphore bool) error {
	var errList []error
	if semaphore {
		if err := c.hw.UnregisterFrameSemaphore(ctx, c.head); err != nil {
			errList = append(errList, fmt.Errorf("cant unregister frame semaphore: %w", err))
		}
	}
	if err := c.hw.ConfigureOneShot(ctx, c.head, false); err != nil {
		errList = append(errList, fmt.Errorf("cant disable one-shot mode: %w", err))
	}
	return errors.Join(errList...)
}

// PresentFrame latches one frame. An underflow is returned as
// ErrDisplayUnderflow after the frame is counted; the loop may continue.
func (c *Controller) PresentFrame(ctx context.Context) error {
	const op = "present frame"
	if c.state != StateArmed && c.state != StateActive {
		return c.illegal(op)
	}

	err := platform.Blocking(ctx, c.frameTimeout, func(ctx context.Context) error {
		return c.hw.InterlockedUpdate(ctx, c.head)
	})
	if err != nil {
		return c.fail(op, fmt.Errorf("interlocked update: %w", err))
	}

	counter, err := c.hw.ReadLoadVCounter(ctx, c.head)
	if err != nil {
		return c.fail(op, fmt.Errorf("cant read load-v counter: %w", err))
	}
	delta := counter - c.lastLoadV
	c.lastLoadV = counter
	if delta > 1 {
		return c.fail(op, fmt.Errorf("%w: load-v advanced by %d", errs.ErrVrrOverrun, delta))
	}
	c.frames++
	c.state = StateActive

	underflow, err := c.hw.ReadUnderflow(ctx, c.head)
	if err != nil {
		return c.fail(op, fmt.Errorf("cant read underflow status: %w", err))
	}
	if underflow {
		c.underflows++
		logrus.WithFields(utils.NewLogrusCustomFields(logrus.Fields{
			"panel": c.pipeline.Name(), "head": c.head, "frame": c.frames,
		}).WithLogID(utils.UnderflowLogID)).Warn("Display underflow during VRR frame")
		return c.fail(op, errs.ErrDisplayUnderflow)
	}
	return nil
}

// Disarm reverses Arm. Disarming a disabled controller is a no-op.
func (c *Controller) Disarm(ctx context.Context) error {
	if c.state == StateDisabled {
		return nil
	}
	err := c.rollback(ctx, c.legacy)
	c.state = StateDisabled
	c.legacy = false
	logrus.WithFields(logrus.Fields{"panel": c.pipeline.Name(), "frames": c.frames, "underflows": c.underflows}).
		Debug("VRR disarmed")
	if err != nil {
		return c.fail("disarm vrr", err)
	}
	return nil
}
