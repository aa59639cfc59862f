// Package color programs the input, tone-mapping and output lookup curves of
// an allocated pipeline.
package color

import (
	"context"
	"fmt"

	"github.com/fiffeek/modesetcfg/internal/allocator"
	"github.com/fiffeek/modesetcfg/internal/display"
	"github.com/fiffeek/modesetcfg/internal/errs"
	"github.com/fiffeek/modesetcfg/internal/platform"
	"github.com/sirupsen/logrus"
)

type Programmer struct {
	hw        platform.CurveProgrammer
	allocator *allocator.Allocator
}

func NewProgrammer(hw platform.CurveProgrammer, allocator *allocator.Allocator) *Programmer {
	return &Programmer{hw: hw, allocator: allocator}
}

// Program writes the curves selected for mode into the allocation's windows
// and head. Bypass programs nothing. Every written curve marks its owner
// dirty so the next commit latches it.
func (p *Programmer) Program(ctx context.Context, alloc *allocator.Allocation, mode display.DynamicRangeMode,
	curves display.ColorCurveSet,
) error {
	if alloc == nil || alloc.Released() {
		return fmt.Errorf("%w: no live allocation", errs.ErrCurveProgramming)
	}
	if !mode.NeedsCurves() {
		logrus.WithFields(logrus.Fields{"panel": alloc.Panel, "head": alloc.Head}).Debug("Bypass mode, no curves")
		return nil
	}

	if err := p.allocator.ReserveCurves(alloc, mode); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrCurveProgramming, err)
	}

	for i := range alloc.Windows {
		window := &alloc.Windows[i]
		selected := curves.ForWindow(window.Logical)

		if selected.Input != display.CurveNone {
			if err := p.write(ctx, platform.InputCurveStage, alloc.Head, window.Physical, selected.Input); err != nil {
				return err
			}
			window.CurveDirty = true
		}

		if window.FullToneMapping && selected.ToneMapping != display.CurveNone {
			if err := p.write(ctx, platform.ToneMappingCurveStage, alloc.Head, window.Physical,
				selected.ToneMapping); err != nil {
				return err
			}
			window.CurveDirty = true
		}
	}

	if curves.Output != display.CurveNone {
		if err := p.write(ctx, platform.OutputCurveStage, alloc.Head, -1, curves.Output); err != nil {
			return err
		}
		alloc.OutputCurveDirty = true
	}

	logrus.WithFields(logrus.Fields{
		"panel": alloc.Panel, "head": alloc.Head, "mode": mode.Value(),
	}).Debug("Color curves programmed")
	return nil
}

func (p *Programmer) write(ctx context.Context, stage platform.CurveStage, head, window int, curve display.Curve) error {
	target := platform.CurveTarget{Stage: stage, Head: head, Window: window}
	if err := p.hw.ProgramCurve(ctx, target, curve); err != nil {
		return fmt.Errorf("%w: %s curve %s on head %d window %d: %w",
			errs.ErrCurveProgramming, stage, curve.Value(), head, window, err)
	}
	return nil
}

// Clear removes every curve programmed for the allocation and drops the
// dirty markers.
func (p *Programmer) Clear(ctx context.Context, alloc *allocator.Allocation) error {
	if alloc == nil {
		return nil
	}
	if err := p.hw.ClearCurves(ctx, alloc.Head, alloc.PhysicalWindows()); err != nil {
		return fmt.Errorf("cant clear curves on head %d: %w", alloc.Head, err)
	}
	for i := range alloc.Windows {
		alloc.Windows[i].CurveDirty = false
	}
	alloc.OutputCurveDirty = false
	return nil
}
