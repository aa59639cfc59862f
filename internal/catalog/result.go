package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/fiffeek/modesetcfg/internal/display"
	"github.com/fiffeek/modesetcfg/internal/platform"
)

// Result is the arena of enumerated panels; pairs refer to panels by handle.
type Result struct {
	Panels   []Entry
	Pairs    []PairEntry
	injector platform.IdentityInjector
	// sinks added behind a fabricated multi-stream connector
	sinks  []display.DisplayID
	closed bool
}

func (r *Result) add(panel display.PanelDescriptor) {
	panel.Handle = display.PanelHandle(len(r.Panels))
	r.Panels = append(r.Panels, Entry{Panel: panel})
}

func (r *Result) Descriptor(handle display.PanelHandle) display.PanelDescriptor {
	return r.Panels[handle].Panel
}

// PairView returns the primary's descriptor referencing its secondary.
func (r *Result) PairView(pair display.PanelPair) display.PanelDescriptor {
	view := r.Descriptor(pair.Primary)
	secondary := pair.Secondary
	view.Secondary = &secondary
	return view
}

// Close frees the synthetic identities and sinks added during enumeration.
// Closing twice is a no-op.
func (r *Result) Close(ctx context.Context) error {
	if r.closed {
		return nil
	}
	r.closed = true
	var errList []error
	for i := range r.Panels {
		panel := &r.Panels[i].Panel
		if !panel.Synthetic || panel.Identity == nil {
			continue
		}
		if err := r.injector.SetSyntheticIdentity(ctx, panel.Display, nil); err != nil {
			errList = append(errList, fmt.Errorf("cant free identity of %s: %w", panel.Name(), err))
		}
		panel.Identity = nil
	}
	for _, sink := range r.sinks {
		if err := r.injector.RemoveSyntheticSink(ctx, sink); err != nil {
			errList = append(errList, fmt.Errorf("cant remove sink %s: %w", sink, err))
		}
	}
	r.sinks = nil
	return errors.Join(errList...)
}
