// Package allocator hands out heads, output serializers and windows to
// panels and guarantees no two live allocations share them.
package allocator

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/fiffeek/modesetcfg/internal/display"
	"github.com/fiffeek/modesetcfg/internal/errs"
	"github.com/fiffeek/modesetcfg/internal/platform"
	"github.com/sirupsen/logrus"
)

// ImplicitHead selects the legacy window->head mapping (window/2).
const ImplicitHead = -1

type Capacity struct {
	Heads int
	ORs   int
	// CurveSlots bounds the lookup-curve resources, 0 means unbounded.
	CurveSlots int
}

type WindowRequest struct {
	Head   int
	Window int
	Width  int
	Height int
}

// Shorthand builds a request using the implicit window->head mapping.
func Shorthand(window, width, height int) WindowRequest {
	return WindowRequest{Head: ImplicitHead, Window: window, Width: width, Height: height}
}

func (w WindowRequest) ResolvedHead() int {
	if w.Head == ImplicitHead {
		return w.Window / 2
	}
	return w.Head
}

type Request struct {
	Windows      []WindowRequest
	DynamicRange display.DynamicRangeMode
	// ShareOR is the live allocation of the other half of a dual-stream pair.
	ShareOR *Allocation
}

type WindowAssignment struct {
	Logical         int
	Physical        int
	Width           int
	Height          int
	FullToneMapping bool
	CurveDirty      bool
}

type Allocation struct {
	ID               uint64
	Panel            string
	Head             int
	OR               int
	Windows          []WindowAssignment
	CurveSlots       int
	OutputCurveDirty bool
	SharedOR         bool
	released         bool
}

func (a *Allocation) Released() bool {
	return a.released
}

func (a *Allocation) PhysicalWindows() []int {
	out := make([]int, 0, len(a.Windows))
	for _, w := range a.Windows {
		out = append(out, w.Physical)
	}
	return out
}

func (a *Allocation) String() string {
	windows := make([]string, 0, len(a.Windows))
	for _, w := range a.Windows {
		windows = append(windows, strconv.Itoa(w.Logical))
	}
	return fmt.Sprintf("head=%d or=%d windows=[%s]", a.Head, a.OR, strings.Join(windows, ","))
}

type Allocator struct {
	mu             sync.Mutex
	capacity       Capacity
	layers         platform.LayerResolver
	nextID         uint64
	heads          map[int]uint64
	windows        map[int]uint64
	ors            map[int][]uint64
	curveSlotsUsed int
	live           map[uint64]*Allocation
}

func NewAllocator(capacity Capacity, layers platform.LayerResolver) *Allocator {
	return &Allocator{
		capacity: capacity,
		layers:   layers,
		heads:    make(map[int]uint64),
		windows:  make(map[int]uint64),
		ors:      make(map[int][]uint64),
		live:     make(map[uint64]*Allocation),
	}
}

func conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errs.ErrResourceConflict, fmt.Sprintf(format, args...))
}

// Allocate reserves a head, an OR and every requested window for panel.
// Nothing is reserved when any part of the request conflicts.
func (a *Allocator) Allocate(panel display.PanelDescriptor, req Request) (*Allocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	head, err := a.pickHead(req.Windows)
	if err != nil {
		return nil, err
	}

	or, err := a.pickOR(req.ShareOR)
	if err != nil {
		return nil, err
	}

	assignments := make([]WindowAssignment, 0, len(req.Windows))
	seen := map[int]bool{}
	for _, w := range req.Windows {
		if w.Width <= 0 || w.Height <= 0 {
			return nil, conflict("window %d has invalid size %dx%d", w.Window, w.Width, w.Height)
		}
		layer, err := a.layers.ResolveWindow(w.Window)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errs.ErrResourceConflict, err)
		}
		if seen[layer.Physical] {
			return nil, conflict("window %d requested twice", w.Window)
		}
		seen[layer.Physical] = true
		if owner, taken := a.windows[layer.Physical]; taken {
			return nil, conflict("window %d owned by allocation %d", w.Window, owner)
		}
		assignments = append(assignments, WindowAssignment{
			Logical:         w.Window,
			Physical:        layer.Physical,
			Width:           w.Width,
			Height:          w.Height,
			FullToneMapping: layer.FullToneMapping,
		})
	}

	curveSlots := 0
	if req.DynamicRange.NeedsCurves() {
		curveSlots = len(assignments) + 1
		if err := a.checkCurveSlots(curveSlots); err != nil {
			return nil, err
		}
	}

	a.nextID++
	alloc := &Allocation{
		ID:         a.nextID,
		Panel:      panel.Name(),
		Head:       head,
		OR:         or,
		Windows:    assignments,
		CurveSlots: curveSlots,
		SharedOR:   req.ShareOR != nil,
	}
	a.heads[head] = alloc.ID
	a.ors[or] = append(a.ors[or], alloc.ID)
	for _, w := range assignments {
		a.windows[w.Physical] = alloc.ID
	}
	a.curveSlotsUsed += curveSlots
	a.live[alloc.ID] = alloc

	logrus.WithFields(logrus.Fields{
		"panel": alloc.Panel, "head": head, "or": or,
		"windows": len(assignments), "curve_slots": curveSlots, "shared_or": alloc.SharedOR,
	}).Debug("Pipeline resources allocated")

	return alloc, nil
}

func (a *Allocator) pickHead(windows []WindowRequest) (int, error) {
	if len(windows) == 0 {
		for head := 0; head < a.capacity.Heads; head++ {
			if _, taken := a.heads[head]; !taken {
				return head, nil
			}
		}
		return 0, conflict("no free head")
	}

	head := windows[0].ResolvedHead()
	for _, w := range windows[1:] {
		if w.ResolvedHead() != head {
			return 0, conflict("windows span heads %d and %d", head, w.ResolvedHead())
		}
	}
	if head < 0 || head >= a.capacity.Heads {
		return 0, conflict("head %d does not exist", head)
	}
	if owner, taken := a.heads[head]; taken {
		return 0, conflict("head %d owned by allocation %d", head, owner)
	}
	return head, nil
}

func (a *Allocator) pickOR(partner *Allocation) (int, error) {
	if partner != nil {
		if partner.released || a.live[partner.ID] != partner {
			return 0, conflict("dual-stream partner allocation %d is not live", partner.ID)
		}
		if len(a.ors[partner.OR]) > 1 {
			return 0, conflict("or %d already shared", partner.OR)
		}
		return partner.OR, nil
	}
	for or := 0; or < a.capacity.ORs; or++ {
		if len(a.ors[or]) == 0 {
			return or, nil
		}
	}
	return 0, conflict("no free output serializer")
}

func (a *Allocator) checkCurveSlots(need int) error {
	if a.capacity.CurveSlots > 0 && a.curveSlotsUsed+need > a.capacity.CurveSlots {
		return conflict("need %d curve slots, %d of %d in use", need, a.curveSlotsUsed, a.capacity.CurveSlots)
	}
	return nil
}

// ReserveCurves adds lookup-curve resources to an allocation made for a
// mode that did not need them.
func (a *Allocator) ReserveCurves(alloc *Allocation, mode display.DynamicRangeMode) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !mode.NeedsCurves() || alloc.CurveSlots > 0 {
		return nil
	}
	if alloc.released {
		return conflict("allocation %d already released", alloc.ID)
	}
	need := len(alloc.Windows) + 1
	if err := a.checkCurveSlots(need); err != nil {
		return err
	}
	a.curveSlotsUsed += need
	alloc.CurveSlots = need
	return nil
}

// Release returns the allocation's resources. Releasing twice is a no-op.
func (a *Allocator) Release(alloc *Allocation) {
	if alloc == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if alloc.released {
		return
	}
	alloc.released = true
	delete(a.live, alloc.ID)
	if a.heads[alloc.Head] == alloc.ID {
		delete(a.heads, alloc.Head)
	}
	for _, w := range alloc.Windows {
		if a.windows[w.Physical] == alloc.ID {
			delete(a.windows, w.Physical)
		}
	}
	owners := slices.DeleteFunc(a.ors[alloc.OR], func(id uint64) bool { return id == alloc.ID })
	if len(owners) == 0 {
		delete(a.ors, alloc.OR)
	} else {
		a.ors[alloc.OR] = owners
	}
	a.curveSlotsUsed -= alloc.CurveSlots

	logrus.WithFields(logrus.Fields{"panel": alloc.Panel, "head": alloc.Head, "or": alloc.OR}).
		Debug("Pipeline resources released")
}

// Live returns the allocations that have not been released, ordered by id.
func (a *Allocator) Live() []*Allocation {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := slices.Sorted(maps.Keys(a.live))
	out := make([]*Allocation, 0, len(ids))
	for _, id := range ids {
		out = append(out, a.live[id])
	}
	return out
}
