package modeset

import "slices"

type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateResourcesAllocated
	StateLinkTrained
	StateColorProgrammed
	StateCommitted
	StateVerified
	StateDetached
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateResourcesAllocated:
		return "resources-allocated"
	case StateLinkTrained:
		return "link-trained"
	case StateColorProgrammed:
		return "color-programmed"
	case StateCommitted:
		return "committed"
	case StateVerified:
		return "verified"
	case StateDetached:
		return "detached"
	}
	return "unknown"
}

func (s State) in(states ...State) bool {
	return slices.Contains(states, s)
}

// Family selects the protocol-specific controller behavior.
type Family int

const (
	FamilyTMDS Family = iota
	FamilyHDMI
	FamilyHDMIFRL
	FamilyEmbedded
	FamilyDisplayPort
	FamilyDisplayPortDual
)

func (f Family) String() string {
	switch f {
	case FamilyTMDS:
		return "tmds"
	case FamilyHDMI:
		return "hdmi"
	case FamilyHDMIFRL:
		return "hdmi-frl"
	case FamilyEmbedded:
		return "embedded"
	case FamilyDisplayPort:
		return "dp"
	case FamilyDisplayPortDual:
		return "dp-dual"
	}
	return "unknown"
}
