// Package display holds the value types shared by the pipeline configurator.
package display

import (
	"fmt"
	"strconv"
)

type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolTMDS
	ProtocolHDMI
	ProtocolHDMIFRL
	ProtocolDPSingleStream
	ProtocolDPMultiStream
	ProtocolDPDualSingleStream
	ProtocolDPDualMultiStream
	ProtocolEmbeddedDP
	ProtocolDSI
)

func AllProtocols() []Protocol {
	return []Protocol{
		ProtocolTMDS, ProtocolHDMI, ProtocolHDMIFRL, ProtocolDPSingleStream, ProtocolDPMultiStream,
		ProtocolDPDualSingleStream, ProtocolDPDualMultiStream, ProtocolEmbeddedDP, ProtocolDSI,
	}
}

func (p Protocol) Value() string {
	switch p {
	case ProtocolTMDS:
		return "TMDS"
	case ProtocolHDMI:
		return "HDMI"
	case ProtocolHDMIFRL:
		return "HDMI_FRL"
	case ProtocolDPSingleStream:
		return "DP_SST"
	case ProtocolDPMultiStream:
		return "DP_MST"
	case ProtocolDPDualSingleStream:
		return "DP_DUAL_SST"
	case ProtocolDPDualMultiStream:
		return "DP_DUAL_MST"
	case ProtocolEmbeddedDP:
		return "EDP"
	case ProtocolDSI:
		return "DSI"
	}
	return "UNKNOWN"
}

func (p Protocol) String() string {
	return p.Value()
}

func (p Protocol) IsDisplayPort() bool {
	switch p {
	case ProtocolDPSingleStream, ProtocolDPMultiStream, ProtocolDPDualSingleStream,
		ProtocolDPDualMultiStream, ProtocolEmbeddedDP:
		return true
	}
	return false
}

func (p Protocol) IsHDMI() bool {
	return p == ProtocolHDMI || p == ProtocolHDMIFRL
}

func (p Protocol) IsMultiStream() bool {
	return p == ProtocolDPMultiStream || p == ProtocolDPDualMultiStream
}

func (p Protocol) IsDualStream() bool {
	return p == ProtocolDPDualSingleStream || p == ProtocolDPDualMultiStream
}

// NeedsLinkTraining is true for the serial protocols that negotiate a
// rate/lane pair before a raster can be driven.
func (p Protocol) NeedsLinkTraining() bool {
	switch p {
	case ProtocolHDMIFRL, ProtocolDPSingleStream, ProtocolDPMultiStream,
		ProtocolDPDualSingleStream, ProtocolDPDualMultiStream:
		return true
	}
	return false
}

// DisplayID is the opaque handle the platform uses for a display output.
type DisplayID uint32

func (d DisplayID) String() string {
	return "0x" + strconv.FormatUint(uint64(d), 16)
}

// PanelHandle indexes a panel inside a catalog result.
type PanelHandle int

type PanelDescriptor struct {
	Handle       PanelHandle
	Display      DisplayID
	ProtocolName string
	Protocol     Protocol
	Connector    string
	Synthetic    bool
	Identity     []byte
	// Secondary is only set on the descriptor view of a dual-stream pair.
	Secondary *PanelHandle
}

func (d PanelDescriptor) Name() string {
	return fmt.Sprintf("%s#%d", d.ProtocolName, d.Display)
}

func (d PanelDescriptor) IsPair() bool {
	return d.Secondary != nil
}

type PanelPair struct {
	Primary     PanelHandle
	Secondary   PanelHandle
	MultiStream bool
}
