package catalog

import (
	"fmt"
	"slices"
	"strings"

	"github.com/fiffeek/modesetcfg/internal/display"
	"github.com/fiffeek/modesetcfg/internal/errs"
)

// ResolveProtocol maps a platform protocol token to an output protocol.
// Plain DisplayPort tokens resolve to multi-stream when the connector
// carries a multi-stream topology.
func ResolveProtocol(token string, multiStream bool) (display.Protocol, error) {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "SINGLE_TMDS_A", "SINGLE_TMDS_B", "DUAL_TMDS":
		return display.ProtocolTMDS, nil
	case "HDMI_A", "HDMI_B":
		return display.ProtocolHDMI, nil
	case "HDMI_FRL":
		return display.ProtocolHDMIFRL, nil
	case "DP_A", "DP_B":
		if multiStream {
			return display.ProtocolDPMultiStream, nil
		}
		return display.ProtocolDPSingleStream, nil
	case "DP_DUAL_SST":
		return display.ProtocolDPDualSingleStream, nil
	case "DP_DUAL_MST":
		return display.ProtocolDPDualMultiStream, nil
	case "EDP":
		return display.ProtocolEmbeddedDP, nil
	case "DSI":
		return display.ProtocolDSI, nil
	}
	return display.ProtocolUnknown, fmt.Errorf("%w: unknown protocol %q", errs.ErrProtocolResolution, token)
}

// Filter is an ordered set of accepted protocol tokens. The empty filter
// accepts everything.
type Filter []string

func ParseFilter(raw string) Filter {
	filter := Filter{}
	for token := range strings.SplitSeq(raw, ",") {
		token = strings.ToUpper(strings.TrimSpace(token))
		if token != "" && !slices.Contains(filter, token) {
			filter = append(filter, token)
		}
	}
	return filter
}

func (f Filter) Matches(token string) bool {
	if len(f) == 0 {
		return true
	}
	return slices.Contains(f, strings.ToUpper(strings.TrimSpace(token)))
}

func (f Filter) String() string {
	if len(f) == 0 {
		return "*"
	}
	return strings.Join(f, ",")
}
