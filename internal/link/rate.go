package link

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fiffeek/modesetcfg/internal/platform"
)

type Rate int

const (
	RateUnset Rate = iota
	RateRBR
	RateHBR
	RateHBR2
	RateHBR3
	RateFRL3G
	RateFRL6G
	RateFRL8G
	RateFRL10G
	RateFRL12G
)

func AllRates() []Rate {
	return []Rate{
		RateRBR, RateHBR, RateHBR2, RateHBR3,
		RateFRL3G, RateFRL6G, RateFRL8G, RateFRL10G, RateFRL12G,
	}
}

func (r Rate) Value() string {
	switch r {
	case RateRBR:
		return "RBR"
	case RateHBR:
		return "HBR"
	case RateHBR2:
		return "HBR2"
	case RateHBR3:
		return "HBR3"
	case RateFRL3G:
		return "FRL_3G"
	case RateFRL6G:
		return "FRL_6G"
	case RateFRL8G:
		return "FRL_8G"
	case RateFRL10G:
		return "FRL_10G"
	case RateFRL12G:
		return "FRL_12G"
	}
	return "UNSET"
}

func (r Rate) String() string {
	return r.Value()
}

// Mbps is the per-lane line rate.
func (r Rate) Mbps() int {
	switch r {
	case RateRBR:
		return 1620
	case RateHBR:
		return 2700
	case RateHBR2:
		return 5400
	case RateHBR3:
		return 8100
	case RateFRL3G:
		return 3000
	case RateFRL6G:
		return 6000
	case RateFRL8G:
		return 8000
	case RateFRL10G:
		return 10000
	case RateFRL12G:
		return 12000
	}
	return 0
}

func (r Rate) Protocol() platform.LinkProtocol {
	switch r {
	case RateRBR, RateHBR, RateHBR2, RateHBR3:
		return platform.LinkDisplayPort
	case RateFRL3G, RateFRL6G, RateFRL8G, RateFRL10G, RateFRL12G:
		return platform.LinkFRL
	}
	return platform.LinkNone
}

func (r Rate) MarshalText() ([]byte, error) {
	return []byte(r.Value()), nil
}

func (r *Rate) UnmarshalTOML(value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("value %v is not a string type", value)
	}
	for _, rate := range AllRates() {
		if strings.EqualFold(rate.Value(), s) {
			*r = rate
			return nil
		}
	}
	return errors.New("invalid link rate " + s)
}

type Candidate struct {
	Rate  Rate
	Lanes int
}

func (c Candidate) BandwidthMbps() int {
	return c.Rate.Mbps() * c.Lanes
}

func (c Candidate) String() string {
	return fmt.Sprintf("%sx%d", c.Rate, c.Lanes)
}

func (c Candidate) setting(fec bool) platform.LinkSetting {
	return platform.LinkSetting{
		Protocol: c.Rate.Protocol(),
		RateMbps: c.Rate.Mbps(),
		Lanes:    c.Lanes,
		FEC:      fec && c.Rate.Protocol() == platform.LinkDisplayPort,
	}
}

// Configuration is the negotiated link. The zero value means "use the
// link-assessed maximum".
type Configuration struct {
	Rate  Rate
	Lanes int
	// FEC is only meaningful for DisplayPort.
	FEC bool
}

func (c Configuration) IsAssessedMax() bool {
	return c.Rate == RateUnset
}

func (c Configuration) Setting() platform.LinkSetting {
	if c.IsAssessedMax() {
		return platform.LinkSetting{}
	}
	return Candidate{Rate: c.Rate, Lanes: c.Lanes}.setting(c.FEC)
}

func (c Configuration) String() string {
	if c.IsAssessedMax() {
		return "assessed-max"
	}
	if c.FEC {
		return fmt.Sprintf("%sx%d+fec", c.Rate, c.Lanes)
	}
	return fmt.Sprintf("%sx%d", c.Rate, c.Lanes)
}
