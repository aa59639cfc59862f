package display

import (
	"fmt"
	"strings"

	"github.com/fiffeek/modesetcfg/internal/utils"
)

type hasValue interface {
	comparable
	Value() string
}

func parseEnum[T hasValue](all []T, raw any) (T, error) {
	var zero T
	s, ok := raw.(string)
	if !ok {
		return zero, fmt.Errorf("value %v is not a string type", raw)
	}
	for _, enum := range all {
		if strings.EqualFold(enum.Value(), s) {
			return enum, nil
		}
	}
	return zero, fmt.Errorf("invalid enum value %s, expected one of %s", s, utils.FormatEnumTypes(all))
}

type DynamicRangeMode int

const (
	DynamicRangeBypass DynamicRangeMode = iota
	DynamicRangeSDR
	DynamicRangeHDR
)

func AllDynamicRangeModes() []DynamicRangeMode {
	return []DynamicRangeMode{DynamicRangeBypass, DynamicRangeSDR, DynamicRangeHDR}
}

func (m DynamicRangeMode) Value() string {
	switch m {
	case DynamicRangeBypass:
		return "bypass"
	case DynamicRangeSDR:
		return "sdr"
	case DynamicRangeHDR:
		return "hdr"
	}
	return ""
}

func (m DynamicRangeMode) String() string {
	return m.Value()
}

// NeedsCurves is false only for bypass, where the curve pipeline is left alone.
func (m DynamicRangeMode) NeedsCurves() bool {
	return m != DynamicRangeBypass
}

func (m DynamicRangeMode) MarshalText() ([]byte, error) {
	return []byte(m.Value()), nil
}

func (m *DynamicRangeMode) UnmarshalTOML(value any) error {
	v, err := parseEnum(AllDynamicRangeModes(), value)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

type Gamut int

const (
	GamutREC709 Gamut = iota
	GamutDCIP3
	GamutBT2020
	GamutD60DCI
	GamutAdobe98
)

func AllGamuts() []Gamut {
	return []Gamut{GamutREC709, GamutDCIP3, GamutBT2020, GamutD60DCI, GamutAdobe98}
}

func (g Gamut) Value() string {
	switch g {
	case GamutREC709:
		return "REC709"
	case GamutDCIP3:
		return "DCI_P3"
	case GamutBT2020:
		return "BT2020"
	case GamutD60DCI:
		return "D60_DCI"
	case GamutAdobe98:
		return "ADOBE98"
	}
	return ""
}

func (g Gamut) MarshalText() ([]byte, error) {
	return []byte(g.Value()), nil
}

func (g *Gamut) UnmarshalTOML(value any) error {
	v, err := parseEnum(AllGamuts(), value)
	if err != nil {
		return err
	}
	*g = v
	return nil
}

type Curve int

const (
	CurveNone Curve = iota
	CurveLinear
	CurveSRGB
	CurveGamma22
	CurvePQ
	CurveHLG
	CurveBT2390
)

func AllCurves() []Curve {
	return []Curve{CurveNone, CurveLinear, CurveSRGB, CurveGamma22, CurvePQ, CurveHLG, CurveBT2390}
}

func (c Curve) Value() string {
	switch c {
	case CurveNone:
		return "none"
	case CurveLinear:
		return "linear"
	case CurveSRGB:
		return "srgb"
	case CurveGamma22:
		return "gamma22"
	case CurvePQ:
		return "pq"
	case CurveHLG:
		return "hlg"
	case CurveBT2390:
		return "bt2390"
	}
	return ""
}

func (c Curve) String() string {
	return c.Value()
}

func (c Curve) MarshalText() ([]byte, error) {
	return []byte(c.Value()), nil
}

func (c *Curve) UnmarshalTOML(value any) error {
	v, err := parseEnum(AllCurves(), value)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

type WindowCurves struct {
	Input       Curve
	ToneMapping Curve
}

type ColorCurveSet struct {
	Input       Curve
	ToneMapping Curve
	Output      Curve
	// Gamut is only used for the dynamic-range metadata packet.
	Gamut Gamut
	// Windows overrides Input/ToneMapping for individual logical windows.
	Windows map[int]WindowCurves
}

func (c ColorCurveSet) ForWindow(logical int) WindowCurves {
	if override, ok := c.Windows[logical]; ok {
		return override
	}
	return WindowCurves{Input: c.Input, ToneMapping: c.ToneMapping}
}

type Raster struct {
	Width     int
	Height    int
	Depth     int
	RefreshHz int
}

func (r Raster) String() string {
	return fmt.Sprintf("%dx%dx%d@%d", r.Width, r.Height, r.Depth, r.RefreshHz)
}

func (r Raster) IsZero() bool {
	return r == Raster{}
}

// Signature is an opaque captured output checksum.
type Signature string
