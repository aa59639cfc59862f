package catalog_test

import (
	"testing"

	"github.com/fiffeek/modesetcfg/internal/catalog"
	"github.com/fiffeek/modesetcfg/internal/display"
	"github.com/fiffeek/modesetcfg/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveProtocol(t *testing.T) {
	tests := []struct {
		token       string
		multiStream bool
		expected    display.Protocol
		expectError bool
	}{
		{token: "SINGLE_TMDS_A", expected: display.ProtocolTMDS},
		{token: "SINGLE_TMDS_B", expected: display.ProtocolTMDS},
		{token: "DUAL_TMDS", expected: display.ProtocolTMDS},
		{token: "HDMI_A", expected: display.ProtocolHDMI},
		{token: "hdmi_frl", expected: display.ProtocolHDMIFRL},
		{token: "DP_A", expected: display.ProtocolDPSingleStream},
		{token: "DP_B", multiStream: true, expected: display.ProtocolDPMultiStream},
		{token: "DP_DUAL_SST", multiStream: true, expected: display.ProtocolDPDualSingleStream},
		{token: "DP_DUAL_MST", expected: display.ProtocolDPDualMultiStream},
		{token: "EDP", expected: display.ProtocolEmbeddedDP},
		{token: "DSI", expected: display.ProtocolDSI},
		{token: "LVDS", expectError: true},
		{token: "", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			protocol, err := catalog.ResolveProtocol(tt.token, tt.multiStream)
			if tt.expectError {
				assert.ErrorIs(t, err, errs.ErrProtocolResolution)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, protocol)
		})
	}
}

func TestFilter(t *testing.T) {
	filter := catalog.ParseFilter(" DP_A,,hdmi_a ,DP_A")
	assert.Equal(t, catalog.Filter{"DP_A", "HDMI_A"}, filter)
	assert.True(t, filter.Matches("dp_a"))
	assert.False(t, filter.Matches("DP_B"))
	assert.Equal(t, "DP_A,HDMI_A", filter.String())

	empty := catalog.ParseFilter("")
	assert.True(t, empty.Matches("DSI"))
	assert.Equal(t, "*", empty.String())
}

func TestIdentity(t *testing.T) {
	blob := catalog.NewIdentity(42)
	require.Len(t, blob, 128)
	assert.True(t, catalog.ValidIdentity(blob))
	assert.NotEqual(t, blob, catalog.NewIdentity(43))

	corrupted := append([]byte{}, blob...)
	corrupted[40] ^= 0xff
	assert.False(t, catalog.ValidIdentity(corrupted))

	refit := catalog.FitIdentity(corrupted, 128)
	assert.True(t, catalog.ValidIdentity(refit), "full sized blobs get their checksum fixed")
	assert.Len(t, catalog.FitIdentity(blob, 0), 128)
	assert.False(t, catalog.ValidIdentity(catalog.FitIdentity(blob, 64)))
}
