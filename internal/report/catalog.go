package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fiffeek/modesetcfg/internal/catalog"
)

var catalogColumns = []string{"PANEL", "CONNECTOR", "PROTOCOL", "FAMILY", "SYNTH", "IDENTITY"}

func catalogRow(entry catalog.Entry) []string {
	synthetic := "no"
	if entry.Panel.Synthetic {
		synthetic = "yes"
	}
	identity := "-"
	if len(entry.Panel.Identity) > 0 {
		identity = fmt.Sprintf("%dB", len(entry.Panel.Identity))
	}
	family := "-"
	if entry.Controller != nil {
		family = entry.Controller.Family().String()
	}
	return []string{entry.Panel.Name(), dash(entry.Panel.Connector), entry.Panel.ProtocolName, family, synthetic, identity}
}

// RenderCatalog draws the enumerated panels followed by the dual-stream pairs.
func RenderCatalog(r *catalog.Result) string {
	rows := make([][]string, 0, len(r.Panels))
	for _, entry := range r.Panels {
		rows = append(rows, catalogRow(entry))
	}
	widths := make([]int, len(catalogColumns))
	for i, c := range catalogColumns {
		widths[i] = lipgloss.Width(c)
	}
	for _, cells := range rows {
		for i, cell := range cells {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	plain := func(int) lipgloss.Style { return lipgloss.NewStyle() }
	var b strings.Builder
	b.WriteString(renderLine(catalogColumns, widths, func(int) lipgloss.Style { return headerStyle }))
	b.WriteString("\n")
	for _, cells := range rows {
		b.WriteString(renderLine(cells, widths, plain))
		b.WriteString("\n")
	}

	for _, pair := range r.Pairs {
		kind := "single-stream"
		if pair.Pair.MultiStream {
			kind = "multi-stream"
		}
		name := r.Descriptor(pair.Pair.Primary).Name() + "+" + r.Descriptor(pair.Pair.Secondary).Name()
		fmt.Fprintf(&b, "pair %s (%s)\n", name, kind)
	}

	b.WriteString(mutedStyle.Render(fmt.Sprintf("%d panels, %d pairs", len(r.Panels), len(r.Pairs))))
	b.WriteString("\n")
	return b.String()
}
