package report

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	passedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	skippedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).PaddingLeft(2)
	mutedStyle   = lipgloss.NewStyle().Faint(true)
)

var columns = []string{"PANEL", "PROTOCOL", "FAMILY", "SYNTH", "STATE", "LINK", "RASTER", "VRR", "RESULT"}

func outcomeStyle(o Outcome) lipgloss.Style {
	switch o {
	case OutcomePassed:
		return passedStyle
	case OutcomeFailed:
		return failedStyle
	default:
		return skippedStyle
	}
}

func row(r PanelResult) []string {
	synthetic := "no"
	if r.Synthetic {
		synthetic = "yes"
	}
	vrr := "-"
	if r.Frames > 0 || r.Underflows > 0 {
		vrr = strconv.Itoa(r.Frames) + "f/" + strconv.Itoa(r.Underflows) + "u"
	}
	result := r.Outcome.Value()
	if r.BaselineCreated {
		result += " (baseline)"
	}
	return []string{r.Name, r.Protocol, r.Family, synthetic, r.State, dash(r.Link), dash(r.Raster), vrr, result}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Render draws one line per result followed by the failure details and a
// headline.
func Render(s *Summary) string {
	rows := make([][]string, 0, len(s.Results))
	for _, r := range s.Results {
		rows = append(rows, row(r))
	}

	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = lipgloss.Width(c)
	}
	for _, cells := range rows {
		for i, cell := range cells {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var b strings.Builder
	b.WriteString(renderLine(columns, widths, func(int) lipgloss.Style { return headerStyle }))
	b.WriteString("\n")
	for i, cells := range rows {
		outcome := s.Results[i].Outcome
		b.WriteString(renderLine(cells, widths, func(col int) lipgloss.Style {
			if col == len(columns)-1 {
				return outcomeStyle(outcome)
			}
			return lipgloss.NewStyle()
		}))
		b.WriteString("\n")
	}

	for _, r := range s.Results {
		if r.Err == nil {
			continue
		}
		b.WriteString(errorStyle.Render(r.Name + ": " + r.Err.Error()))
		b.WriteString("\n")
	}

	headline := s.Headline()
	if s.Aborted {
		headline += ", run aborted"
	}
	b.WriteString(mutedStyle.Render(headline))
	b.WriteString("\n")
	return b.String()
}

func renderLine(cells []string, widths []int, style func(col int) lipgloss.Style) string {
	rendered := make([]string, 0, len(cells))
	for i, cell := range cells {
		st := style(i)
		// the last column is not padded to keep lines free of trailing spaces
		if i < len(cells)-1 {
			st = st.Width(widths[i])
		}
		rendered = append(rendered, st.Render(cell))
	}
	return strings.Join(rendered, "  ")
}
