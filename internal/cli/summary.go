package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ryabkov82/fit2gpx/internal/batch"
	"github.com/ryabkov82/fit2gpx/internal/convert"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086"))
)

// progressLine renders one finished file
func progressLine(total int, p batch.Progress) string {
	o := p.Outcome
	prefix := mutedStyle.Render(fmt.Sprintf("[%d/%d]", p.Index+1, total))
	if o.Success {
		return fmt.Sprintf("%s %s %s (%d points)", prefix, successStyle.Render("ok"), o.FileName, o.PointsWritten)
	}
	return fmt.Sprintf("%s %s %s: %s", prefix, errorStyle.Render("fail"), o.FileName, o.ErrorMessage())
}

// outcomeLine renders a single conversion outside a batch
func outcomeLine(o convert.Outcome) string {
	if o.Success {
		return fmt.Sprintf("%s %s -> %s (%d points)", successStyle.Render("ok"), o.FileName, o.OutputPath, o.PointsWritten)
	}
	return fmt.Sprintf("%s %s: %s", errorStyle.Render("fail"), o.FileName, o.ErrorMessage())
}

// writeSummary prints the totals and the failed files of rep
func writeSummary(w io.Writer, rep batch.Report) {
	s := rep.Summary()

	var b strings.Builder
	b.WriteString(titleStyle.Render("Summary"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  files:     %d\n", s.Total)
	fmt.Fprintf(&b, "  succeeded: %s\n", successStyle.Render(fmt.Sprint(s.Succeeded)))
	if s.Failed > 0 {
		fmt.Fprintf(&b, "  failed:    %s\n", errorStyle.Render(fmt.Sprint(s.Failed)))
	} else {
		fmt.Fprintf(&b, "  failed:    %d\n", s.Failed)
	}
	fmt.Fprintf(&b, "  points:    %d\n", s.Points)
	fmt.Fprintf(&b, "  duration:  %s\n", rep.Duration().Round(time.Millisecond))

	if failures := rep.Failures(); len(failures) > 0 {
		b.WriteString(titleStyle.Render("Failed files"))
		b.WriteString("\n")
		for _, f := range failures {
			fmt.Fprintf(&b, "  %s %s %s\n",
				mutedStyle.Render(fmt.Sprintf("#%d", f.Index)),
				f.FileName,
				errorStyle.Render(fmt.Sprintf("[%s] %s", f.Kind, f.Reason)))
		}
		b.WriteString(mutedStyle.Render("run `fit2gpx retry` to convert them again"))
		b.WriteString("\n")
	}

	fmt.Fprint(w, b.String())
}
