package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/xia2/xia2-sub002/internal/event"
	"github.com/xia2/xia2-sub002/internal/report"
	"github.com/xia2/xia2-sub002/internal/util"
)

var (
	stageStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	retryStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	warnStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

// progress renders bus events as one line each.
type progress struct {
	w      io.Writer
	styled bool
	width  int // 0 when lines are not clipped
}

func (p progress) style(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

// line formats e, or returns "" for events that are not shown.
func (p progress) line(e event.Event) string {
	switch e := e.(type) {
	case event.StageChangedEvent:
		if e.Retry {
			return fmt.Sprintf("%s %s -> %s: %s", p.style(retryStyle, "retry"), e.From, e.To, e.Reason)
		}
		return fmt.Sprintf("%s %s complete", p.style(stageStyle, "stage"), e.From)
	case event.SweepReprocessEvent:
		return fmt.Sprintf("%s sweep %s must be reprocessed in lattice %s", p.style(retryStyle, "reprocess"), e.Sweep, e.Lattice)
	case event.ResolutionChangedEvent:
		source := "estimated"
		if e.Override {
			source = "configured"
		}
		return fmt.Sprintf("resolution %s: %.2f Å (%s)", e.Dataset, e.Current, source)
	case event.ModelSelectedEvent:
		var on []string
		for _, c := range []struct {
			name    string
			enabled bool
		}{{"absorption", e.Absorption}, {"partiality", e.Partiality}, {"decay", e.Decay}} {
			if c.enabled {
				on = append(on, c.name)
			}
		}
		if len(on) == 0 {
			on = []string{"none"}
		}
		return fmt.Sprintf("corrections: %s", strings.Join(on, ", "))
	case event.DamageFindingEvent:
		if !e.Damaged {
			return ""
		}
		return fmt.Sprintf("%s radiation damage in %s (score %.2f)", p.style(warnStyle, "warning"), strings.Join(e.Sweeps, ", "), e.Score)
	}
	return ""
}

func (p progress) handle(e event.Event) {
	if l := p.line(e); l != "" {
		fmt.Fprintln(p.w, util.Clip(l, p.width))
	}
}

// subscribeProgress prints run progress to w until the returned func is
// called.
func subscribeProgress(bus *event.Bus, w io.Writer) (detach func()) {
	p := progress{w: w, styled: report.IsTerminal(w), width: util.TerminalWidth(w)}
	id := bus.SubscribeAll(p.handle)
	return func() { bus.Unsubscribe(id) }
}
