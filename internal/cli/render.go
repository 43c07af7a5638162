package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/trymwestin/procare/internal/core/activity"
	"github.com/trymwestin/procare/internal/entries"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	titleStyle   = lipgloss.NewStyle().Bold(true)
	timeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")).Width(18)
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF")).PaddingLeft(18)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#DC2626"))
)

// timeLabel shortens the raw ISO timestamp to "2006-01-02 15:04".
func timeLabel(ts string) string {
	if len(ts) >= 16 {
		return strings.Replace(ts[:16], "T", " ", 1)
	}
	return ts
}

func renderTimeline(w io.Writer, heading string, records []activity.Record) {
	fmt.Fprintln(w, headingStyle.Render(heading))
	if len(records) == 0 {
		fmt.Fprintln(w, detailStyle.Render("no activities in the last week"))
		return
	}
	for _, r := range records {
		fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top, timeStyle.Render(timeLabel(r.Timestamp)), titleStyle.Render(r.Title)))
		if r.Details != "" {
			fmt.Fprintln(w, detailStyle.Render(r.Details))
		}
		if r.Staff != "" {
			fmt.Fprintln(w, detailStyle.Render("staff: "+r.Staff))
		}
	}
}

func renderEntries(w io.Writer, list []entries.Entry) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No linked kids. Run `procared link` to add one.")
		return
	}
	for _, e := range list {
		fmt.Fprintf(w, "%s  %s\n", titleStyle.Render(e.Title), timeStyle.UnsetWidth().Render(fmt.Sprintf("id=%s kid=%s user=%s", e.ID, e.Data.KidID, e.Data.Username)))
	}
}

func renderError(w io.Writer, heading string, err error) {
	fmt.Fprintln(w, headingStyle.Render(heading))
	fmt.Fprintln(w, errorStyle.Render("error: "+err.Error()))
}
