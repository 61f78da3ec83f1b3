package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/angleyanalbedo/generatestcode/internal/dataset"
	"github.com/angleyanalbedo/generatestcode/internal/export"
	"github.com/angleyanalbedo/generatestcode/internal/pipeline"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Width(20)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("205")).
			Padding(1, 2)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

func row(label string, value any) string {
	return labelStyle.Render(label) + fmt.Sprint(value)
}

// renderSummary draws the end-of-run report. target may be zero.
func renderSummary(s *pipeline.Summary, target int) string {
	title := "Run complete"
	if s.Cancelled {
		title = "Run cancelled"
	}

	lines := []string{
		titleStyle.Render(title),
		row("run", s.RunID),
		row("duration", s.Duration().Round(time.Millisecond)),
		row("tasks", s.Tasks),
		"",
		row("accepted", successStyle.Render(fmt.Sprint(s.Accepted()))),
		row("syntax rejects", s.Syntax()),
		row("compiler rejects", s.Semantic()),
		row("system errors", s.SystemErrors()),
		"",
	}

	for _, o := range []dataset.Outcome{
		dataset.OutcomeAccepted, dataset.OutcomeDuplicate, dataset.OutcomeExhausted,
		dataset.OutcomeSystemError, dataset.OutcomeFailed, dataset.OutcomeIncomplete,
	} {
		if n := s.Outcomes[o]; n > 0 {
			lines = append(lines, row("tasks "+string(o), n))
		}
	}
	for _, st := range []dataset.Stream{dataset.StreamSFT, dataset.StreamDPO, dataset.StreamNegative} {
		lines = append(lines, row(string(st)+" records", s.Records[st]))
	}
	if s.SeedsSkipped > 0 {
		lines = append(lines, row("seeds skipped", dimStyle.Render(fmt.Sprintf("%d (already in output)", s.SeedsSkipped))))
	}
	if s.EvolutionExhausted > 0 {
		lines = append(lines, row("evolution exhausted", warnStyle.Render(fmt.Sprint(s.EvolutionExhausted))))
	}
	lines = append(lines, row("exemplars held", s.ExemplarsHeld))

	if target > 0 {
		pct := float64(s.Records[dataset.StreamSFT]) / float64(target)
		if pct > 1 {
			pct = 1
		}
		bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(40))
		lines = append(lines, "", row("target", fmt.Sprintf("%d / %d", s.Records[dataset.StreamSFT], target)), bar.ViewAs(pct))
	}

	return boxStyle.Render(strings.Join(lines, "\n"))
}

func renderChecks(results []checkResult) string {
	lines := []string{titleStyle.Render("Environment check")}
	for _, r := range results {
		mark := successStyle.Render("✓")
		detail := dimStyle.Render(r.detail)
		if r.err != nil {
			mark = errorStyle.Render("✗")
			detail = errorStyle.Render(r.err.Error())
		}
		lines = append(lines, fmt.Sprintf("%s %s%s", mark, labelStyle.Render(r.name), detail))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func renderImport(res importResult) string {
	return boxStyle.Render(strings.Join([]string{
		titleStyle.Render("Golden import"),
		row("files", res.Files),
		row("records", res.Records),
		row("exemplars offered", res.Exemplars),
	}, "\n"))
}

func renderUploads(uploaded []export.Uploaded) string {
	lines := []string{titleStyle.Render("Export")}
	for _, u := range uploaded {
		lines = append(lines, fmt.Sprintf("%s %s %s",
			successStyle.Render("✓"), u.Key, dimStyle.Render(fmt.Sprintf("(%d bytes)", u.Size))))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}
