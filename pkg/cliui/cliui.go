// Package cliui holds the terminal styling shared by the ragrelay commands:
// spinners, key/value styles, citation lists and markdown rendering.
package cliui

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/papercomputeco/ragrelay/pkg/rag"
)

var (
	SuccessMark  = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Render("✓")
	FailMark     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("✗")
	StepStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))

	KeyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Bold(true)
	ValueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	DimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	NameStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))

	// IDStyle renders conversation and request ids.
	IDStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// spinnerFrames is the braille dot spinner.
var spinnerFrames = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

// Step prints an animated spinner while fn runs, then replaces it with
// a ✓ or ✗ checkmark and elapsed time.
func Step(w io.Writer, msg string, fn func() error) error {
	done := make(chan struct{})
	stopped := make(chan struct{})

	// Run spinner animation in background
	go func() {
		defer close(stopped)

		frame := 0
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()

		for {
			fmt.Fprintf(w, "\r  %s %s",
				spinnerStyle.Render(spinnerFrames[frame%len(spinnerFrames)]),
				msg,
			)

			select {
			case <-done:
				return
			case <-ticker.C:
				frame++
			}
		}
	}()

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	close(done)
	<-stopped

	// Clear the spinner line and print final result
	fmt.Fprintf(w, "\r  %s %s %s\n",
		Mark(err),
		msg,
		StepStyle.Render(fmt.Sprintf("(%s)", FormatDuration(elapsed))),
	)

	return err
}

// Mark returns a ✓ for nil errors or ✗ for non-nil errors.
func Mark(err error) string {
	if err != nil {
		return FailMark
	}
	return SuccessMark
}

// FormatDuration formats a duration for display (e.g. "12ms" or "3.2s").
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// RenderMarkdown renders markdown content for terminal display using glamour.
func RenderMarkdown(content string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return content, err
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content, err
	}

	return rendered, nil
}

// KeyValue prints one aligned "key  value" line. An empty value prints as
// <not set>.
func KeyValue(w io.Writer, key, value string, width int) {
	label := fmt.Sprintf("%-*s", width, key)
	if value == "" {
		fmt.Fprintf(w, "  %s  %s\n", KeyStyle.Render(label), DimStyle.Render("<not set>"))
		return
	}
	fmt.Fprintf(w, "  %s  %s\n", KeyStyle.Render(label), ValueStyle.Render(value))
}

// RenderCitations prints the sources of an answer, one per line.
func RenderCitations(w io.Writer, citations []rag.Citation) {
	if len(citations) == 0 {
		return
	}

	fmt.Fprintf(w, "  %s\n", KeyStyle.Render("Sources:"))
	for _, c := range citations {
		fmt.Fprintf(w, "    %s %s %s\n",
			DimStyle.Render(fmt.Sprintf("[%d]", c.Index)),
			NameStyle.Render(c.DocumentName),
			DimStyle.Render(fmt.Sprintf("chunk %d, score %.2f", c.ChunkIndex, c.Score)),
		)
	}
}
