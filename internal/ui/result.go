package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Result is a boxed outcome shown when a command finishes.
type Result struct {
	Success bool
	Title   string  // e.g., "Capture stopped"
	Details []Field // Key-value details in display order
	Error   error   // Shown for failures
	Width   int
}

// NewSuccessResult creates a success result box
func NewSuccessResult(title string, details ...Field) *Result {
	return &Result{
		Success: true,
		Title:   title,
		Details: details,
		Width:   GetTerminalWidth(),
	}
}

// NewFailureResult creates a failure result box
func NewFailureResult(title string, err error, details ...Field) *Result {
	return &Result{
		Title:   title,
		Error:   err,
		Details: details,
		Width:   GetTerminalWidth(),
	}
}

// SetWidth sets the terminal width for responsive rendering
func (r *Result) SetWidth(width int) *Result {
	r.Width = width
	return r
}

// AddDetail appends a detail line
func (r *Result) AddDetail(key, value string) *Result {
	r.Details = append(r.Details, Field{Key: key, Value: value})
	return r
}

// Render returns the styled result box as a string
func (r *Result) Render() string {
	width := r.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	color := SuccessColor
	title := SuccessTitleStyle.Render(fmt.Sprintf("%s  %s", SuccessMarker, r.Title))
	if !r.Success {
		color = ErrorColor
		title = ErrorTitleStyle.Render(fmt.Sprintf("%s  %s", FailureMarker, r.Title))
	}

	lines := []string{title, ""}
	for _, d := range r.Details {
		lines = append(lines, ResultKeyStyle.Render(d.Key+":")+" "+ResultValueStyle.Render(d.Value))
	}
	if r.Error != nil {
		if len(r.Details) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, ErrorMessageStyle.Render(r.Error.Error()))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(color).
		Width(width-2).
		Padding(0, 2).
		Render(strings.Join(lines, "\n"))
}

// String implements fmt.Stringer
func (r *Result) String() string {
	return r.Render()
}
