// Package ui renders the terminal output of the msrcap commands.
//
// Components are "print once" values built on Lipgloss:
//
//   - Header: the banner shown when the listener starts
//   - Result: the boxed summary shown when a command finishes
//   - RenderRecord: one capture record as a hex dump, used by inspect
//
// Widths follow the terminal (see GetTerminalWidth) and are clamped between
// MinTerminalWidth and MaxContentWidth. When stdout is not a terminal
// Lipgloss drops the colors, so the output stays readable in files and pipes.
//
// Logging is independent: zap stays silent unless MSRCAP_LOG_LEVEL is set,
// which keeps the banner and summaries readable.
package ui
