// Package presenter provides consistent CLI output functionality for user-facing messages,
// including success, error, warning, and informational output with color support and quiet mode.
package presenter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/aymanbagabas/go-udiff"
	"github.com/fatih/color"

	"github.com/sqlpilot/sqlpilot/pkg/engine"
)

// UsageStats is the token spend of one question, by pipeline stage
type UsageStats struct {
	Classification int
	TableSelection int
	Generation     int
	Response       int
	Repair         int
	Total          int
}

// maxRowsShown caps how many result rows Rows prints
const maxRowsShown = 50

// Presenter defines the interface for consistent CLI output
type Presenter interface {
	Error(err error, context string)
	Success(message string)
	Warning(message string)
	Info(message string)
	Section(title string)
	Prompt(question string, options ...string) string
	Stats(usage *UsageStats)
	SQL(statement string)
	Rows(columns []string, data []map[string]any)
	RepairDiff(original, repaired string)
	Separator()
	SetQuiet(quiet bool)
	IsQuiet() bool
}

// TerminalPresenter implements Presenter for terminal output
type TerminalPresenter struct {
	output      io.Writer
	errorOutput io.Writer
	colorMode   ColorMode
	quiet       bool
}

// ColorMode represents different color output modes
type ColorMode int

const (
	// ColorAuto automatically detects whether to use colored output based on terminal capabilities
	ColorAuto ColorMode = iota
	// ColorAlways forces colored output regardless of terminal capabilities
	ColorAlways
	// ColorNever disables colored output regardless of terminal capabilities
	ColorNever
)

// New creates a new TerminalPresenter with default settings
func New() *TerminalPresenter {
	return NewWithOptions(os.Stdout, os.Stderr, detectColorMode())
}

// NewWithOptions creates a TerminalPresenter with custom settings
func NewWithOptions(output, errorOutput io.Writer, colorMode ColorMode) *TerminalPresenter {
	presenter := &TerminalPresenter{
		output:      output,
		errorOutput: errorOutput,
		colorMode:   colorMode,
		quiet:       false,
	}

	// Configure color package based on mode
	switch colorMode {
	case ColorAlways:
		color.NoColor = false
	case ColorNever:
		color.NoColor = true
	case ColorAuto:
		// Let color package auto-detect
	}

	return presenter
}

// detectColorMode determines the appropriate color mode based on environment
func detectColorMode() ColorMode {
	// Check explicit environment variables
	if os.Getenv("NO_COLOR") != "" {
		return ColorNever
	}

	switch os.Getenv("SQLPILOT_COLOR") {
	case "always", "force":
		return ColorAlways
	case "never", "off":
		return ColorNever
	case "auto", "":
		return ColorAuto
	default:
		return ColorAuto
	}
}

// Error displays an error message to stderr
func (p *TerminalPresenter) Error(err error, context string) {
	if err == nil {
		return
	}

	errorColor := color.New(color.FgRed, color.Bold)
	if context != "" {
		errorColor.Fprintf(p.errorOutput, "[ERROR] %s: %v\n", context, err)
	} else {
		errorColor.Fprintf(p.errorOutput, "[ERROR] %v\n", err)
	}
}

// Success displays a success message
func (p *TerminalPresenter) Success(message string) {
	if p.quiet {
		return
	}

	successColor := color.New(color.FgGreen, color.Bold)
	successColor.Fprintf(p.output, "✓ %s\n", message)
}

// Warning displays a warning message
func (p *TerminalPresenter) Warning(message string) {
	if p.quiet {
		return
	}

	warningColor := color.New(color.FgYellow, color.Bold)
	warningColor.Fprintf(p.output, "⚠ %s\n", message)
}

// Info displays an informational message
func (p *TerminalPresenter) Info(message string) {
	if p.quiet {
		return
	}

	fmt.Fprintf(p.output, "%s\n", message)
}

// Section displays a section header with consistent formatting
func (p *TerminalPresenter) Section(title string) {
	if p.quiet {
		return
	}

	headerColor := color.New(color.Bold)
	separator := strings.Repeat("-", len(title))

	headerColor.Fprintf(p.output, "%s\n", title)
	headerColor.Fprintf(p.output, "%s\n", separator)
}

// Prompt displays a prompt and reads user input
func (p *TerminalPresenter) Prompt(question string, options ...string) string {
	promptColor := color.New(color.FgCyan)

	if len(options) > 0 {
		optionsStr := strings.Join(options, "/")
		promptColor.Fprintf(p.output, "%s [%s]: ", question, optionsStr)
	} else {
		promptColor.Fprintf(p.output, "%s: ", question)
	}

	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return ""
	}

	return strings.TrimSpace(response)
}

// Stats displays token usage in a consistent format
func (p *TerminalPresenter) Stats(usage *UsageStats) {
	if p.quiet || usage == nil {
		return
	}

	statsColor := color.New(color.FgCyan, color.Bold)
	statsColor.Fprintf(p.output, "[Usage Stats] Intent: %d | Tables: %d | SQL: %d | Response: %d | Total: %d\n",
		usage.Classification, usage.TableSelection, usage.Generation, usage.Response, usage.Total)
	if usage.Repair > 0 {
		statsColor.Fprintf(p.output, "[Repair Stats] Repair tokens: %d\n", usage.Repair)
	}
}

// SQL prints a statement on its own, highlighted
func (p *TerminalPresenter) SQL(statement string) {
	if statement == "" {
		return
	}
	sqlColor := color.New(color.FgMagenta)
	sqlColor.Fprintf(p.output, "%s\n", strings.TrimSpace(statement))
}

// Rows prints query results as an aligned table
func (p *TerminalPresenter) Rows(columns []string, data []map[string]any) {
	w := tabwriter.NewWriter(p.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(columns, "\t"))

	for i, row := range data {
		if i == maxRowsShown {
			break
		}
		values := make([]string, len(columns))
		for j, col := range columns {
			values[j] = formatValue(row[col])
		}
		fmt.Fprintln(w, strings.Join(values, "\t"))
	}
	w.Flush()

	if len(data) > maxRowsShown {
		fmt.Fprintf(p.output, "... %d more rows\n", len(data)-maxRowsShown)
	}
	fmt.Fprintf(p.output, "(%d rows)\n", len(data))
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}

// RepairDiff shows how a failing statement was rewritten
func (p *TerminalPresenter) RepairDiff(original, repaired string) {
	if p.quiet || original == repaired {
		return
	}

	diff := udiff.Unified("original", "repaired", original+"\n", repaired+"\n")
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			added.Fprintln(p.output, line)
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			removed.Fprintln(p.output, line)
		default:
			fmt.Fprintln(p.output, line)
		}
	}
}

// Separator displays a visual separator
func (p *TerminalPresenter) Separator() {
	if p.quiet {
		return
	}

	separatorColor := color.New(color.Faint)
	separatorColor.Fprintf(p.output, "%s\n", strings.Repeat("-", 60))
}

// SetQuiet enables or disables quiet mode
func (p *TerminalPresenter) SetQuiet(quiet bool) {
	p.quiet = quiet
}

// IsQuiet returns whether quiet mode is enabled
func (p *TerminalPresenter) IsQuiet() bool {
	return p.quiet
}

// ConvertTokenBreakdown converts an answer's token breakdown, plus any
// tokens spent repairing its statement, to UsageStats
func ConvertTokenBreakdown(b engine.TokenBreakdown, repairTokens int) *UsageStats {
	stats := &UsageStats{
		Classification: b.IntentClassification.TotalTokens,
		Repair:         repairTokens,
		Total:          b.TotalTokensUsed + repairTokens,
	}
	if b.TableSelection != nil {
		stats.TableSelection = b.TableSelection.TotalTokens
	}
	if b.SQLGeneration != nil {
		stats.Generation = b.SQLGeneration.TotalTokens
	}
	if b.Response != nil {
		stats.Response = b.Response.TotalTokens
	}
	return stats
}

// Global presenter instance for convenience
var defaultPresenter = New()

// Error displays an error message using the default presenter instance.
func Error(err error, context string) {
	defaultPresenter.Error(err, context)
}

// Success displays a success message using the default presenter instance.
func Success(message string) {
	defaultPresenter.Success(message)
}

// Warning displays a warning message using the default presenter instance.
func Warning(message string) {
	defaultPresenter.Warning(message)
}

// Info displays an informational message using the default presenter instance.
func Info(message string) {
	defaultPresenter.Info(message)
}

// Section displays a section header using the default presenter instance.
func Section(title string) {
	defaultPresenter.Section(title)
}

// Prompt displays a prompt and reads user input using the default presenter instance.
func Prompt(question string, options ...string) string {
	return defaultPresenter.Prompt(question, options...)
}

// Stats displays usage statistics using the default presenter instance.
func Stats(usage *UsageStats) {
	defaultPresenter.Stats(usage)
}

// SQL prints a statement using the default presenter instance.
func SQL(statement string) {
	defaultPresenter.SQL(statement)
}

// Rows prints query results using the default presenter instance.
func Rows(columns []string, data []map[string]any) {
	defaultPresenter.Rows(columns, data)
}

// RepairDiff shows a statement repair using the default presenter instance.
func RepairDiff(original, repaired string) {
	defaultPresenter.RepairDiff(original, repaired)
}

// Separator displays a visual separator using the default presenter instance.
func Separator() {
	defaultPresenter.Separator()
}

// SetQuiet enables or disables quiet mode for the default presenter instance.
func SetQuiet(quiet bool) {
	defaultPresenter.SetQuiet(quiet)
}

// IsQuiet returns whether quiet mode is enabled for the default presenter instance.
func IsQuiet() bool {
	return defaultPresenter.IsQuiet()
}
