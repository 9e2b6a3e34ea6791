// Package log layers human-readable console output over zerolog. The CLI
// uses it to show per-step results while the structured log keeps the full
// detail.
package log

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
)

// Display configuration.
const (
	stepIndent  = 4  // spaces to indent step entries
	pathWidth   = 45 // base width for the step path
	kindWidth   = 18 // width for the step kind
	statusWidth = 12 // width for status text
)

// StepOperation represents one executed step for logging.
type StepOperation struct {
	Path    string // primary path the step touched
	Kind    string // step kind (copy-file, delete-file, ...)
	Status  string // committed/failed/skipped
	Failed  bool   // whether the step failed
	Skipped bool   // whether the step was skipped
}

// PlanOperation represents a plan for logging.
type PlanOperation struct {
	ID          string // plan identifier
	Op          string // request operation kind
	Destination string // destination directory, if any
	Steps       int    // number of steps
}

// Logger handles structured logging with console output.
type Logger struct {
	zlog      zerolog.Logger
	console   io.Writer
	mu        sync.Mutex
	currentOp *PlanOperation
	steps     []StepOperation
}

// New creates a new logger.
func New(console io.Writer, level zerolog.Level) *Logger {
	zlog := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger().Level(level)
	return &Logger{
		zlog:    zlog,
		console: console,
	}
}

type contextKey struct{}

// FromContext gets the logger from context, or nil when absent.
func FromContext(ctx context.Context) *Logger {
	logger, _ := ctx.Value(contextKey{}).(*Logger)
	return logger
}

// NewContext adds the logger to context.
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

func (l *Logger) formatStepOperation(op StepOperation) string {
	var symbol rune
	var symbolColor color.Attribute
	switch {
	case op.Failed:
		symbol = '✗'
		symbolColor = color.FgRed
	case op.Skipped:
		symbol = '-'
		symbolColor = color.FgYellow
	default:
		symbol = '✓'
		symbolColor = color.FgGreen
	}

	return fmt.Sprintf("%s%s %s %s %s",
		fmt.Sprintf("%*s", stepIndent, ""),
		color.New(symbolColor).Sprint(string(symbol)),
		fmt.Sprintf("%-*s", pathWidth, op.Path),
		color.New(color.FgCyan).Sprint(fmt.Sprintf("%-*s", kindWidth, op.Kind)),
		fmt.Sprintf("%-*s", statusWidth, op.Status))
}

// LogStepOperation logs one step result.
func (l *Logger) LogStepOperation(ctx context.Context, op StepOperation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.steps = append(l.steps, op)
	fmt.Fprintln(l.console, l.formatStepOperation(op))

	l.zlog.Info().
		Str("path", op.Path).
		Str("kind", op.Kind).
		Str("status", op.Status).
		Bool("failed", op.Failed).
		Bool("skipped", op.Skipped).
		Msg("step")
}

// StartPlanOperation starts console tracking for one plan.
func (l *Logger) StartPlanOperation(ctx context.Context, op PlanOperation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.currentOp = &op
	l.steps = nil

	fmt.Fprintf(l.console, "%s %s %s %s\n",
		color.New(color.FgMagenta).Sprint("◆"),
		color.New(color.Bold).Sprint(op.Op),
		color.New(color.Faint).Sprint("•"),
		color.New(color.FgYellow).Sprint(op.ID))

	l.zlog.Info().
		Str("plan_id", op.ID).
		Str("op", op.Op).
		Str("destination", op.Destination).
		Int("steps", op.Steps).
		Msg("starting plan")
}

// EndPlanOperation closes out the current plan's console tracking.
func (l *Logger) EndPlanOperation(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentOp == nil {
		return
	}

	l.zlog.Info().
		Str("plan_id", l.currentOp.ID).
		Int("steps", len(l.steps)).
		Msg("plan operation complete")

	l.currentOp = nil
	l.steps = nil
}

// Header logs a header.
func (l *Logger) Header(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	name := color.New(color.Bold, color.FgCyan).Sprint("fileops")
	fmt.Fprintf(l.console, "\n%s %s\n\n", name, color.New(color.Faint).Sprint("• "+msg))
	l.zlog.Info().Msg(msg)
}

// Success logs a success message.
func (l *Logger) Success(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "✅ %s\n", color.New(color.FgGreen).Sprint(msg))
	l.zlog.Info().Msg(msg)
}

// Warning logs a warning message.
func (l *Logger) Warning(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "⚠️  %s\n", color.New(color.FgYellow).Sprint(msg))
	l.zlog.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "❌ %s\n", color.New(color.FgRed).Sprint(msg))
	l.zlog.Error().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "ℹ️  %s\n", color.New(color.FgCyan).Sprint(msg))
	l.zlog.Info().Msg(msg)
}

// Infof logs a formatted info message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

// Warningf logs a formatted warning message.
func (l *Logger) Warningf(format string, args ...interface{}) {
	l.Warning(fmt.Sprintf(format, args...))
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

// Successf logs a formatted success message.
func (l *Logger) Successf(format string, args ...interface{}) {
	l.Success(fmt.Sprintf(format, args...))
}
