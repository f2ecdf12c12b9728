package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/adverant/nexus/docintel/internal/processor"
	"github.com/fatih/color"
)

var (
	runningColor = color.New(color.FgBlue)
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	warnColor    = color.New(color.FgYellow)
	headerColor  = color.New(color.FgMagenta, color.Bold)
	keyColor     = color.New(color.FgCyan)
)

// terminalReporter prints one coloured line per stage event.
type terminalReporter struct {
	mu  sync.Mutex
	out io.Writer
}

func (t *terminalReporter) StageStarted(_ string, stage processor.Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	runningColor.Fprintf(t.out, "→ Running %s Model ...\n", stage.Title())
}

func (t *terminalReporter) StageSucceeded(_ string, o processor.StageOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	successColor.Fprintf(t.out, "✓ %s Job Complete! (%s)\n", o.Stage.Title(), o.Duration.Round(100*time.Millisecond))
}

func (t *terminalReporter) StageFailed(_ string, o processor.StageOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	errorColor.Fprintf(t.out, "✗ Error with %s Job: %s\n", o.Stage.Title(), o.Error)
	if o.JobURL != "" {
		fmt.Fprintf(t.out, "  View job page for more information: %s\n", o.JobURL)
	}
}

func (t *terminalReporter) StageSkipped(_ string, o processor.StageOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	warnColor.Fprintf(t.out, "⚠ %s skipped: %s\n", o.Stage.Title(), o.Error)
}

func printHeader(w io.Writer, title string) {
	headerColor.Fprintf(w, "━━━ %s ━━━\n", title)
}

func printField(w io.Writer, key, value string) {
	keyColor.Fprintf(w, "  %s: ", key)
	fmt.Fprintln(w, value)
}
