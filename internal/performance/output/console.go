// Package output renders live progress and the final summary of a run.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jassi-singh/forgeload/internal/performance/engine"
	"github.com/jassi-singh/forgeload/internal/performance/metrics"
	"github.com/jassi-singh/forgeload/internal/performance/threshold"
)

// ANSI cursor control for the live panel.
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"
)

const (
	ruleWidth = 56
	barWidth  = 40

	progressFilled = "█"
	progressEmpty  = "░"
	rule           = "━"
)

// ConsoleConfig configures a Console.
type ConsoleConfig struct {
	Writer io.Writer

	// Quiet suppresses live updates and prints only PASSED or FAILED
	Quiet bool

	// NoColor disables colors even on a color terminal
	NoColor bool

	// ForceTTY redraws the live panel in place even if Writer is not a terminal
	ForceTTY bool
}

// Console prints live progress and the end-of-run summary.
//
// On a terminal the live panel is redrawn in place; otherwise each update is
// a single line, which keeps CI logs readable.
type Console struct {
	w       io.Writer
	palette *Palette
	isTTY   bool
	quiet   bool

	mu    sync.Mutex
	lines int
}

// NewConsole creates a console writer.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	return &Console{
		w:       cfg.Writer,
		palette: NewPalette(!cfg.NoColor && SupportsColor(cfg.Writer)),
		isTTY:   cfg.ForceTTY || IsTerminal(cfg.Writer),
		quiet:   cfg.Quiet,
	}
}

// IsTTY returns whether live updates are redrawn in place.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run banner.
func (c *Console) PrintHeader(plan *engine.Plan) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.palette
	name := plan.Name
	if name == "" {
		name = "load test"
	}
	line := strings.Repeat(rule, ruleWidth)

	c.writeln(p.Border.Sprint(line))
	c.writeln(p.Title.Sprintf("%s - Running", name))
	c.writeln(p.Border.Sprint(line))
	c.writeln(fmt.Sprintf("Endpoints: %s", p.Value.Sprint(len(plan.Endpoints))))
	for i, ep := range plan.Endpoints {
		c.writeln(p.Dim.Sprintf("  [%d] %s", i, ep))
	}
	c.writeln(fmt.Sprintf("Stages:    %s over %s, up to %s VUs",
		p.Value.Sprint(len(plan.Stages.Stages())),
		p.Value.Sprint(formatDuration(plan.Stages.TotalDuration())),
		p.Value.Sprint(plan.Stages.MaxTarget())))
	c.writeln("")
}

// Report implements engine.Reporter.
func (c *Console) Report(p engine.Progress) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isTTY {
		c.writeln(c.progressLine(p))
		return
	}

	c.clearPanel()
	lines := c.renderPanel(p)
	for _, l := range lines {
		c.writeln(l)
	}
	c.lines = len(lines)
}

func (c *Console) clearPanel() {
	if c.lines == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.lines))
	for i := 0; i < c.lines; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.lines))
	c.lines = 0
}

func (c *Console) renderPanel(p engine.Progress) []string {
	pal := c.palette
	snap := p.Snapshot
	bucket := p.Bucket

	var rps float64
	if bucket != nil {
		rps = bucket.IntervalRPS
	}

	stage := fmt.Sprintf("%s (%d/%d) %s", p.Stage.CurrentStageName, min(p.Stage.CurrentStage+1, p.Stage.TotalStages), p.Stage.TotalStages, p.Stage.Phase)
	if p.State == engine.StateDraining {
		stage = "draining"
	}

	lines := []string{
		fmt.Sprintf("Progress: %s %s | %s",
			pal.Good.Sprint(progressBar(p.Stage.Progress, barWidth)),
			pal.Title.Sprintf("%.0f%%", p.Stage.Progress*100),
			pal.Dim.Sprintf("%s / %s", formatDuration(p.Stage.Elapsed), formatDuration(p.Stage.TotalDuration))),
		fmt.Sprintf("Stage:    %s", pal.Accent.Sprint(stage)),
		fmt.Sprintf("VUs:      %s / %d", pal.Value.Sprint(p.ActiveVUs), p.Stage.TargetVUs),
		fmt.Sprintf("Requests: %s  RPS: %s", pal.Value.Sprint(formatNumber(snap.Count)), pal.Good.Sprintf("%.1f", rps)),
		fmt.Sprintf("Errors:   %s (%s)",
			pal.Rate(snap.FailRate).Sprint(formatNumber(snap.Failures)),
			pal.Rate(snap.FailRate).Sprintf("%.2f%%", snap.FailRate*100)),
		fmt.Sprintf("Latency:  p95 %s  avg %s",
			pal.Value.Sprint(formatDurationShort(snap.Latency.P95)),
			pal.Value.Sprint(formatDurationShort(snap.Latency.Mean))),
	}

	for _, v := range p.Verdicts {
		lines = append(lines, fmt.Sprintf("  %s %s", pal.PassIcon(v.Passing), v.Name))
	}
	return lines
}

func (c *Console) progressLine(p engine.Progress) string {
	snap := p.Snapshot
	var rps float64
	if p.Bucket != nil {
		rps = p.Bucket.IntervalRPS
	}
	return fmt.Sprintf("[%s] %s %.0f%% | VUs: %d/%d | Reqs: %d | RPS: %.1f | Errors: %d (%.2f%%) | P95: %s",
		formatDuration(p.Stage.Elapsed),
		p.State,
		p.Stage.Progress*100,
		p.ActiveVUs,
		p.Stage.TargetVUs,
		snap.Count,
		rps,
		snap.Failures,
		snap.FailRate*100,
		formatDurationShort(snap.Latency.P95))
}

// PrintSummary prints the end-of-run text summary.
func (c *Console) PrintSummary(s *engine.Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pal := c.palette
	if c.quiet {
		if s.Passed {
			c.writeln(pal.Good.Sprint("PASSED"))
		} else {
			c.writeln(pal.Bad.Sprint("FAILED"))
		}
		return
	}

	if c.isTTY {
		c.clearPanel()
	}

	status := pal.Good.Sprint("PASSED ✓")
	if !s.Passed {
		status = pal.Bad.Sprint("FAILED ✗")
	}
	name := s.Name
	if name == "" {
		name = "load test"
	}
	line := strings.Repeat(rule, ruleWidth)

	c.writeln("")
	c.writeln(pal.Border.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", pal.Title.Sprint(name), status))
	c.writeln(pal.Border.Sprint(line))
	c.writeln(pal.Dim.Sprintf("run %s", s.RunID))
	switch {
	case s.Aborted:
		c.writeln(pal.Warn.Sprint("Run aborted by a threshold with abortOnFail"))
	case s.Interrupted:
		c.writeln(pal.Warn.Sprint("Run interrupted before the last stage ended"))
	}
	c.writeln("")

	m := s.Metrics
	c.writeln(fmt.Sprintf("Duration:      %s", pal.Value.Sprint(formatDuration(s.Duration))))
	c.writeln(fmt.Sprintf("Requests:      %s (%s/s)", pal.Value.Sprint(formatNumber(m.Count)), pal.Value.Sprintf("%.1f", s.RequestRate())))
	c.writeln(fmt.Sprintf("Iterations:    %s", pal.Value.Sprint(formatNumber(m.Iterations))))
	c.writeln(fmt.Sprintf("Success Rate:  %s", pal.Rate(m.FailRate).Sprintf("%.2f%%", (1-m.FailRate)*100)))
	c.writeln(fmt.Sprintf("Data Received: %s", pal.Value.Sprint(formatBytes(m.TotalBytes))))
	c.writeln(fmt.Sprintf("Peak VUs:      %s", pal.Value.Sprint(s.PeakVUs)))
	if s.ForcedStops > 0 {
		c.writeln(fmt.Sprintf("Forced Stops:  %s", pal.Warn.Sprint(s.ForcedStops)))
	}
	if s.AbandonedVUs > 0 {
		c.writeln(fmt.Sprintf("Abandoned VUs: %s", pal.Bad.Sprint(s.AbandonedVUs)))
	}
	c.writeln("")

	c.writeln(pal.Title.Sprint("Latency Distribution:"))
	c.writeln(fmt.Sprintf("  Min:   %s", formatDurationShort(m.Latency.Min)))
	c.writeln(fmt.Sprintf("  Avg:   %s", formatDurationShort(m.Latency.Mean)))
	c.writeln(fmt.Sprintf("  P50:   %s", formatDurationShort(m.Latency.P50)))
	c.writeln(fmt.Sprintf("  P90:   %s", formatDurationShort(m.Latency.P90)))
	c.writeln(fmt.Sprintf("  P95:   %s", formatDurationShort(m.Latency.P95)))
	c.writeln(fmt.Sprintf("  P99:   %s", formatDurationShort(m.Latency.P99)))
	for _, key := range sortedKeys(m.Percentiles) {
		c.writeln(fmt.Sprintf("  %-6s %s", "P"+key+":", formatDurationShort(m.Percentiles[key])))
	}
	c.writeln(fmt.Sprintf("  Max:   %s", formatDurationShort(m.Latency.Max)))
	c.writeln("")

	if len(m.FailuresByReason) > 0 {
		c.writeln(pal.Title.Sprint("Failures:"))
		for _, r := range sortedReasons(m.FailuresByReason) {
			c.writeln(fmt.Sprintf("  %-28s %s", r, pal.Bad.Sprint(formatNumber(m.FailuresByReason[r]))))
		}
		c.writeln("")
	}

	if len(m.Endpoints) > 0 {
		c.writeln(pal.Title.Sprint("Endpoints:"))
		for _, ep := range m.Endpoints {
			url := fmt.Sprintf("#%d", ep.Index)
			if ep.Index >= 0 && ep.Index < len(s.Endpoints) {
				url = s.Endpoints[ep.Index]
			}
			c.writeln(fmt.Sprintf("  %s  %s reqs, %s failed", url, formatNumber(ep.Count), formatNumber(ep.Failures)))
		}
		c.writeln("")
	}

	if len(s.Thresholds) > 0 {
		c.writeln(pal.Title.Sprintf("Thresholds (%s):", s.ThresholdMode))
		for _, v := range s.Thresholds {
			passed := v.Passing && !(s.ThresholdMode == threshold.ModeSticky && v.EverFailed)
			note := ""
			if v.Passing && v.EverFailed {
				note = pal.Warn.Sprint(" (failed during run)")
			}
			actual := v.Actual
			if actual == "" {
				actual = "n/a"
			}
			c.writeln(fmt.Sprintf("  %s %s (actual: %s)%s", pal.PassIcon(passed), v.Name, actual, note))
		}
		c.writeln("")
	}
}

func (c *Console) write(s string) {
	fmt.Fprint(c.w, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.w, s)
}

func progressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

func sortedKeys(m map[string]time.Duration) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := strconv.ParseFloat(keys[i], 64)
		b, _ := strconv.ParseFloat(keys[j], 64)
		return a < b
	})
	return keys
}

func sortedReasons(m map[metrics.Reason]int64) []metrics.Reason {
	reasons := make([]metrics.Reason, 0, len(m))
	for r := range m {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })
	return reasons
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// formatDurationShort formats a latency.
func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000)
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var b strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		b.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(str[i : i+3])
	}
	return b.String()
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
