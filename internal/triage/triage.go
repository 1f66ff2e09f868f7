// File: internal/triage/triage.go

// Package triage reduces verbose accessibility snapshots to a bounded,
// actionable summary. Reduction is a pure function of (snapshot, budget):
// deterministic, idempotent, and never an error. When content has to be
// dropped the output carries an explicit truncation marker instead of
// failing, so the consumer knows the summary may be incomplete.
package triage

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/dmage20/linkedin-job-agent/api/schemas"
	"github.com/dmage20/linkedin-job-agent/internal/config"
)

// refPattern matches element references embedded in snapshot lines,
// e.g. `button "Easy Apply" [ref=e12]`.
var refPattern = regexp.MustCompile(`\[ref=([\w-]+)\]`)

// Truncation markers. Their presence in a snapshot marks it as already
// truncated, which keeps the truncated flag sticky across re-reduction.
const (
	markerHeadKept = "[snapshot truncated: later content omitted]"
	markerTailKept = "[snapshot truncated: earlier content omitted]"
	markerProse    = "[long text omitted]"
)

// actionableRoles are element roles that must survive reduction. A decision
// can only ever target one of these.
var actionableRoles = []string{
	"button",
	"link",
	"textbox",
	"searchbox",
	"textarea",
	"combobox",
	"checkbox",
	"radio",
	"option",
	"dialog",
	"tab ",
}

// noiseContainers are container roles whose subtrees are decoration unless
// they hold an actionable element.
var noiseContainers = []string{
	"navigation",
	"banner",
	"advertisement",
	"complementary",
	"contentinfo",
	"footer",
}

// Engine performs snapshot reduction under a configured token budget.
type Engine struct {
	cfg    config.TriageConfig
	logger *zap.Logger
}

// NewEngine validates dependencies and returns a reduction engine.
func NewEngine(cfg config.TriageConfig, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		return nil, fmt.Errorf("triage engine requires a logger")
	}
	if cfg.TokenBudget <= 0 {
		return nil, fmt.Errorf("triage engine requires a positive token budget")
	}
	if cfg.ProseCollapseLen <= 0 {
		cfg.ProseCollapseLen = 240
	}
	if cfg.SimilarRunLen <= 1 {
		cfg.SimilarRunLen = 5
	}
	return &Engine{cfg: cfg, logger: logger.Named("triage")}, nil
}

// EstimateTokens is the size heuristic used for budgeting: one token per
// four characters.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// Reduce produces the triaged summary of a raw snapshot under the engine's
// token budget.
func (e *Engine) Reduce(snap schemas.Snapshot) schemas.TriagedSnapshot {
	return e.ReduceWithBudget(snap, e.cfg.TokenBudget)
}

// ReduceWithBudget is Reduce with an explicit budget override.
func (e *Engine) ReduceWithBudget(snap schemas.Snapshot, budget int) schemas.TriagedSnapshot {
	state := classify(snap.RawText)
	lines := splitLines(snap.RawText)

	if state != schemas.PageInitial {
		lines = isolateDialog(lines)
	}
	lines = e.stripNoise(lines)
	lines = e.collapseProse(lines)
	lines = e.collapseRuns(lines)

	text, truncated := e.fitBudget(lines, state, budget)
	// A marker already present in the source means content was dropped in an
	// earlier pass; the flag stays set.
	if !truncated {
		truncated = strings.Contains(text, markerHeadKept) || strings.Contains(text, markerTailKept)
	}

	out := schemas.TriagedSnapshot{
		Text:          text,
		TokenEstimate: EstimateTokens(text),
		Truncated:     truncated,
		State:         state,
		Refs:          extractRefs(text),
		SourceID:      snap.ID,
		Epoch:         snap.Epoch,
	}
	e.logger.Debug("Snapshot reduced.",
		zap.String("state", string(state)),
		zap.Int("raw_tokens", EstimateTokens(snap.RawText)),
		zap.Int("triaged_tokens", out.TokenEstimate),
		zap.Int("refs", len(out.Refs)),
		zap.Bool("truncated", out.Truncated))
	return out
}

// classify detects the page state from lightweight text markers. Detection
// is keyword based, not a structural parse, to keep the pass O(n).
func classify(raw string) schemas.PageState {
	lower := strings.ToLower(raw)
	hasDialog := strings.Contains(lower, "dialog") || strings.Contains(lower, "modal")
	if hasDialog {
		if strings.Contains(lower, "review your application") ||
			strings.Contains(lower, "submit application") ||
			(strings.Contains(lower, "progress") && strings.Contains(lower, "100%")) {
			return schemas.PageReview
		}
		return schemas.PageForm
	}
	return schemas.PageInitial
}

// isolateDialog returns the subtree rooted at the first dialog/modal line,
// delimited by indentation. If no dialog line is found the input is returned
// unchanged.
func isolateDialog(lines []string) []string {
	start := -1
	for i, line := range lines {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "dialog") || strings.Contains(lower, "modal") {
			start = i
			break
		}
	}
	if start < 0 {
		return lines
	}
	rootIndent := indentOf(lines[start])
	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		if indentOf(lines[i]) <= rootIndent {
			end = i
			break
		}
	}
	return lines[start:end]
}

// stripNoise removes decoration subtrees: known chrome containers and their
// children, unless the subtree holds an actionable element.
func (e *Engine) stripNoise(lines []string) []string {
	out := make([]string, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if !isNoiseContainer(line) {
			out = append(out, line)
			continue
		}
		// Scope the container's subtree by indentation.
		rootIndent := indentOf(line)
		end := len(lines)
		for j := i + 1; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) == "" {
				continue
			}
			if indentOf(lines[j]) <= rootIndent {
				end = j
				break
			}
		}
		if subtreeHasActionable(lines[i+1 : end]) {
			// Never drop an actionable control or its enclosing container.
			out = append(out, line)
			continue
		}
		i = end - 1
	}
	return out
}

// collapseProse replaces long non-actionable text runs with a placeholder.
func (e *Engine) collapseProse(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		content := strings.TrimSpace(line)
		if len(content) > e.cfg.ProseCollapseLen && !isActionable(line) {
			indent := line[:indentOf(line)]
			out = append(out, indent+"- text: "+markerProse)
			continue
		}
		out = append(out, line)
	}
	return out
}

// collapseRuns collapses runs of similar homogeneous lines (list items,
// repeated cards) to their first two entries plus a count marker.
func (e *Engine) collapseRuns(lines []string) []string {
	out := make([]string, 0, len(lines))
	for i := 0; i < len(lines); {
		j := i + 1
		for j < len(lines) && similarLine(lines[i]) == similarLine(lines[j]) && similarLine(lines[i]) != "" {
			j++
		}
		run := j - i
		if run >= e.cfg.SimilarRunLen && !anyActionable(lines[i:j]) {
			out = append(out, lines[i], lines[i+1])
			indent := lines[i][:indentOf(lines[i])]
			out = append(out, fmt.Sprintf("%s[%d similar items omitted]", indent, run-2))
		} else {
			out = append(out, lines[i:j]...)
		}
		i = j
	}
	return out
}

// fitBudget enforces the hard size budget with a direction policy keyed by
// page state: INITIAL keeps the head (entry points surface early), FORM and
// REVIEW keep the tail (modal content is appended last).
func (e *Engine) fitBudget(lines []string, state schemas.PageState, budget int) (string, bool) {
	text := strings.Join(lines, "\n")
	if EstimateTokens(text) <= budget || len(lines) == 0 {
		return text, false
	}

	maxChars := budget * 4
	if state == schemas.PageInitial {
		return keepHead(lines, maxChars)
	}
	return keepTail(lines, maxChars)
}

// keepHead retains leading lines until the budget is spent, then appends the
// truncation marker. At least one line is always kept; a single line larger
// than the whole budget is the accepted over-budget edge case.
func keepHead(lines []string, maxChars int) (string, bool) {
	budget := maxChars - len(markerHeadKept) - 1
	var kept []string
	used := 0
	for _, line := range lines {
		cost := len(line) + 1
		if used+cost > budget && len(kept) > 0 {
			break
		}
		kept = append(kept, line)
		used += cost
	}
	kept = append(kept, markerHeadKept)
	return strings.Join(kept, "\n"), true
}

// keepTail retains the first line (the dialog header, so re-classification
// still sees the modal) plus as many trailing lines as fit, with the marker
// between them. The marker is indented into the subtree so a later pass
// keeps it inside the isolated dialog.
func keepTail(lines []string, maxChars int) (string, bool) {
	header := lines[0]
	markerIndent := indentOf(header) + 2
	marker := strings.Repeat(" ", markerIndent) + markerTailKept

	budget := maxChars - len(header) - len(marker) - 2
	var kept []string
	used := 0
	for i := len(lines) - 1; i >= 1; i-- {
		cost := len(lines[i]) + 1
		if used+cost > budget && len(kept) > 0 {
			break
		}
		kept = append(kept, lines[i])
		used += cost
		if used > budget {
			break
		}
	}
	// kept is in reverse order.
	out := make([]string, 0, len(kept)+2)
	out = append(out, header, marker)
	for i := len(kept) - 1; i >= 0; i-- {
		out = append(out, kept[i])
	}
	return strings.Join(out, "\n"), true
}

// extractRefs collects element references in order of first appearance.
func extractRefs(text string) []string {
	matches := refPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	refs := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		refs = append(refs, m[1])
	}
	return refs
}

func splitLines(raw string) []string {
	return strings.Split(strings.TrimRight(raw, "\n"), "\n")
}

func indentOf(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}

// isActionable reports whether the line holds a control a decision could
// target.
func isActionable(line string) bool {
	if refPattern.MatchString(line) {
		return true
	}
	lower := strings.ToLower(line)
	for _, role := range actionableRoles {
		if strings.Contains(lower, role) {
			return true
		}
	}
	return false
}

func anyActionable(lines []string) bool {
	for _, line := range lines {
		if isActionable(line) {
			return true
		}
	}
	return false
}

func subtreeHasActionable(lines []string) bool {
	return anyActionable(lines)
}

func isNoiseContainer(line string) bool {
	if refPattern.MatchString(line) {
		return false
	}
	lower := strings.ToLower(line)
	for _, role := range noiseContainers {
		if strings.Contains(lower, role) {
			return true
		}
	}
	return false
}

// similarLine normalizes a line for run detection: digits and refs are
// erased so "item 1 of 30" and "item 2 of 30" compare equal.
func similarLine(line string) string {
	content := strings.TrimSpace(line)
	if content == "" {
		return ""
	}
	content = refPattern.ReplaceAllString(content, "")
	var b strings.Builder
	for _, r := range content {
		if r >= '0' && r <= '9' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
