package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const evaluationUnavailable = "AI Evaluation: Not available for this epic."

// criterionLabels pairs each rubric dimension with its display name, in the
// order they appear in a rendered report.
func criterionLabels(e Evaluation) []struct {
	Label     string
	Criterion Criterion
} {
	return []struct {
		Label     string
		Criterion Criterion
	}{
		{"Status Clarity", e.EpicStatusClarity},
		{"Deliverables Defined", e.DeliverablesDefined},
		{"Risk Identification", e.RiskIdentificationAndMitigation},
		{"Status Justification", e.StatusEnumJustification},
		{"Delivery Confidence", e.DeliveryConfidence},
	}
}

// renderEpicEntry formats one epic with its last update and evaluation.
func renderEpicEntry(ev EpicEvaluation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### %s: %s\n\n", ev.Epic.Key, ev.Epic.Summary)
	fmt.Fprintf(&b, "Status: %s\n\n", ev.Epic.Status)

	if ev.Epic.LastUpdate == nil {
		b.WriteString("No update posted.\n\n")
	} else {
		fmt.Fprintf(&b, "Last update (%s, %s):\n\n%s\n\n",
			ev.Epic.LastUpdate.Status,
			ev.Epic.LastUpdate.Updated.Format("2006-01-02"),
			ev.Epic.LastUpdate.Content)
	}

	if ev.Evaluation == nil {
		b.WriteString(evaluationUnavailable + "\n")
		return b.String()
	}

	fmt.Fprintf(&b, "AI Evaluation (average %.1f/5):\n", ev.Evaluation.AverageScore())
	for _, c := range criterionLabels(*ev.Evaluation) {
		fmt.Fprintf(&b, "- %s: %d/5 (%s)\n", c.Label, c.Criterion.Score, c.Criterion.Explanation)
	}
	return b.String()
}

// renderDiscussionList lists the epics that warrant discussion.
func renderDiscussionList(pairs []EpicEvaluation) string {
	var lines []string
	for _, ev := range pairs {
		if !ev.NeedsDiscussion() {
			continue
		}
		reason := "no recent update"
		if ev.Epic.LastUpdate != nil {
			if ev.Evaluation == nil {
				reason = "update not evaluated"
			} else {
				reason = fmt.Sprintf("average score %.1f", ev.Evaluation.AverageScore())
			}
		}
		lines = append(lines, fmt.Sprintf("- %s: %s (%s)", ev.Epic.Key, ev.Epic.Summary, reason))
	}
	if len(lines) == 0 {
		return "Nothing flagged for discussion."
	}
	return strings.Join(lines, "\n")
}

// reportSlots are the slots BuildEpicReport fills.
var reportSlots = []string{"team", "window", "epics", "discussion"}

// ValidateReportTemplate checks the template's slot set against what
// BuildEpicReport fills, so a bad template file fails before any fetching.
func ValidateReportTemplate(tpl *Template) error {
	declared := make(map[string]bool)
	for _, name := range tpl.Slots() {
		declared[name] = true
	}
	for _, name := range reportSlots {
		if !declared[name] {
			return fmt.Errorf("%w: template does not declare %q", ErrUnknownSlot, name)
		}
		delete(declared, name)
	}
	for name := range declared {
		return fmt.Errorf("%w: template slot %q has no report content", ErrMissingSlot, name)
	}
	return nil
}

// BuildEpicReport renders the epic health report through the template. The
// template must declare the slots team, window, epics and discussion.
func BuildEpicReport(tpl *Template, team Team, window TimeWindow, pairs []EpicEvaluation) (string, error) {
	var epics []string
	for _, ev := range pairs {
		epics = append(epics, renderEpicEntry(ev))
	}
	epicsText := "No epics found.\n"
	if len(epics) > 0 {
		epicsText = strings.Join(epics, "\n")
	}

	return tpl.Render(map[string]string{
		"team":       team.Name,
		"window":     fmt.Sprintf("%s - %s", window.Start.Format("2006-01-02"), window.End.Format("2006-01-02")),
		"epics":      epicsText,
		"discussion": renderDiscussionList(pairs),
	})
}

// RenderExecutionSummary formats an execution report for the terminal.
func RenderExecutionSummary(report ExecutionReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Epics: %d\n", len(report.Epics))
	fmt.Fprintf(&b, "Stories: %d\n", len(report.Stories))
	fmt.Fprintf(&b, "Problems: %d\n", len(report.Problems))
	if len(report.Problems) == 0 {
		return b.String()
	}
	b.WriteString("\n")
	for _, p := range report.Problems {
		fmt.Fprintf(&b, "%s  %-35s %s\n", p.IssueKey, p.Type, p.Description)
	}
	return b.String()
}

// WriteReportFile writes a rendered report under the output directory as
// teamName_YYYYMMDD.md and returns the path.
func WriteReportFile(content, outputDir string, reportDate time.Time, teamName string) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", err
	}
	filename := fmt.Sprintf("%s_%s.md", teamName, reportDate.Format("20060102"))
	path := filepath.Join(outputDir, filename)
	return path, os.WriteFile(path, []byte(content), 0644)
}
