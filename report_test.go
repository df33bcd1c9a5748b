package main

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

const reportTemplateText = `# Epic Health: {{team}}

Window: {{window}}

## Epics

{{epics}}
## Discussion

{{discussion}}
`

func testReportWindow() TimeWindow {
	return TimeWindow{
		Start: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 8, 23, 59, 59, 0, time.UTC),
	}
}

func TestBuildEpicReport(t *testing.T) {
	tpl, err := ParseTemplate(reportTemplateText)
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}

	update := &EpicUpdate{
		Updated: time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC),
		Status:  UpdateOnTrack,
		Content: "Delivered milestone 2.",
	}
	eval := &Evaluation{
		EpicStatusClarity:               Criterion{Score: 5, Explanation: "clear"},
		DeliverablesDefined:             Criterion{Score: 5, Explanation: "listed"},
		RiskIdentificationAndMitigation: Criterion{Score: 4, Explanation: "noted"},
		StatusEnumJustification:         Criterion{Score: 5, Explanation: "justified"},
		DeliveryConfidence:              Criterion{Score: 5, Explanation: "high"},
	}
	pairs := []EpicEvaluation{
		{
			Epic:       Epic{Issue: Issue{Key: "PLAT-1", Summary: "New ingestion", Status: "In Progress"}, LastUpdate: update},
			Evaluation: eval,
		},
		{
			Epic: Epic{Issue: Issue{Key: "PLAT-2", Summary: "Old migration", Status: "In Progress"}},
		},
	}

	team := Team{Name: "Platform"}
	got, err := BuildEpicReport(tpl, team, testReportWindow(), pairs)
	if err != nil {
		t.Fatalf("BuildEpicReport: %v", err)
	}

	for _, want := range []string{
		"# Epic Health: Platform",
		"Window: 2026-03-02 - 2026-03-08",
		"### PLAT-1: New ingestion",
		"Last update (On Track, 2026-03-05)",
		"AI Evaluation (average 4.8/5):",
		"- Status Clarity: 5/5 (clear)",
		"### PLAT-2: Old migration",
		"No update posted.",
		"AI Evaluation: Not available for this epic.",
		"- PLAT-2: Old migration (no recent update)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("report missing %q\n%s", want, got)
		}
	}
	if strings.Contains(got, "PLAT-1: New ingestion (") {
		t.Error("well-scored epic should not be flagged for discussion")
	}
}

func TestBuildEpicReportNoEpics(t *testing.T) {
	tpl, err := ParseTemplate(reportTemplateText)
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}
	got, err := BuildEpicReport(tpl, Team{Name: "Platform"}, testReportWindow(), nil)
	if err != nil {
		t.Fatalf("BuildEpicReport: %v", err)
	}
	if !strings.Contains(got, "No epics found.") {
		t.Errorf("expected empty-state wording, got:\n%s", got)
	}
	if !strings.Contains(got, "Nothing flagged for discussion.") {
		t.Errorf("expected empty discussion wording, got:\n%s", got)
	}
}

func TestBuildEpicReportPreservesTemplateText(t *testing.T) {
	tpl, err := ParseTemplate(reportTemplateText)
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}
	got, err := BuildEpicReport(tpl, Team{Name: "X"}, testReportWindow(), nil)
	if err != nil {
		t.Fatalf("BuildEpicReport: %v", err)
	}
	for _, literal := range []string{"# Epic Health: ", "## Epics\n", "## Discussion\n"} {
		if !strings.Contains(got, literal) {
			t.Errorf("literal template text %q altered", literal)
		}
	}
}

func TestValidateReportTemplate(t *testing.T) {
	tpl, err := ParseTemplate(reportTemplateText)
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}
	if err := ValidateReportTemplate(tpl); err != nil {
		t.Errorf("full template should validate: %v", err)
	}

	missing, err := ParseTemplate("{{team}} {{window}} {{epics}}")
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}
	if err := ValidateReportTemplate(missing); !errors.Is(err, ErrUnknownSlot) {
		t.Errorf("error = %v, want ErrUnknownSlot for an undeclared report slot", err)
	}

	extra, err := ParseTemplate("{{team}} {{window}} {{epics}} {{discussion}} {{footer}}")
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}
	if err := ValidateReportTemplate(extra); !errors.Is(err, ErrMissingSlot) {
		t.Errorf("error = %v, want ErrMissingSlot for an unfillable template slot", err)
	}
}

func TestRenderExecutionSummary(t *testing.T) {
	report := ExecutionReport{
		Epics:   []Epic{{Issue: Issue{Key: "PLAT-1"}}},
		Stories: []Issue{{Key: "PLAT-10"}, {Key: "PLAT-11"}},
		Problems: []TrackingProblem{
			{Type: ProblemPastDueDate, IssueKey: "PLAT-10", Description: "due 2026-02-01, still open"},
		},
	}
	got := RenderExecutionSummary(report)
	for _, want := range []string{"Epics: 1", "Stories: 2", "Problems: 1", "PLAT-10"} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q\n%s", want, got)
		}
	}
}

func TestWriteReportFile(t *testing.T) {
	dir := t.TempDir()
	date := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	path, err := WriteReportFile("content\n", dir, date, "Platform")
	if err != nil {
		t.Fatalf("WriteReportFile: %v", err)
	}
	if !strings.HasSuffix(path, "Platform_20260309.md") {
		t.Errorf("unexpected path %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "content\n" {
		t.Errorf("content = %q", data)
	}
}
