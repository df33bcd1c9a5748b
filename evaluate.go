package main

import (
	"context"
	"fmt"
	"log"
	"time"
)

// discussionThreshold is the average score below which a scored epic still
// warrants discussion in the review.
const discussionThreshold = 4.0

// EpicEvaluation pairs an epic with its AI evaluation. Evaluation is nil when
// no score exists for the epic; that is an expected state, not an error.
type EpicEvaluation struct {
	Epic       Epic
	Evaluation *Evaluation
}

// NeedsDiscussion is the hard rule feeding the review agenda: an in-progress
// epic with no update, no evaluation, or an average below the threshold.
func (ee EpicEvaluation) NeedsDiscussion() bool {
	if ee.Epic.NormalizedStatus() != StatusInProgress {
		return false
	}
	if ee.Epic.LastUpdate == nil || ee.Evaluation == nil {
		return true
	}
	return ee.Evaluation.AverageScore() < discussionThreshold
}

// MergeEvaluations joins epics with evaluations by issue key. Epics absent
// from the mapping are paired with nil. Input order is preserved.
func MergeEvaluations(epics []Epic, evaluations map[string]Evaluation) []EpicEvaluation {
	merged := make([]EpicEvaluation, 0, len(epics))
	for _, epic := range epics {
		entry := EpicEvaluation{Epic: epic}
		if eval, ok := evaluations[epic.Key]; ok {
			entry.Evaluation = &eval
		}
		merged = append(merged, entry)
	}
	return merged
}

// EvaluateEpics scores every epic that has an update. A scoring failure for
// one epic leaves it out of the mapping and the report falls back to the
// absence wording, rather than aborting the whole run.
func EvaluateEpics(ctx context.Context, ai *AIClient, epics []Epic) map[string]Evaluation {
	evaluations := make(map[string]Evaluation)
	for _, epic := range epics {
		if epic.LastUpdate == nil {
			continue
		}
		eval, err := ai.EvaluateUpdate(ctx, epic)
		if err != nil {
			log.Printf("ai evaluation failed epic=%s err=%v", epic.Key, err)
			continue
		}
		evaluations[epic.Key] = eval
	}
	return evaluations
}

type ProblemType string

const (
	ProblemMissingDueDate           ProblemType = "missing_due_date"
	ProblemMissingStartDate         ProblemType = "missing_start_date"
	ProblemStaleTodo                ProblemType = "todo_past_start_date"
	ProblemPrematureInProgress      ProblemType = "in_progress_before_start_date"
	ProblemPastDueDate              ProblemType = "past_due_date"
	ProblemInProgressWithoutStories ProblemType = "in_progress_epic_without_stories"
)

// TrackingProblem is one hygiene finding against an epic or story.
type TrackingProblem struct {
	Type        ProblemType
	Description string
	IssueKey    string
}

// ExecutionReport is the analyzed state of a team's epics for one label.
type ExecutionReport struct {
	Epics    []Epic
	Stories  []Issue
	Problems []TrackingProblem
}

// storyFetcher supplies an epic's stories; satisfied by JIRAClient.StoriesByEpic.
type storyFetcher func(epicKey string) ([]Issue, error)

// AnalyzeEpics checks epics and their stories for tracking hygiene problems.
// Stories are only fetched for in-progress epics.
func AnalyzeEpics(epics []Epic, fetchStories storyFetcher, today time.Time) (ExecutionReport, error) {
	report := ExecutionReport{Epics: epics}
	for _, epic := range epics {
		report.Problems = append(report.Problems, analyzeIssueStatus("Epic", epic.Issue, today)...)
		if epic.NormalizedStatus() != StatusInProgress {
			continue
		}
		stories, err := fetchStories(epic.Key)
		if err != nil {
			return ExecutionReport{}, fmt.Errorf("fetching stories for %s: %w", epic.Key, err)
		}
		if len(stories) == 0 {
			report.Problems = append(report.Problems, TrackingProblem{
				Type:        ProblemInProgressWithoutStories,
				Description: fmt.Sprintf("Epic %s is in progress but has no stories", epic.Key),
				IssueKey:    epic.Key,
			})
			continue
		}
		for _, story := range stories {
			report.Problems = append(report.Problems, analyzeIssueStatus("Story", story, today)...)
			report.Stories = append(report.Stories, story)
		}
	}
	return report, nil
}

func analyzeIssueStatus(kind string, issue Issue, today time.Time) []TrackingProblem {
	var problems []TrackingProblem
	add := func(t ProblemType, format string, args ...any) {
		problems = append(problems, TrackingProblem{
			Type:        t,
			Description: fmt.Sprintf(format, args...),
			IssueKey:    issue.Key,
		})
	}
	status := issue.NormalizedStatus()

	if issue.DueDate.IsZero() {
		add(ProblemMissingDueDate, "%s %s has no due date set", kind, issue.Key)
	}
	if issue.StartDate.IsZero() {
		add(ProblemMissingStartDate, "%s %s has no start date set", kind, issue.Key)
	}
	if status == StatusTodo && !issue.StartDate.IsZero() && issue.StartDate.Before(today) {
		add(ProblemStaleTodo, "%s %s is still to do but its start date has passed", kind, issue.Key)
	}
	if status == StatusInProgress && !issue.StartDate.IsZero() && issue.StartDate.After(today) {
		add(ProblemPrematureInProgress, "%s %s is in progress but its start date is in the future", kind, issue.Key)
	}
	if status != StatusDone && status != StatusInvalid && !issue.DueDate.IsZero() && issue.DueDate.Before(today) {
		add(ProblemPastDueDate, "%s %s is %s but its due date has passed", kind, issue.Key, issue.Status)
	}
	return problems
}
