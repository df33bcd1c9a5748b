package main

import (
	"fmt"
	"strings"
	"time"
)

// TimeWindow is the UTC range records are fetched and aggregated over.
// Immutable once constructed; Start <= End always holds.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

func (w TimeWindow) String() string {
	return fmt.Sprintf("%s - %s", w.Start.Format("2006-01-02"), w.End.Format("2006-01-02"))
}

// Team is one entry from team.yaml.
type Team struct {
	Key              string   `yaml:"-"`
	Name             string   `yaml:"name"`
	HelpChannel      string   `yaml:"help_channel"`
	OncallHandle     string   `yaml:"oncall_handle"`
	EscalationPolicy string   `yaml:"escalation_policy"`
	ProjectKeys      []string `yaml:"project_keys"`
	Components       []string `yaml:"components"`
}

// Incident is a PagerDuty incident with its response-latency fields derived
// from the incident's log entries.
type Incident struct {
	ID             string
	Title          string
	Urgency        string // "high" or "low"
	CreatedAt      time.Time
	FirstAckAt     time.Time // zero if never acknowledged
	ResolvedAt     time.Time // zero if still open
	ResolutionType string    // "AUTO" or "MANUAL", empty if unresolved
	TimedOut       bool      // escalated through a timeout
}

func (i Incident) Acknowledged() bool { return !i.FirstAckAt.IsZero() }
func (i Incident) Resolved() bool     { return !i.ResolvedAt.IsZero() }

// TimeToAck returns the created-to-first-acknowledgment latency.
func (i Incident) TimeToAck() (time.Duration, bool) {
	if i.FirstAckAt.IsZero() || i.CreatedAt.IsZero() {
		return 0, false
	}
	return i.FirstAckAt.Sub(i.CreatedAt), true
}

// TimeToResolve returns the created-to-resolution latency.
func (i Incident) TimeToResolve() (time.Duration, bool) {
	if i.ResolvedAt.IsZero() || i.CreatedAt.IsZero() {
		return 0, false
	}
	return i.ResolvedAt.Sub(i.CreatedAt), true
}

// IssueStatus is the normalized JIRA status category.
type IssueStatus string

const (
	StatusTodo       IssueStatus = "todo"
	StatusInProgress IssueStatus = "in_progress"
	StatusDone       IssueStatus = "done"
	StatusInvalid    IssueStatus = "invalid"
)

var statusByName = map[string]IssueStatus{
	"to do":       StatusTodo,
	"todo":        StatusTodo,
	"open":        StatusTodo,
	"backlog":     StatusTodo,
	"in progress": StatusInProgress,
	"in review":   StatusInProgress,
	"blocked":     StatusInProgress,
	"done":        StatusDone,
	"closed":      StatusDone,
	"resolved":    StatusDone,
	"invalid":     StatusInvalid,
	"won't do":    StatusInvalid,
	"duplicate":   StatusInvalid,
}

// Issue is a JIRA issue. Keys are globally unique within a JIRA instance.
type Issue struct {
	Key         string
	ProjectKey  string
	Summary     string
	Status      string
	Description string
	StartDate   time.Time // zero when unset
	DueDate     time.Time // zero when unset
	Created     time.Time
	Updated     time.Time
	Components  []string
	Assignee    string
	Reporter    string
}

func (i Issue) NormalizedStatus() IssueStatus {
	if s, ok := statusByName[normalizeToken(i.Status)]; ok {
		return s
	}
	return StatusTodo
}

func normalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// EpicUpdateStatus is the team lead's own assessment, as written in the update.
type EpicUpdateStatus string

const (
	UpdateOnTrack  EpicUpdateStatus = "On Track"
	UpdateAtRisk   EpicUpdateStatus = "At Risk"
	UpdateOffTrack EpicUpdateStatus = "Off Track"
)

// EpicUpdate is a status update authored by the team lead. Immutable once
// fetched.
type EpicUpdate struct {
	Updated time.Time
	Status  EpicUpdateStatus
	Content string
}

// Epic is a JIRA epic. An epic without stories or without an update is a
// valid terminal state.
type Epic struct {
	Issue
	LastUpdate *EpicUpdate
}

// Criterion is one scored rubric dimension of an epic update.
type Criterion struct {
	Score       int    `json:"score"`
	Explanation string `json:"explanation"`
}

// Evaluation is the AI's five-criteria scoring of an epic update. Every score
// is in 1..5 and the average is the unweighted arithmetic mean.
type Evaluation struct {
	EpicStatusClarity               Criterion `json:"epic_status_clarity"`
	DeliverablesDefined             Criterion `json:"deliverables_defined"`
	RiskIdentificationAndMitigation Criterion `json:"risk_identification_and_mitigation"`
	StatusEnumJustification         Criterion `json:"status_enum_justification"`
	DeliveryConfidence              Criterion `json:"delivery_confidence"`
}

func (e Evaluation) criteria() []Criterion {
	return []Criterion{
		e.EpicStatusClarity,
		e.DeliverablesDefined,
		e.RiskIdentificationAndMitigation,
		e.StatusEnumJustification,
		e.DeliveryConfidence,
	}
}

func (e Evaluation) AverageScore() float64 {
	sum := 0
	for _, c := range e.criteria() {
		sum += c.Score
	}
	return float64(sum) / 5.0
}

// SlackMessage is the subset of a Slack channel message the reports consume.
type SlackMessage struct {
	Timestamp  time.Time
	User       string
	Text       string
	ThreadTS   string
	ReplyCount int
}
