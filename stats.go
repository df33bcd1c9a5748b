package main

import (
	"fmt"
	"time"
)

// StatValue is one computed metric, ready for a sheet cell.
type StatValue struct {
	Key   string
	Label string
	Value string
}

// SectionStats pairs a category header with its ordered metric values.
type SectionStats struct {
	Name   string
	Values []StatValue
}

// A reduction is either a count over a predicate or a formatted mean
// duration. Metric names resolve to reductions once, at config validation,
// never by runtime name lookup.
type incidentReduction struct {
	match    func(Incident) bool          // nil means count all
	duration func(Incident) (time.Duration, bool) // set for mean-duration metrics
}

type issueReduction struct {
	match func(Issue) bool // nil means count all
}

var incidentReductions = map[string]incidentReduction{
	"total_incidents":        {},
	"high_urgency_incidents": {match: func(i Incident) bool { return i.Urgency == "high" }},
	"low_urgency_incidents":  {match: func(i Incident) bool { return i.Urgency == "low" }},
	"acknowledged_incidents": {match: Incident.Acknowledged},
	"resolved_incidents":     {match: Incident.Resolved},
	"auto_resolved_incidents": {
		match: func(i Incident) bool { return i.ResolutionType == "AUTO" },
	},
	"manually_resolved_incidents": {
		match: func(i Incident) bool { return i.ResolutionType == "MANUAL" },
	},
	"timed_out_incidents": {match: func(i Incident) bool { return i.TimedOut }},
	"mtta_str":            {duration: Incident.TimeToAck},
	"mttr_str":            {duration: Incident.TimeToResolve},
}

var issueReductions = map[string]issueReduction{
	"total_arns": {},
	"open_arns": {match: func(i Issue) bool {
		s := i.NormalizedStatus()
		return s != StatusDone && s != StatusInvalid
	}},
	"closed_arns":  {match: func(i Issue) bool { return i.NormalizedStatus() == StatusDone }},
	"invalid_arns": {match: func(i Issue) bool { return i.NormalizedStatus() == StatusInvalid }},
}

// Category names wired to a record source. PagerDuty sections reduce over
// incidents, JIRA sections over issues.
const (
	sectionPagerDuty = "PagerDuty"
	sectionJIRA      = "JIRA"
)

// ValidateStatsConfig rejects metric keys with no registered reduction, and
// categories with no record source, before any fetch happens.
func ValidateStatsConfig(cfg StatsConfig) error {
	for _, section := range cfg.Sections {
		switch section.Name {
		case sectionPagerDuty:
			for _, m := range section.Metrics {
				if _, ok := incidentReductions[m.Key]; !ok {
					return fmt.Errorf("%w: %q in section %q", ErrUnknownMetric, m.Key, section.Name)
				}
			}
		case sectionJIRA:
			for _, m := range section.Metrics {
				if _, ok := issueReductions[m.Key]; !ok {
					return fmt.Errorf("%w: %q in section %q", ErrUnknownMetric, m.Key, section.Name)
				}
			}
		default:
			return fmt.Errorf("%w: unrecognized section %q", ErrUnknownMetric, section.Name)
		}
	}
	return nil
}

// AggregateIncidents computes the declared PagerDuty metrics over incidents,
// preserving metric order from the config.
func AggregateIncidents(incidents []Incident, section StatSection) ([]StatValue, error) {
	values := make([]StatValue, 0, len(section.Metrics))
	for _, m := range section.Metrics {
		red, ok := incidentReductions[m.Key]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, m.Key)
		}

		var value string
		if red.duration != nil {
			var total time.Duration
			n := 0
			for _, inc := range incidents {
				if d, ok := red.duration(inc); ok {
					total += d
					n++
				}
			}
			value = formatMeanDuration(total, n)
		} else {
			count := 0
			for _, inc := range incidents {
				if red.match == nil || red.match(inc) {
					count++
				}
			}
			value = fmt.Sprintf("%d", count)
		}
		values = append(values, StatValue{Key: m.Key, Label: m.Label, Value: value})
	}
	return values, nil
}

// AggregateIssues computes the declared JIRA metrics over issues.
func AggregateIssues(issues []Issue, section StatSection) ([]StatValue, error) {
	values := make([]StatValue, 0, len(section.Metrics))
	for _, m := range section.Metrics {
		red, ok := issueReductions[m.Key]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, m.Key)
		}
		count := 0
		for _, issue := range issues {
			if red.match == nil || red.match(issue) {
				count++
			}
		}
		values = append(values, StatValue{Key: m.Key, Label: m.Label, Value: fmt.Sprintf("%d", count)})
	}
	return values, nil
}

// formatMeanDuration renders a mean as "H:MM", or "N/A" when no record
// contributed a sample.
func formatMeanDuration(total time.Duration, n int) string {
	if n == 0 {
		return "N/A"
	}
	mean := total / time.Duration(n)
	hours := int(mean.Hours())
	minutes := int(mean.Minutes()) % 60
	return fmt.Sprintf("%d:%02d", hours, minutes)
}
