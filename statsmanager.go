package main

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"
)

// Sheet layout per team tab: column A carries the section header and metric
// labels starting at row 3, with a blank row between sections. Row 2 from
// column B onward carries one Monday date per statistics column.
const (
	headerStartRow = 3
	dateHeaderRow  = 2
	dateLayout     = "2006-01-02"
)

type StatsManager struct {
	teams   map[string]Team
	stats   StatsConfig
	sheet   cellWriter
	pd      *PagerDutyClient
	jira    *JIRAClient
	history *HistoryStore
}

func NewStatsManager(teams map[string]Team, stats StatsConfig, sheet cellWriter, pd *PagerDutyClient, jira *JIRAClient, history *HistoryStore) *StatsManager {
	return &StatsManager{teams: teams, stats: stats, sheet: sheet, pd: pd, jira: jira, history: history}
}

func (m *StatsManager) team(teamKey string) (Team, error) {
	team, ok := m.teams[teamKey]
	if !ok {
		return Team{}, fmt.Errorf("unknown team %q", teamKey)
	}
	return team, nil
}

// labelColumn returns the full column-A contents from headerStartRow down:
// each section header, its metric labels, and a blank separator row.
func (m *StatsManager) labelColumn() []string {
	var rows []string
	for i, section := range m.stats.Sections {
		if i > 0 {
			rows = append(rows, "")
		}
		rows = append(rows, section.Name)
		for _, metric := range section.Metrics {
			rows = append(rows, metric.Label)
		}
	}
	return rows
}

// sectionValueRow returns the sheet row of a section's first metric.
func (m *StatsManager) sectionValueRow(name string) (int, error) {
	row := headerStartRow
	for _, section := range m.stats.Sections {
		if section.Name == name {
			return row + 1, nil
		}
		row += len(section.Metrics) + 2
	}
	return 0, fmt.Errorf("%w: section %q", ErrUnknownMetric, name)
}

// WriteHeaders writes the team's label column in one batched request.
func (m *StatsManager) WriteHeaders(ctx context.Context, teamKey string) error {
	team, err := m.team(teamKey)
	if err != nil {
		return err
	}
	coord := fmt.Sprintf("A%d", headerStartRow)
	if err := m.sheet.WriteColumn(ctx, team.Name, coord, m.labelColumn()); err != nil {
		return err
	}
	log.Printf("headers written team=%s sections=%d", team.Name, len(m.stats.Sections))
	return nil
}

// columnForWindow locates the statistics column whose date header matches the
// window's first day, appending a new dated column when none exists.
func (m *StatsManager) columnForWindow(ctx context.Context, tab string, window TimeWindow) (string, error) {
	label := window.Start.Format(dateLayout)
	row, err := m.sheet.ReadRow(ctx, tab, dateHeaderRow)
	if err != nil {
		return "", err
	}
	for i, cell := range row {
		if cell == label {
			return columnLetter(i), nil
		}
	}
	index := len(row)
	if index < 1 {
		index = 1 // column A is reserved for labels
	}
	col := columnLetter(index)
	if err := m.sheet.WriteCell(ctx, tab, fmt.Sprintf("%s%d", col, dateHeaderRow), label); err != nil {
		return "", err
	}
	return col, nil
}

// sectionStats fetches and aggregates one section's metrics for a team.
func (m *StatsManager) sectionStats(team Team, section StatSection, window TimeWindow) ([]StatValue, error) {
	switch section.Name {
	case sectionPagerDuty:
		incidents, err := m.pd.IncidentsForPolicy(team.EscalationPolicy, window)
		if err != nil {
			return nil, err
		}
		if m.history != nil {
			if err := m.history.RecordIncidents(team.Key, incidents); err != nil {
				log.Printf("history record failed team=%s err=%v", team.Key, err)
			}
		}
		return AggregateIncidents(incidents, section)
	case sectionJIRA:
		issues, err := m.jira.ListARNs(team.Components, window)
		if err != nil {
			return nil, err
		}
		return AggregateIssues(issues, section)
	default:
		return nil, fmt.Errorf("%w: section %q", ErrUnknownMetric, section.Name)
	}
}

// WriteStats computes and writes a team's statistics for the window. An empty
// section name writes every section; a named section writes just that one.
func (m *StatsManager) WriteStats(ctx context.Context, teamKey string, window TimeWindow, sectionName string) error {
	team, err := m.team(teamKey)
	if err != nil {
		return err
	}
	if sectionName != "" {
		if _, ok := m.stats.Section(sectionName); !ok {
			return fmt.Errorf("%w: section %q", ErrUnknownMetric, sectionName)
		}
	}
	col, err := m.columnForWindow(ctx, team.Name, window)
	if err != nil {
		return err
	}
	for _, section := range m.stats.Sections {
		if sectionName != "" && section.Name != sectionName {
			continue
		}
		values, err := m.sectionStats(team, section, window)
		if err != nil {
			return fmt.Errorf("section %s: %w", section.Name, err)
		}
		row, err := m.sectionValueRow(section.Name)
		if err != nil {
			return err
		}
		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = v.Value
		}
		coord := fmt.Sprintf("%s%d", col, row)
		if err := m.sheet.WriteColumn(ctx, team.Name, coord, cells); err != nil {
			return err
		}
		if m.history != nil {
			if err := m.history.RecordStats(team.Key, window, section.Name, values); err != nil {
				log.Printf("history record failed team=%s section=%s err=%v", team.Key, section.Name, err)
			}
		}
		log.Printf("stats written team=%s section=%s column=%s rows=%d", team.Name, section.Name, col, len(cells))
	}
	return nil
}

// OverwriteMetric recomputes one section and rewrites a single metric's cell
// for the window. An empty team key overwrites the metric for every team.
func (m *StatsManager) OverwriteMetric(ctx context.Context, teamKey string, window TimeWindow, sectionName, metricKey string) error {
	section, ok := m.stats.Section(sectionName)
	if !ok {
		return fmt.Errorf("%w: section %q", ErrUnknownMetric, sectionName)
	}
	metricIndex := -1
	for i, metric := range section.Metrics {
		if metric.Key == metricKey {
			metricIndex = i
			break
		}
	}
	if metricIndex < 0 {
		return fmt.Errorf("%w: %q in section %q", ErrUnknownMetric, metricKey, sectionName)
	}

	for _, key := range m.teamKeys(teamKey) {
		team, err := m.team(key)
		if err != nil {
			return err
		}
		col, err := m.columnForWindow(ctx, team.Name, window)
		if err != nil {
			return err
		}
		values, err := m.sectionStats(team, section, window)
		if err != nil {
			return fmt.Errorf("section %s: %w", sectionName, err)
		}
		row, err := m.sectionValueRow(sectionName)
		if err != nil {
			return err
		}
		coord := fmt.Sprintf("%s%d", col, row+metricIndex)
		if err := m.sheet.WriteCell(ctx, team.Name, coord, values[metricIndex].Value); err != nil {
			return err
		}
		if m.history != nil {
			single := []StatValue{values[metricIndex]}
			if err := m.history.RecordStats(team.Key, window, sectionName, single); err != nil {
				log.Printf("history record failed team=%s section=%s err=%v", team.Key, sectionName, err)
			}
		}
		log.Printf("metric overwritten team=%s section=%s metric=%s cell=%s", team.Name, sectionName, metricKey, coord)
	}
	return nil
}

// FillDates extends the date header row with consecutive Mondays up to the
// most recent complete week. An empty team key fills every team.
func (m *StatsManager) FillDates(ctx context.Context, teamKey string, now time.Time) error {
	keys := m.teamKeys(teamKey)
	current := defaultWindow(now).Start
	for _, key := range keys {
		team, err := m.team(key)
		if err != nil {
			return err
		}
		row, err := m.sheet.ReadRow(ctx, team.Name, dateHeaderRow)
		if err != nil {
			return err
		}
		next := current
		start := 1
		if len(row) > 1 {
			last, err := time.ParseInLocation(dateLayout, row[len(row)-1], time.UTC)
			if err != nil {
				return fmt.Errorf("%w: date header %q on tab %s", ErrInvalidDateFormat, row[len(row)-1], team.Name)
			}
			if !last.Before(current) {
				continue
			}
			next = last.AddDate(0, 0, 7)
			start = len(row)
		}
		var labels []string
		for !next.After(current) {
			labels = append(labels, next.Format(dateLayout))
			next = next.AddDate(0, 0, 7)
		}
		for i, label := range labels {
			coord := fmt.Sprintf("%s%d", columnLetter(start+i), dateHeaderRow)
			if err := m.sheet.WriteCell(ctx, team.Name, coord, label); err != nil {
				return err
			}
		}
		log.Printf("dates filled team=%s columns=%d", team.Name, len(labels))
	}
	return nil
}

// RefreshAll fills dates and writes the latest complete week for every team.
func (m *StatsManager) RefreshAll(ctx context.Context, skipDateFill bool, now time.Time) error {
	window := defaultWindow(now)
	for _, key := range m.teamKeys("") {
		if !skipDateFill {
			if err := m.FillDates(ctx, key, now); err != nil {
				return fmt.Errorf("fill dates %s: %w", key, err)
			}
		}
		if err := m.WriteStats(ctx, key, window, ""); err != nil {
			return fmt.Errorf("write stats %s: %w", key, err)
		}
	}
	return nil
}

func (m *StatsManager) teamKeys(only string) []string {
	if only != "" {
		return []string{only}
	}
	keys := make([]string, 0, len(m.teams))
	for key := range m.teams {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
