package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"
)

const pagerDutyBaseURL = "https://api.pagerduty.com"
const pagerDutyPageSize = 100

type PagerDutyClient struct {
	baseURL string
	apiKey  string
	email   string
	http    *retryClient
}

func NewPagerDutyClient(cfg Config) (*PagerDutyClient, error) {
	if cfg.PagerDutyAPIKey == "" {
		return nil, errors.New("pagerduty_api_key is not configured")
	}
	return &PagerDutyClient{
		baseURL: pagerDutyBaseURL,
		apiKey:  cfg.PagerDutyAPIKey,
		email:   cfg.PagerDutyEmail,
		http:    cfg.retryClient(),
	}, nil
}

type pdIncident struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Urgency   string `json:"urgency"`
	CreatedAt string `json:"created_at"`
}

type pdIncidentList struct {
	Incidents *[]pdIncident `json:"incidents"`
	More      bool          `json:"more"`
}

type pdLogEntry struct {
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	Summary   string `json:"summary"`
	Channel   struct {
		Type string `json:"type"`
	} `json:"channel"`
}

type pdLogEntryList struct {
	LogEntries *[]pdLogEntry `json:"log_entries"`
	More       bool          `json:"more"`
}

func (c *PagerDutyClient) get(path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequest("GET", u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Token token="+c.apiKey)
	req.Header.Set("Accept", "application/vnd.pagerduty+json;version=2")
	if c.email != "" {
		req.Header.Set("From", c.email)
	}

	resp, err := c.http.Do(req, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrPagination, err)
	}
	return nil
}

// IncidentsForPolicy lists incidents created within window for an escalation
// policy, walking offset pages until the API reports more=false. Each
// incident's log entries are fetched to derive the response-latency fields.
func (c *PagerDutyClient) IncidentsForPolicy(policyID string, window TimeWindow) ([]Incident, error) {
	var incidents []Incident

	err := fetchPages(func(cursor string) (string, bool, error) {
		offset := 0
		if cursor != "" {
			offset, _ = strconv.Atoi(cursor)
		}

		params := url.Values{}
		params.Set("since", window.Start.Format(time.RFC3339))
		params.Set("until", window.End.Format(time.RFC3339))
		params.Add("escalation_policy_ids[]", policyID)
		params.Set("limit", strconv.Itoa(pagerDutyPageSize))
		params.Set("offset", strconv.Itoa(offset))

		var page pdIncidentList
		if err := c.get("/incidents", params, &page); err != nil {
			return "", false, err
		}
		if page.Incidents == nil {
			return "", false, fmt.Errorf("%w: incidents field missing", ErrPagination)
		}

		for _, raw := range *page.Incidents {
			incident, err := c.hydrateIncident(raw)
			if err != nil {
				return "", false, err
			}
			// The API filters by since/until already; the guard keeps the
			// window contract when an upstream record slips past it.
			if !incident.CreatedAt.IsZero() && !window.Contains(incident.CreatedAt) {
				continue
			}
			incidents = append(incidents, incident)
		}

		if !page.More {
			return "", false, nil
		}
		return strconv.Itoa(offset + len(*page.Incidents)), true, nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("pagerduty fetch done policy=%s incidents=%d window=%s", policyID, len(incidents), window)
	return incidents, nil
}

// Incident retrieves a single incident by ID or incident key.
func (c *PagerDutyClient) Incident(id string) (Incident, error) {
	var wrapper struct {
		Incident *pdIncident `json:"incident"`
	}
	if err := c.get("/incidents/"+url.PathEscape(id), nil, &wrapper); err != nil {
		return Incident{}, err
	}
	if wrapper.Incident == nil {
		return Incident{}, fmt.Errorf("%w: incident field missing", ErrPagination)
	}
	return c.hydrateIncident(*wrapper.Incident)
}

func (c *PagerDutyClient) hydrateIncident(raw pdIncident) (Incident, error) {
	logs, err := c.logEntries(raw.ID)
	if err != nil {
		return Incident{}, err
	}
	return buildIncident(raw, logs), nil
}

// logEntries fetches the incident's log entries across all pages, oldest
// first. PagerDuty returns them newest first.
func (c *PagerDutyClient) logEntries(incidentID string) ([]pdLogEntry, error) {
	var logs []pdLogEntry
	err := fetchPages(func(cursor string) (string, bool, error) {
		offset := 0
		if cursor != "" {
			offset, _ = strconv.Atoi(cursor)
		}
		params := url.Values{}
		params.Set("limit", strconv.Itoa(pagerDutyPageSize))
		params.Set("offset", strconv.Itoa(offset))

		var page pdLogEntryList
		if err := c.get("/incidents/"+url.PathEscape(incidentID)+"/log_entries", params, &page); err != nil {
			return "", false, err
		}
		if page.LogEntries == nil {
			return "", false, fmt.Errorf("%w: log_entries field missing", ErrPagination)
		}
		logs = append(logs, *page.LogEntries...)
		if !page.More {
			return "", false, nil
		}
		return strconv.Itoa(offset + len(*page.LogEntries)), true, nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].CreatedAt < logs[j].CreatedAt })
	return logs, nil
}

// buildIncident derives ack/resolve/timeout fields from chronological log
// entries. An unacknowledged incident resolved "through the API" counts as an
// auto-resolution.
func buildIncident(raw pdIncident, logs []pdLogEntry) Incident {
	incident := Incident{
		ID:      raw.ID,
		Title:   raw.Title,
		Urgency: raw.Urgency,
	}
	if t, err := time.Parse(time.RFC3339, raw.CreatedAt); err == nil {
		incident.CreatedAt = t.UTC()
	}

	for _, entry := range logs {
		ts, err := time.Parse(time.RFC3339, entry.CreatedAt)
		if err != nil {
			continue
		}
		ts = ts.UTC()
		switch entry.Type {
		case "acknowledge_log_entry":
			if incident.FirstAckAt.IsZero() {
				incident.FirstAckAt = ts
			}
		case "resolve_log_entry":
			if incident.ResolvedAt.IsZero() {
				incident.ResolvedAt = ts
				if incident.FirstAckAt.IsZero() && entry.Summary == "Resolved through the API." {
					incident.ResolutionType = "AUTO"
				} else {
					incident.ResolutionType = "MANUAL"
				}
			}
		case "escalate_log_entry":
			if entry.Channel.Type == "timeout" {
				incident.TimedOut = true
			}
		}
	}
	return incident
}
