package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testPagerDutyClient(baseURL string) *PagerDutyClient {
	c := newRetryClient(5*time.Second, 3, time.Millisecond)
	c.sleep = func(time.Duration) {}
	return &PagerDutyClient{baseURL: baseURL, apiKey: "test-key", email: "oncall@example.com", http: c}
}

func TestBuildIncidentFromLogs(t *testing.T) {
	raw := pdIncident{ID: "PABC", Title: "DB down", Urgency: "high", CreatedAt: "2025-03-04T10:00:00Z"}
	logs := []pdLogEntry{
		{Type: "trigger_log_entry", CreatedAt: "2025-03-04T10:00:00Z"},
		{Type: "acknowledge_log_entry", CreatedAt: "2025-03-04T10:12:00Z"},
		{Type: "acknowledge_log_entry", CreatedAt: "2025-03-04T10:40:00Z"},
		{Type: "resolve_log_entry", CreatedAt: "2025-03-04T11:30:00Z", Summary: "Resolved by user."},
	}

	incident := buildIncident(raw, logs)

	if incident.FirstAckAt != time.Date(2025, 3, 4, 10, 12, 0, 0, time.UTC) {
		t.Errorf("FirstAckAt = %v, want the earliest acknowledgment", incident.FirstAckAt)
	}
	if incident.ResolutionType != "MANUAL" {
		t.Errorf("ResolutionType = %q, want MANUAL", incident.ResolutionType)
	}
	if d, ok := incident.TimeToAck(); !ok || d != 12*time.Minute {
		t.Errorf("TimeToAck = %v/%v, want 12m", d, ok)
	}
}

func TestBuildIncidentAutoResolution(t *testing.T) {
	raw := pdIncident{ID: "PDEF", Urgency: "low", CreatedAt: "2025-03-04T10:00:00Z"}
	logs := []pdLogEntry{
		{Type: "resolve_log_entry", CreatedAt: "2025-03-04T10:30:00Z", Summary: "Resolved through the API."},
	}
	incident := buildIncident(raw, logs)
	if incident.ResolutionType != "AUTO" {
		t.Errorf("ResolutionType = %q, want AUTO for unacknowledged API resolve", incident.ResolutionType)
	}
	if incident.Acknowledged() {
		t.Error("incident should not count as acknowledged")
	}
}

func TestBuildIncidentTimeoutEscalation(t *testing.T) {
	raw := pdIncident{ID: "PGHI", Urgency: "high", CreatedAt: "2025-03-04T10:00:00Z"}
	logs := []pdLogEntry{
		{Type: "escalate_log_entry", CreatedAt: "2025-03-04T10:15:00Z"},
	}
	logs[0].Channel.Type = "timeout"
	if incident := buildIncident(raw, logs); !incident.TimedOut {
		t.Error("TimedOut = false, want true for timeout escalation")
	}
}

func TestIncidentsForPolicyPaginates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/log_entries") {
			fmt.Fprint(w, `{"log_entries":[],"more":false}`)
			return
		}
		offset := r.URL.Query().Get("offset")
		if r.URL.Query().Get("escalation_policy_ids[]") != "POL1" {
			t.Errorf("missing escalation policy filter, query=%s", r.URL.RawQuery)
		}
		switch offset {
		case "0":
			fmt.Fprint(w, `{"incidents":[
				{"id":"P1","title":"a","urgency":"high","created_at":"2025-03-04T10:00:00Z"},
				{"id":"P2","title":"b","urgency":"low","created_at":"2025-03-05T10:00:00Z"}
			],"more":true}`)
		case "2":
			fmt.Fprint(w, `{"incidents":[
				{"id":"P3","title":"c","urgency":"low","created_at":"2025-03-06T10:00:00Z"},
				{"id":"P4","title":"out of window","urgency":"low","created_at":"2025-02-01T10:00:00Z"}
			],"more":false}`)
		default:
			t.Errorf("unexpected offset %q", offset)
			fmt.Fprint(w, `{"incidents":[],"more":false}`)
		}
	}))
	defer srv.Close()

	window := TimeWindow{
		Start: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 9, 23, 59, 59, 0, time.UTC),
	}
	incidents, err := testPagerDutyClient(srv.URL).IncidentsForPolicy("POL1", window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(incidents) != 3 {
		t.Fatalf("incidents = %d, want 3 (out-of-window record filtered)", len(incidents))
	}
	if incidents[0].ID != "P1" || incidents[2].ID != "P3" {
		t.Errorf("unexpected incident order: %v", incidents)
	}
}

func TestIncidentsForPolicyMalformedPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"unexpected":true}`)
	}))
	defer srv.Close()

	_, err := testPagerDutyClient(srv.URL).IncidentsForPolicy("POL1", TimeWindow{})
	if !errors.Is(err, ErrPagination) {
		t.Fatalf("error = %v, want ErrPagination", err)
	}
}

func TestIncidentsForPolicyRetriesRateLimit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if strings.Contains(r.URL.Path, "/log_entries") {
			fmt.Fprint(w, `{"log_entries":[],"more":false}`)
			return
		}
		fmt.Fprint(w, `{"incidents":[{"id":"P1","title":"a","urgency":"high","created_at":"2025-03-04T10:00:00Z"}],"more":false}`)
	}))
	defer srv.Close()

	window := TimeWindow{
		Start: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 9, 23, 59, 59, 0, time.UTC),
	}
	incidents, err := testPagerDutyClient(srv.URL).IncidentsForPolicy("POL1", window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(incidents) != 1 {
		t.Fatalf("incidents = %d, want 1", len(incidents))
	}
}
