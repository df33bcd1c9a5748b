package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const jiraPageSize = 100
const jiraTimeLayout = "2006-01-02T15:04:05.000-0700"
const jiraDateLayout = "2006-01-02"

type JIRAClient struct {
	baseURL        string
	email          string
	token          string
	startDateField string
	http           *retryClient
}

func NewJIRAClient(cfg Config) (*JIRAClient, error) {
	if cfg.JiraDomain == "" || cfg.JiraEmail == "" || cfg.JiraAPIToken == "" {
		return nil, errors.New("jira_domain, jira_email and jira_api_token must be configured")
	}
	return &JIRAClient{
		baseURL:        "https://" + cfg.JiraDomain + "/rest/api/2",
		email:          cfg.JiraEmail,
		token:          cfg.JiraAPIToken,
		startDateField: cfg.JiraStartDateField,
		http:           cfg.retryClient(),
	}, nil
}

type jiraIssue struct {
	Key    string          `json:"key"`
	Fields json.RawMessage `json:"fields"`
}

type jiraIssueFields struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Created     string `json:"created"`
	Updated     string `json:"updated"`
	DueDate     string `json:"duedate"`
	Status      struct {
		Name string `json:"name"`
	} `json:"status"`
	Components []struct {
		Name string `json:"name"`
	} `json:"components"`
	Assignee *struct {
		DisplayName string `json:"displayName"`
	} `json:"assignee"`
	Reporter *struct {
		DisplayName string `json:"displayName"`
	} `json:"reporter"`
	Project struct {
		Key string `json:"key"`
	} `json:"project"`
}

type jiraSearchResponse struct {
	Issues *[]jiraIssue `json:"issues"`
	Total  int          `json:"total"`
}

type jiraComment struct {
	Body    string `json:"body"`
	Created string `json:"created"`
}

type jiraCommentList struct {
	Comments *[]jiraComment `json:"comments"`
	Total    int            `json:"total"`
}

func (c *JIRAClient) get(path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequest("GET", u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.email, c.token)
	req.Header.Set("Accept", "application/json")

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

// search runs a JQL query, walking startAt pages until total is reached.
func (c *JIRAClient) search(jql string) ([]jiraIssue, error) {
	var issues []jiraIssue
	err := fetchPages(func(cursor string) (string, bool, error) {
		startAt := 0
		if cursor != "" {
			startAt, _ = strconv.Atoi(cursor)
		}
		params := url.Values{}
		params.Set("jql", jql)
		params.Set("startAt", strconv.Itoa(startAt))
		params.Set("maxResults", strconv.Itoa(jiraPageSize))

		var page jiraSearchResponse
		if err := c.get("/search", params, &page); err != nil {
			return "", false, err
		}
		if page.Issues == nil {
			return "", false, fmt.Errorf("%w: issues field missing", ErrPagination)
		}
		issues = append(issues, *page.Issues...)

		next := startAt + len(*page.Issues)
		if next >= page.Total || len(*page.Issues) == 0 {
			return "", false, nil
		}
		return strconv.Itoa(next), true, nil
	})
	if err != nil {
		return nil, err
	}
	return issues, nil
}

// ListARNs fetches ARN project issues for the given components created within
// the window.
func (c *JIRAClient) ListARNs(components []string, window TimeWindow) ([]Issue, error) {
	if len(components) == 0 {
		return nil, errors.New("no components supplied")
	}
	clauses := make([]string, 0, len(components))
	for _, comp := range components {
		clauses = append(clauses, fmt.Sprintf("component = %q", comp))
	}
	jql := fmt.Sprintf(
		"project = ARN AND (%s) AND created >= %q AND created <= %q",
		strings.Join(clauses, " OR "),
		window.Start.Format("2006-01-02 15:04"),
		window.End.Format("2006-01-02 15:04"),
	)

	raw, err := c.search(jql)
	if err != nil {
		return nil, err
	}
	issues := make([]Issue, 0, len(raw))
	for _, r := range raw {
		issue, err := c.parseIssue(r)
		if err != nil {
			log.Printf("jira skipping invalid issue key=%s err=%v", r.Key, err)
			continue
		}
		// JQL filters server-side; the guard keeps the window contract.
		if !issue.Created.IsZero() && !window.Contains(issue.Created) {
			continue
		}
		issues = append(issues, issue)
	}
	log.Printf("jira fetch done jql_components=%d issues=%d window=%s", len(components), len(issues), window)
	return issues, nil
}

// EpicsByLabel fetches a project's epics carrying the label, including each
// epic's most recent status update.
func (c *JIRAClient) EpicsByLabel(projectKey, label string) ([]Epic, error) {
	jql := fmt.Sprintf("project = %q AND issuetype = Epic AND labels = %q", projectKey, label)
	raw, err := c.search(jql)
	if err != nil {
		return nil, err
	}

	epics := make([]Epic, 0, len(raw))
	for _, r := range raw {
		issue, err := c.parseIssue(r)
		if err != nil {
			log.Printf("jira skipping invalid epic key=%s err=%v", r.Key, err)
			continue
		}
		update, err := c.LastEpicUpdate(issue.Key)
		if err != nil {
			return nil, err
		}
		epics = append(epics, Epic{Issue: issue, LastUpdate: update})
	}
	log.Printf("jira epics fetched project=%s label=%s count=%d", projectKey, label, len(epics))
	return epics, nil
}

// StoriesByEpic fetches the stories under an epic.
func (c *JIRAClient) StoriesByEpic(epicKey string) ([]Issue, error) {
	raw, err := c.search(fmt.Sprintf("parent = %q AND issuetype = Story", epicKey))
	if err != nil {
		return nil, err
	}
	stories := make([]Issue, 0, len(raw))
	for _, r := range raw {
		story, err := c.parseIssue(r)
		if err != nil {
			log.Printf("jira skipping invalid story key=%s err=%v", r.Key, err)
			continue
		}
		stories = append(stories, story)
	}
	return stories, nil
}

// LastEpicUpdate returns the epic's most recent status-update comment, or nil
// when the epic has none. Update comments start with a "Status:" line holding
// one of the three track states; anything else is an ordinary comment.
func (c *JIRAClient) LastEpicUpdate(epicKey string) (*EpicUpdate, error) {
	var comments []jiraComment
	err := fetchPages(func(cursor string) (string, bool, error) {
		startAt := 0
		if cursor != "" {
			startAt, _ = strconv.Atoi(cursor)
		}
		params := url.Values{}
		params.Set("startAt", strconv.Itoa(startAt))
		params.Set("maxResults", strconv.Itoa(jiraPageSize))

		var page jiraCommentList
		if err := c.get("/issue/"+url.PathEscape(epicKey)+"/comment", params, &page); err != nil {
			return "", false, err
		}
		if page.Comments == nil {
			return "", false, fmt.Errorf("%w: comments field missing", ErrPagination)
		}
		comments = append(comments, *page.Comments...)

		next := startAt + len(*page.Comments)
		if next >= page.Total || len(*page.Comments) == 0 {
			return "", false, nil
		}
		return strconv.Itoa(next), true, nil
	})
	if err != nil {
		return nil, err
	}

	var latest *EpicUpdate
	for _, comment := range comments {
		update, ok := parseEpicUpdate(comment)
		if !ok {
			continue
		}
		if latest == nil || update.Updated.After(latest.Updated) {
			latest = update
		}
	}
	return latest, nil
}

var updateStatusByToken = map[string]EpicUpdateStatus{
	"on track":  UpdateOnTrack,
	"at risk":   UpdateAtRisk,
	"off track": UpdateOffTrack,
}

func parseEpicUpdate(comment jiraComment) (*EpicUpdate, bool) {
	body := strings.TrimSpace(comment.Body)
	firstLine, rest, _ := strings.Cut(body, "\n")
	marker, ok := strings.CutPrefix(strings.TrimSpace(firstLine), "Status:")
	if !ok {
		return nil, false
	}
	status, ok := updateStatusByToken[normalizeToken(marker)]
	if !ok {
		return nil, false
	}

	updated, err := time.Parse(jiraTimeLayout, comment.Created)
	if err != nil {
		return nil, false
	}
	return &EpicUpdate{
		Updated: updated.UTC(),
		Status:  status,
		Content: strings.TrimSpace(rest),
	}, true
}

func (c *JIRAClient) parseIssue(raw jiraIssue) (Issue, error) {
	if len(raw.Fields) == 0 {
		return Issue{}, fmt.Errorf("missing fields in issue %s", raw.Key)
	}
	var fields jiraIssueFields
	if err := json.Unmarshal(raw.Fields, &fields); err != nil {
		return Issue{}, fmt.Errorf("parsing fields of %s: %w", raw.Key, err)
	}

	issue := Issue{
		Key:         raw.Key,
		ProjectKey:  fields.Project.Key,
		Summary:     fields.Summary,
		Description: fields.Description,
		Status:      fields.Status.Name,
	}
	if issue.ProjectKey == "" {
		if prefix, _, ok := strings.Cut(raw.Key, "-"); ok {
			issue.ProjectKey = prefix
		}
	}
	if fields.Created != "" {
		t, err := time.Parse(jiraTimeLayout, fields.Created)
		if err != nil {
			return Issue{}, fmt.Errorf("invalid created timestamp in %s: %w", raw.Key, err)
		}
		issue.Created = t.UTC()
	}
	if fields.Updated != "" {
		t, err := time.Parse(jiraTimeLayout, fields.Updated)
		if err != nil {
			return Issue{}, fmt.Errorf("invalid updated timestamp in %s: %w", raw.Key, err)
		}
		issue.Updated = t.UTC()
	}
	if fields.DueDate != "" {
		if t, err := time.Parse(jiraDateLayout, fields.DueDate); err == nil {
			issue.DueDate = t.UTC()
		}
	}
	for _, comp := range fields.Components {
		issue.Components = append(issue.Components, comp.Name)
	}
	issue.Assignee = "Unassigned"
	if fields.Assignee != nil {
		issue.Assignee = fields.Assignee.DisplayName
	}
	issue.Reporter = "Unknown"
	if fields.Reporter != nil {
		issue.Reporter = fields.Reporter.DisplayName
	}

	// The start date lives in an instance-specific custom field.
	var custom map[string]any
	if err := json.Unmarshal(raw.Fields, &custom); err == nil {
		if v, ok := custom[c.startDateField].(string); ok && v != "" {
			if t, err := time.Parse(jiraDateLayout, v); err == nil {
				issue.StartDate = t.UTC()
			}
		}
	}
	return issue, nil
}
