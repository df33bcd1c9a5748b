package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	PagerDutyAPIKey string `yaml:"pagerduty_api_key"`
	PagerDutyEmail  string `yaml:"pagerduty_email"`

	JiraDomain         string `yaml:"jira_domain"`
	JiraEmail          string `yaml:"jira_email"`
	JiraAPIToken       string `yaml:"jira_api_token"`
	JiraStartDateField string `yaml:"jira_start_date_field"`

	SlackBotToken string `yaml:"slack_bot_token"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	AIModel         string `yaml:"ai_model"`

	GoogleCredentialsFile string `yaml:"google_credentials_file"`
	HealthSheetID         string `yaml:"health_sheet_id"`
	ReviewDocumentID      string `yaml:"review_document_id"`

	TeamConfigPath     string `yaml:"team_config_path"`
	StatsConfigPath    string `yaml:"stats_config_path"`
	ReportTemplatePath string `yaml:"report_template_path"`

	DBPath          string `yaml:"db_path"`
	ReportOutputDir string `yaml:"report_output_dir"`

	RefreshSchedule string `yaml:"refresh_schedule"`

	HTTPTimeoutSeconds int `yaml:"http_timeout_seconds"`
	RetryMaxAttempts   int `yaml:"retry_max_attempts"`
	RetryBaseDelayMS   int `yaml:"retry_base_delay_ms"`
}

func LoadConfig() Config {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	envOverride(&cfg.PagerDutyAPIKey, "PAGERDUTY_API_KEY")
	envOverride(&cfg.PagerDutyEmail, "PAGERDUTY_EMAIL")
	envOverride(&cfg.JiraDomain, "JIRA_DOMAIN")
	envOverride(&cfg.JiraEmail, "JIRA_EMAIL")
	envOverride(&cfg.JiraAPIToken, "JIRA_API_TOKEN")
	envOverride(&cfg.JiraStartDateField, "JIRA_START_DATE_FIELD")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.AIModel, "AI_MODEL")
	envOverride(&cfg.GoogleCredentialsFile, "GOOGLE_CREDENTIALS_FILE")
	envOverride(&cfg.HealthSheetID, "HEALTH_SHEET_ID")
	envOverride(&cfg.ReviewDocumentID, "REVIEW_DOCUMENT_ID")
	envOverride(&cfg.TeamConfigPath, "TEAM_CONFIG_PATH")
	envOverride(&cfg.StatsConfigPath, "STATS_CONFIG_PATH")
	envOverride(&cfg.ReportTemplatePath, "REPORT_TEMPLATE_PATH")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.ReportOutputDir, "REPORT_OUTPUT_DIR")
	envOverride(&cfg.RefreshSchedule, "REFRESH_SCHEDULE")
	envOverrideInt(&cfg.HTTPTimeoutSeconds, "HTTP_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.RetryMaxAttempts, "RETRY_MAX_ATTEMPTS")
	envOverrideInt(&cfg.RetryBaseDelayMS, "RETRY_BASE_DELAY_MS")

	// Defaults
	if cfg.JiraStartDateField == "" {
		cfg.JiraStartDateField = "customfield_10015"
	}
	if cfg.TeamConfigPath == "" {
		cfg.TeamConfigPath = "config/team.yaml"
	}
	if cfg.StatsConfigPath == "" {
		cfg.StatsConfigPath = "config/stats.yaml"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./health.db"
	}
	if cfg.ReportOutputDir == "" {
		cfg.ReportOutputDir = "./reports"
	}
	if cfg.RefreshSchedule == "" {
		cfg.RefreshSchedule = "0 6 * * MON"
	}
	if cfg.HTTPTimeoutSeconds == 0 {
		cfg.HTTPTimeoutSeconds = int(externalHTTPTimeout / time.Second)
	}
	if cfg.RetryMaxAttempts == 0 {
		cfg.RetryMaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBaseDelayMS == 0 {
		cfg.RetryBaseDelayMS = int(defaultBaseDelay / time.Millisecond)
	}

	if cfg.HTTPTimeoutSeconds < 1 {
		log.Fatalf("invalid http_timeout_seconds '%d': must be >= 1", cfg.HTTPTimeoutSeconds)
	}
	if cfg.RetryMaxAttempts < 1 {
		log.Fatalf("invalid retry_max_attempts '%d': must be >= 1", cfg.RetryMaxAttempts)
	}
	if cfg.RetryBaseDelayMS < 1 {
		log.Fatalf("invalid retry_base_delay_ms '%d': must be >= 1", cfg.RetryBaseDelayMS)
	}

	return cfg
}

func (c Config) retryClient() *retryClient {
	return newRetryClient(
		time.Duration(c.HTTPTimeoutSeconds)*time.Second,
		c.RetryMaxAttempts,
		time.Duration(c.RetryBaseDelayMS)*time.Millisecond,
	)
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

// LoadTeams reads team.yaml into a key -> Team map.
func LoadTeams(path string) (map[string]Team, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read team config: %w", err)
	}
	var raw map[string]Team
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse team config: %w", err)
	}
	teams := make(map[string]Team, len(raw))
	for key, team := range raw {
		team.Key = key
		if team.Name == "" {
			team.Name = key
		}
		teams[key] = team
	}
	return teams, nil
}

// StatMetric is one declared metric: the registry key plus its sheet label.
type StatMetric struct {
	Key   string
	Label string
}

// StatSection is an ordered group of metrics under one category header.
type StatSection struct {
	Name    string
	Metrics []StatMetric
}

// StatsConfig drives which metrics the aggregator computes. Section and
// metric order is the insertion order of stats.yaml, which is also the sheet
// row order, so the plain map decoding of yaml.v3 is not enough here.
type StatsConfig struct {
	Sections []StatSection
}

func (c StatsConfig) Section(name string) (StatSection, bool) {
	for _, s := range c.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return StatSection{}, false
}

// LoadStatsConfig parses stats.yaml preserving declaration order.
func LoadStatsConfig(path string) (StatsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StatsConfig{}, fmt.Errorf("read stats config: %w", err)
	}
	return parseStatsConfig(data)
}

func parseStatsConfig(data []byte) (StatsConfig, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return StatsConfig{}, fmt.Errorf("parse stats config: %w", err)
	}
	if len(doc.Content) == 0 {
		return StatsConfig{}, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return StatsConfig{}, fmt.Errorf("parse stats config: top level must be a mapping")
	}

	var cfg StatsConfig
	for i := 0; i+1 < len(root.Content); i += 2 {
		nameNode, bodyNode := root.Content[i], root.Content[i+1]
		if bodyNode.Kind != yaml.MappingNode {
			return StatsConfig{}, fmt.Errorf("parse stats config: section %q must be a mapping", nameNode.Value)
		}
		section := StatSection{Name: nameNode.Value}
		for j := 0; j+1 < len(bodyNode.Content); j += 2 {
			section.Metrics = append(section.Metrics, StatMetric{
				Key:   bodyNode.Content[j].Value,
				Label: bodyNode.Content[j+1].Value,
			})
		}
		cfg.Sections = append(cfg.Sections, section)
	}
	return cfg, nil
}
