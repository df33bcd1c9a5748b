package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const usageText = `Usage: health <command> [flags]

Fetching:
  list-incidents    --team KEY [--start/--end "YYYY-MM-DD HH:MM:SS"]
  describe-incident --id PD_INCIDENT_ID
  list-arns         --team KEY [--start/--end]
  slack-messages    --team KEY [--start/--end]

Sheets:
  write-headers     --team KEY
  write-stats       --team KEY [--section NAME] [--start/--end]
  overwrite         --section NAME --metric KEY [--team KEY] [--start/--end]
  fill-dates        [--team KEY]
  refresh-all       [--skip-date-fill]
  fill-cell         --team KEY --cell A1 --value TEXT

Reports:
  execution-report  --team KEY [--label LABEL]
  render-report     --team KEY [--label LABEL] [--start/--end] [--notify] [--doc-tab NAME]
  history           --team KEY [--limit N]

Service:
  serve
`

func main() {
	log.SetFlags(log.LstdFlags)
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}

	cfg := LoadConfig()
	app := &app{cfg: cfg}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "list-incidents":
		err = app.listIncidents(args)
	case "describe-incident":
		err = app.describeIncident(args)
	case "list-arns":
		err = app.listARNs(args)
	case "slack-messages":
		err = app.slackMessages(args)
	case "write-headers":
		err = app.writeHeaders(args)
	case "write-stats":
		err = app.writeStats(args)
	case "overwrite":
		err = app.overwrite(args)
	case "fill-dates":
		err = app.fillDates(args)
	case "refresh-all":
		err = app.refreshAll(args)
	case "fill-cell":
		err = app.fillCell(args)
	case "execution-report":
		err = app.executionReport(args)
	case "render-report":
		err = app.renderReport(args)
	case "history":
		err = app.history(args)
	case "serve":
		err = app.serve(args)
	case "help", "-h", "--help":
		fmt.Print(usageText)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usageText)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	cfg Config
}

// windowFlags registers the shared --start/--end flags on a flag set.
func windowFlags(fs *flag.FlagSet) (start, end *string) {
	start = fs.String("start", "", `window start, "YYYY-MM-DD HH:MM:SS" UTC`)
	end = fs.String("end", "", `window end, "YYYY-MM-DD HH:MM:SS" UTC`)
	return start, end
}

func (a *app) team(key string) (Team, error) {
	if key == "" {
		return Team{}, fmt.Errorf("--team is required")
	}
	teams, err := LoadTeams(a.cfg.TeamConfigPath)
	if err != nil {
		return Team{}, err
	}
	team, ok := teams[key]
	if !ok {
		return Team{}, fmt.Errorf("unknown team %q", key)
	}
	return team, nil
}

func (a *app) statsManager(ctx context.Context, withHistory bool) (*StatsManager, func(), error) {
	teams, err := LoadTeams(a.cfg.TeamConfigPath)
	if err != nil {
		return nil, nil, err
	}
	stats, err := LoadStatsConfig(a.cfg.StatsConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if err := ValidateStatsConfig(stats); err != nil {
		return nil, nil, err
	}
	sheet, err := NewSheetsClient(ctx, a.cfg)
	if err != nil {
		return nil, nil, err
	}
	pd, err := NewPagerDutyClient(a.cfg)
	if err != nil {
		return nil, nil, err
	}
	jira, err := NewJIRAClient(a.cfg)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {}
	var store *HistoryStore
	if withHistory {
		store, err = NewHistoryStore(a.cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() { _ = store.Close() }
	}
	return NewStatsManager(teams, stats, sheet, pd, jira, store), cleanup, nil
}

func (a *app) listIncidents(args []string) error {
	fs := flag.NewFlagSet("list-incidents", flag.ExitOnError)
	teamKey := fs.String("team", "", "team key from team.yaml")
	start, end := windowFlags(fs)
	fs.Parse(args)

	team, err := a.team(*teamKey)
	if err != nil {
		return err
	}
	window, err := ResolveWindow(*start, *end, time.Now().UTC())
	if err != nil {
		return err
	}
	pd, err := NewPagerDutyClient(a.cfg)
	if err != nil {
		return err
	}
	incidents, err := pd.IncidentsForPolicy(team.EscalationPolicy, window)
	if err != nil {
		return err
	}

	fmt.Printf("%d incidents for %s (%s)\n", len(incidents), team.Name, window)
	for _, inc := range incidents {
		line := fmt.Sprintf("%s  %-6s %s", inc.ID, inc.Urgency, inc.Title)
		if d, ok := inc.TimeToResolve(); ok {
			line += fmt.Sprintf("  resolved in %s", d.Round(time.Minute))
		}
		fmt.Println(line)
	}
	return nil
}

func (a *app) describeIncident(args []string) error {
	fs := flag.NewFlagSet("describe-incident", flag.ExitOnError)
	id := fs.String("id", "", "PagerDuty incident ID")
	fs.Parse(args)

	if *id == "" {
		return fmt.Errorf("--id is required")
	}
	pd, err := NewPagerDutyClient(a.cfg)
	if err != nil {
		return err
	}
	inc, err := pd.Incident(*id)
	if err != nil {
		return err
	}

	fmt.Printf("Incident:   %s\n", inc.ID)
	fmt.Printf("Title:      %s\n", inc.Title)
	fmt.Printf("Urgency:    %s\n", inc.Urgency)
	fmt.Printf("Created:    %s\n", inc.CreatedAt.Format(time.RFC3339))
	if d, ok := inc.TimeToAck(); ok {
		fmt.Printf("Time to ack: %s\n", d.Round(time.Second))
	} else {
		fmt.Println("Time to ack: never acknowledged")
	}
	if d, ok := inc.TimeToResolve(); ok {
		fmt.Printf("Resolved:   %s after creation (%s)\n", d.Round(time.Second), inc.ResolutionType)
	} else {
		fmt.Println("Resolved:   still open")
	}
	if inc.TimedOut {
		fmt.Println("Escalated through a timeout")
	}
	return nil
}

func (a *app) listARNs(args []string) error {
	fs := flag.NewFlagSet("list-arns", flag.ExitOnError)
	teamKey := fs.String("team", "", "team key from team.yaml")
	start, end := windowFlags(fs)
	fs.Parse(args)

	team, err := a.team(*teamKey)
	if err != nil {
		return err
	}
	window, err := ResolveWindow(*start, *end, time.Now().UTC())
	if err != nil {
		return err
	}
	jira, err := NewJIRAClient(a.cfg)
	if err != nil {
		return err
	}
	issues, err := jira.ListARNs(team.Components, window)
	if err != nil {
		return err
	}

	fmt.Printf("%d ARNs for %s (%s)\n", len(issues), team.Name, window)
	for _, issue := range issues {
		fmt.Printf("%s  %-12s %s\n", issue.Key, issue.NormalizedStatus(), issue.Summary)
	}
	return nil
}

func (a *app) slackMessages(args []string) error {
	fs := flag.NewFlagSet("slack-messages", flag.ExitOnError)
	teamKey := fs.String("team", "", "team key from team.yaml")
	start, end := windowFlags(fs)
	fs.Parse(args)

	team, err := a.team(*teamKey)
	if err != nil {
		return err
	}
	window, err := ResolveWindow(*start, *end, time.Now().UTC())
	if err != nil {
		return err
	}
	sc, err := NewSlackClient(a.cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	messages, err := sc.MessagesBetween(ctx, team.HelpChannel, window)
	if err != nil {
		return err
	}

	fmt.Printf("%d messages in %s (%s)\n", len(messages), team.HelpChannel, window)
	for _, msg := range messages {
		fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Format("2006-01-02 15:04"), msg.User, msg.Text)
	}
	return nil
}

func (a *app) writeHeaders(args []string) error {
	fs := flag.NewFlagSet("write-headers", flag.ExitOnError)
	teamKey := fs.String("team", "", "team key from team.yaml")
	fs.Parse(args)

	if *teamKey == "" {
		return fmt.Errorf("--team is required")
	}
	ctx := context.Background()
	manager, cleanup, err := a.statsManager(ctx, false)
	if err != nil {
		return err
	}
	defer cleanup()
	if err := manager.WriteHeaders(ctx, *teamKey); err != nil {
		return err
	}
	fmt.Printf("Headers written for team %s\n", *teamKey)
	return nil
}

func (a *app) writeStats(args []string) error {
	fs := flag.NewFlagSet("write-stats", flag.ExitOnError)
	teamKey := fs.String("team", "", "team key from team.yaml")
	section := fs.String("section", "", "only write this section")
	start, end := windowFlags(fs)
	fs.Parse(args)

	if *teamKey == "" {
		return fmt.Errorf("--team is required")
	}
	window, err := ResolveWindow(*start, *end, time.Now().UTC())
	if err != nil {
		return err
	}
	ctx := context.Background()
	manager, cleanup, err := a.statsManager(ctx, true)
	if err != nil {
		return err
	}
	defer cleanup()
	if err := manager.WriteStats(ctx, *teamKey, window, *section); err != nil {
		return err
	}
	fmt.Printf("Statistics written for team %s (%s)\n", *teamKey, window)
	return nil
}

func (a *app) overwrite(args []string) error {
	fs := flag.NewFlagSet("overwrite", flag.ExitOnError)
	section := fs.String("section", "", "section of the metric, e.g. PagerDuty")
	metric := fs.String("metric", "", "metric key to rewrite, e.g. mtta_str")
	teamKey := fs.String("team", "", "team key; all teams when omitted")
	start, end := windowFlags(fs)
	fs.Parse(args)

	if *section == "" || *metric == "" {
		return fmt.Errorf("--section and --metric are required")
	}
	window, err := ResolveWindow(*start, *end, time.Now().UTC())
	if err != nil {
		return err
	}
	ctx := context.Background()
	manager, cleanup, err := a.statsManager(ctx, true)
	if err != nil {
		return err
	}
	defer cleanup()
	if err := manager.OverwriteMetric(ctx, *teamKey, window, *section, *metric); err != nil {
		return err
	}
	fmt.Printf("Overwrote %s/%s (%s)\n", *section, *metric, window)
	return nil
}

func (a *app) fillDates(args []string) error {
	fs := flag.NewFlagSet("fill-dates", flag.ExitOnError)
	teamKey := fs.String("team", "", "team key; all teams when omitted")
	fs.Parse(args)

	ctx := context.Background()
	manager, cleanup, err := a.statsManager(ctx, false)
	if err != nil {
		return err
	}
	defer cleanup()
	if err := manager.FillDates(ctx, *teamKey, time.Now().UTC()); err != nil {
		return err
	}
	fmt.Println("Dates filled")
	return nil
}

func (a *app) refreshAll(args []string) error {
	fs := flag.NewFlagSet("refresh-all", flag.ExitOnError)
	skipDateFill := fs.Bool("skip-date-fill", false, "do not extend the date header row first")
	fs.Parse(args)

	ctx := context.Background()
	manager, cleanup, err := a.statsManager(ctx, true)
	if err != nil {
		return err
	}
	defer cleanup()
	if err := manager.RefreshAll(ctx, *skipDateFill, time.Now().UTC()); err != nil {
		return err
	}
	fmt.Println("All teams refreshed")
	return nil
}

func (a *app) fillCell(args []string) error {
	fs := flag.NewFlagSet("fill-cell", flag.ExitOnError)
	teamKey := fs.String("team", "", "team key from team.yaml")
	cell := fs.String("cell", "", "cell coordinate, e.g. B4")
	value := fs.String("value", "", "value to write")
	fs.Parse(args)

	team, err := a.team(*teamKey)
	if err != nil {
		return err
	}
	if *cell == "" {
		return fmt.Errorf("--cell is required")
	}
	ctx := context.Background()
	sheet, err := NewSheetsClient(ctx, a.cfg)
	if err != nil {
		return err
	}
	previous, err := overwriteCell(ctx, sheet, team.Name, *cell, *value)
	if err != nil {
		return err
	}
	if previous == "" {
		fmt.Printf("Wrote %s!%s\n", team.Name, *cell)
	} else {
		fmt.Printf("Wrote %s!%s (was %q)\n", team.Name, *cell, previous)
	}
	return nil
}

func (a *app) executionReport(args []string) error {
	fs := flag.NewFlagSet("execution-report", flag.ExitOnError)
	teamKey := fs.String("team", "", "team key from team.yaml")
	label := fs.String("label", "health-tracked", "epic label to analyze")
	fs.Parse(args)

	team, err := a.team(*teamKey)
	if err != nil {
		return err
	}
	jira, err := NewJIRAClient(a.cfg)
	if err != nil {
		return err
	}

	var epics []Epic
	for _, project := range team.ProjectKeys {
		projectEpics, err := jira.EpicsByLabel(project, *label)
		if err != nil {
			return err
		}
		epics = append(epics, projectEpics...)
	}
	report, err := AnalyzeEpics(epics, jira.StoriesByEpic, time.Now().UTC())
	if err != nil {
		return err
	}
	fmt.Print(RenderExecutionSummary(report))
	return nil
}

func (a *app) renderReport(args []string) error {
	fs := flag.NewFlagSet("render-report", flag.ExitOnError)
	teamKey := fs.String("team", "", "team key from team.yaml")
	label := fs.String("label", "health-tracked", "epic label to report on")
	notify := fs.Bool("notify", false, "post the report path to the team's help channel")
	docTab := fs.String("doc-tab", "", "also append the report to this tab of the review document")
	start, end := windowFlags(fs)
	fs.Parse(args)

	team, err := a.team(*teamKey)
	if err != nil {
		return err
	}
	window, err := ResolveWindow(*start, *end, time.Now().UTC())
	if err != nil {
		return err
	}
	if a.cfg.ReportTemplatePath == "" {
		return fmt.Errorf("report_template_path is not configured")
	}
	tpl, err := LoadTemplate(a.cfg.ReportTemplatePath)
	if err != nil {
		return err
	}
	if err := ValidateReportTemplate(tpl); err != nil {
		return err
	}
	jira, err := NewJIRAClient(a.cfg)
	if err != nil {
		return err
	}
	ai, err := NewAIClient(a.cfg)
	if err != nil {
		return err
	}

	var epics []Epic
	for _, project := range team.ProjectKeys {
		projectEpics, err := jira.EpicsByLabel(project, *label)
		if err != nil {
			return err
		}
		epics = append(epics, projectEpics...)
	}

	ctx := context.Background()
	evaluations := EvaluateEpics(ctx, ai, epics)
	pairs := MergeEvaluations(epics, evaluations)

	content, err := BuildEpicReport(tpl, team, window, pairs)
	if err != nil {
		return err
	}
	path, err := WriteReportFile(content, a.cfg.ReportOutputDir, window.End, team.Name)
	if err != nil {
		return err
	}
	fmt.Printf("Report written to %s\n", path)

	if *docTab != "" {
		dc, err := NewDocsClient(ctx, a.cfg)
		if err != nil {
			return err
		}
		if err := dc.AppendMarkdown(ctx, *docTab, content); err != nil {
			return err
		}
		fmt.Printf("Report appended to document tab %q\n", *docTab)
	}

	if *notify {
		sc, err := NewSlackClient(a.cfg)
		if err != nil {
			return err
		}
		channelID, err := sc.ChannelID(ctx, team.HelpChannel)
		if err != nil {
			return err
		}
		text := fmt.Sprintf("Epic health report for %s (%s) is ready: %s", team.Name, window, path)
		if err := sc.PostMessage(ctx, channelID, text, ""); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) history(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	teamKey := fs.String("team", "", "team key from team.yaml")
	limit := fs.Int("limit", 50, "maximum records to show")
	fs.Parse(args)

	if *teamKey == "" {
		return fmt.Errorf("--team is required")
	}
	store, err := NewHistoryStore(a.cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.StatsForTeam(*teamKey, *limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No recorded statistics")
		return nil
	}
	for _, r := range records {
		fmt.Printf("%s  %-10s %-25s %s\n", r.WindowStart.Format("2006-01-02"), r.Section, r.Label, r.Value)
	}
	return nil
}

func (a *app) serve(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager, cleanup, err := a.statsManager(ctx, true)
	if err != nil {
		return err
	}
	defer cleanup()

	StartRefreshScheduler(ctx, a.cfg, manager)
	log.Println("health service running, ctrl-c to stop")
	<-ctx.Done()
	return nil
}
