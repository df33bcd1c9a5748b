package main

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// StartRefreshScheduler runs the weekly stats refresh on a 5-field cron
// expression (minute hour day-of-month month day-of-week), e.g.
// "0 6 * * MON" for Mondays at 06:00 UTC. An empty schedule disables it.
func StartRefreshScheduler(ctx context.Context, cfg Config, manager *StatsManager) {
	schedule := strings.TrimSpace(cfg.RefreshSchedule)
	if schedule == "" {
		log.Println("refresh scheduler disabled (refresh_schedule not set)")
		return
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		log.Printf("invalid refresh_schedule %q: %v, scheduler disabled", schedule, err)
		return
	}

	log.Printf("refresh scheduled cron=%q", schedule)

	go func() {
		for {
			now := time.Now().UTC()
			next := sched.Next(now)
			log.Printf("next refresh at %s (in %s)", next.Format("Mon Jan 2 15:04"), next.Sub(now).Round(time.Minute))

			select {
			case <-ctx.Done():
				log.Println("refresh scheduler stopped")
				return
			case <-time.After(next.Sub(now)):
			}

			if err := manager.RefreshAll(ctx, false, time.Now().UTC()); err != nil {
				log.Printf("scheduled refresh failed: %v", err)
			} else {
				log.Println("scheduled refresh complete")
			}
		}
	}()
}
