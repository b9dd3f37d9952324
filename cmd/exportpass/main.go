// exportpass pushes local state back to each broker: pending course_link
// exports, then the aggregated course_urls resource for the owning CMS.
//
// Uses the in-memory local platform, so platform state does not survive
// the process. Demo wiring only: a real deployment swaps in a
// local.Platform backed by the host system.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"campus-sync/internal/config"
	"campus-sync/internal/ecs"
	"campus-sync/internal/export"
	"campus-sync/internal/local"
	"campus-sync/internal/participants"
	"campus-sync/internal/store"
)

func main() {
	var (
		authURLs = flag.Bool("auth-urls", false, "attach single-use auth tokens to published course URLs")
		timeout  = flag.Duration("timeout", 10*time.Minute, "overall pass timeout")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cfg := config.Load()
	settings, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil {
		log.Fatalf("settings: %v", err)
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	platform := local.NewMemory().Platform()

	for _, conn := range settings.Connections {
		client := ecs.New(conn.URL, conn.Token)
		dir, err := participants.Fetch(ctx, client, st, conn.ID, settings)
		if err != nil {
			log.Fatalf("connection %d: participants: %v", conn.ID, err)
		}

		exp := export.NewSync(st, platform)
		if err := exp.UpdateECS(ctx, &export.BrokerPublisher{Client: client}); err != nil {
			log.Fatalf("connection %d: push exports: %v", conn.ID, err)
		}

		cms, ok := dir.CMS()
		if !ok {
			log.Printf("connection %d: no CMS participant, skipping course_urls", conn.ID)
			continue
		}
		agg := &export.URLAggregator{
			Store: st, Local: platform, Client: client,
			ServerID: conn.ID, CMSMID: cms.MID, AuthURLs: *authURLs,
		}
		res, err := agg.Refresh(ctx)
		if err != nil {
			log.Fatalf("connection %d: course_urls: %v", conn.ID, err)
		}
		log.Printf("connection %d: course_urls created=%d updated=%d deleted=%d",
			conn.ID, res.Created, res.Updated, res.Deleted)
	}
}
