// register inspects each configured broker connection: it fetches the
// participant directory, prints who we may import from and export to, and
// shows the queue depth. Run it after editing the settings file to verify
// a connection before the first sync pass.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"campus-sync/internal/config"
	"campus-sync/internal/ecs"
	"campus-sync/internal/participants"
	"campus-sync/internal/store"
)

func main() {
	timeout := flag.Duration("timeout", 2*time.Minute, "overall timeout")
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

	for _, conn := range settings.Connections {
		fmt.Printf("connection %d (%s) at %s\n", conn.ID, conn.Name, conn.URL)

		client := ecs.New(conn.URL, conn.Token)
		dir, err := participants.Fetch(ctx, client, st, conn.ID, settings)
		if err != nil {
			log.Fatalf("connection %d: %v", conn.ID, err)
		}

		if cms, ok := dir.CMS(); ok {
			fmt.Printf("  CMS participant: %d (%s)\n", cms.MID, cms.Name)
		} else {
			fmt.Println("  WARNING: no participant is flagged as the CMS")
		}
		for _, p := range dir.ExportTargets() {
			fmt.Printf("  export target: %d (%s)\n", p.MID, p.Name)
		}
		fmt.Printf("  self mid: %d\n", dir.SelfMID())

		stats, err := st.EventStats(conn.ID)
		if err != nil {
			log.Fatalf("connection %d: stats: %v", conn.ID, err)
		}
		fmt.Printf("  queue: pending=%d failing=%d abandoned=%d\n",
			stats.Pending, stats.Failing, stats.Abandoned)
	}
}
