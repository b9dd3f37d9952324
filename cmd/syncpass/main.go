// syncpass runs one import pass per configured broker connection: pull the
// event feed, persist it, and reconcile courses, directory trees and
// memberships into the local platform. Connections run in parallel; a
// per-connection lease in the store keeps concurrent invocations off the
// same connection.
//
// The local platform here is the in-memory one, so platform state does not
// survive the process. Demo wiring only: a real deployment swaps in a
// local.Platform backed by the host system.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"campus-sync/internal/concurrency"
	"campus-sync/internal/config"
	"campus-sync/internal/coursesync"
	"campus-sync/internal/dirtree"
	"campus-sync/internal/domain"
	"campus-sync/internal/ecs"
	"campus-sync/internal/export"
	"campus-sync/internal/local"
	"campus-sync/internal/membership"
	"campus-sync/internal/participants"
	"campus-sync/internal/queue"
	"campus-sync/internal/store"
)

func main() {
	var (
		connID   = flag.Int("conn", 0, "run only this connection id (0 = all)")
		leaseTTL = flag.Duration("lease-ttl", 10*time.Minute, "how long a pass may hold a connection")
		workers  = flag.Int("workers", 4, "connections processed in parallel")
		timeout  = flag.Duration("timeout", 30*time.Minute, "overall pass timeout")
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

	conns := settings.Connections
	if *connID != 0 {
		conns = nil
		for _, c := range settings.Connections {
			if c.ID == *connID {
				conns = append(conns, c)
			}
		}
		if len(conns) == 0 {
			log.Fatalf("no connection with id %d", *connID)
		}
	}

	platform := local.NewMemory().Platform()

	errs := concurrency.ForEach(ctx, conns, concurrency.ParallelOptions{MaxWorkers: *workers},
		func(ctx context.Context, _ int, conn config.Connection) error {
			if err := runConnection(ctx, st, settings, platform, conn, *leaseTTL); err != nil {
				return fmt.Errorf("connection %d (%s): %w", conn.ID, conn.Name, err)
			}
			return nil
		})
	for _, err := range errs {
		log.Printf("WARN: %v", err)
	}
	if len(errs) > 0 {
		log.Fatalf("%d of %d connections failed", len(errs), len(conns))
	}
}

func runConnection(ctx context.Context, st *store.Store, settings *config.Settings, platform local.Platform, conn config.Connection, ttl time.Duration) error {
	holder := uuid.NewString()
	ok, err := st.AcquireLease(conn.ID, holder, ttl)
	if err != nil {
		return err
	}
	if !ok {
		log.Printf("connection %d: another pass is running, skipping", conn.ID)
		return nil
	}
	defer func() {
		if err := st.ReleaseLease(conn.ID, holder); err != nil {
			log.Printf("WARN: connection %d: release lease: %v", conn.ID, err)
		}
	}()

	client := ecs.New(conn.URL, conn.Token)
	dir, err := participants.Fetch(ctx, client, st, conn.ID, settings)
	if err != nil {
		return err
	}

	trees := dirtree.New(st, platform)
	courses := coursesync.New(st, platform, trees, settings.ImportCategoryID)
	members := membership.New(st, platform, settings.Roles, settings.Identity)
	senderField := ""
	if cms, ok := dir.CMS(); ok {
		members.Reporter = &export.StatusReporter{Client: client, CMSMID: cms.MID}
		senderField = cms.IdentityField
	}

	q := queue.New(st, client, conn.ID)
	q.Register(domain.TypeDirectoryTree, &dirtree.Handler{Sync: trees, Client: client, Directory: dir, ServerID: conn.ID})
	q.Register(domain.TypeCourse, &coursesync.Handler{Sync: courses, Client: client, Directory: dir, ServerID: conn.ID})
	q.Register(domain.TypeCourseMembers, &membership.Handler{Sync: members, Client: client, Directory: dir, ServerID: conn.ID})

	if err := q.Run(ctx); err != nil {
		return err
	}

	// Catch-up: enrol cached members whose account appeared after their
	// resource did, and straighten out locally drifted roles.
	if err := members.AssignAllRoles(senderField); err != nil {
		return err
	}

	stats, err := q.Stats()
	if err != nil {
		return err
	}
	log.Printf("connection %d: pass done, queue pending=%d failing=%d abandoned=%d",
		conn.ID, stats.Pending, stats.Failing, stats.Abandoned)
	return nil
}
