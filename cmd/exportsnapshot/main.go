// exportsnapshot writes the brotli-compressed catalog CSV and optionally
// ships it to the reporting drop host over SFTP.
//
// Uses the in-memory local platform for course names and enrolment counts,
// so rows reflect only what this process has seen. Demo wiring only.
package main

import (
	"bytes"
	"context"
	"flag"
	"log"
	"os"
	"time"

	"campus-sync/internal/config"
	"campus-sync/internal/export"
	"campus-sync/internal/local"
	"campus-sync/internal/sftpclient"
	"campus-sync/internal/store"
)

func main() {
	var (
		outPath    = flag.String("out", "", "write the snapshot to this path (default: dated name in cwd)")
		serverID   = flag.Int("conn", 0, "connection id to snapshot (0 = first configured)")
		uploadSFTP = flag.Bool("sftp", false, "upload the snapshot via SFTP")
		timeout    = flag.Duration("timeout", 10*time.Minute, "overall timeout")
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

	conn := *serverID
	if conn == 0 {
		conn = settings.Connections[0].ID
	}

	snap := &export.Snapshot{Store: st, Local: local.NewMemory().Platform(), ServerID: conn}
	var buf bytes.Buffer
	if err := snap.WriteBrotli(&buf); err != nil {
		log.Fatalf("snapshot: %v", err)
	}

	name := export.Filename(time.Now())
	path := *outPath
	if path == "" {
		path = name
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		log.Fatalf("write %s: %v", path, err)
	}
	log.Printf("wrote %s (%d bytes)", path, buf.Len())

	if *uploadSFTP {
		sftpCfg := sftpclient.Config{
			Host:                  cfg.SFTPHost,
			Port:                  cfg.SFTPPort,
			User:                  cfg.SFTPUser,
			Pass:                  cfg.SFTPPass,
			RemoteDir:             cfg.SFTPRemoteDir,
			InsecureIgnoreHostKey: cfg.SFTPInsecureIgnoreHostKey,
		}
		if err := sftpclient.Upload(ctx, sftpCfg, bytes.NewReader(buf.Bytes()), name); err != nil {
			log.Fatalf("upload: %v", err)
		}
		log.Printf("uploaded %s to %s", name, cfg.SFTPHost)
	}
}
