package config

import (
	"os"
	"strconv"
)

// Config carries the process-level settings read from the environment.
// Everything that needs structure (connections, mappings, participant flags)
// lives in the YAML settings file instead.
type Config struct {
	DBPath       string
	SettingsPath string

	// Snapshot drop-off
	SFTPHost                  string
	SFTPPort                  int
	SFTPUser                  string
	SFTPPass                  string
	SFTPRemoteDir             string
	SFTPInsecureIgnoreHostKey bool
}

func Load() Config {
	return Config{
		DBPath:       getenv("CAMPUS_SYNC_DB", "campus-sync.db"),
		SettingsPath: getenv("CAMPUS_SYNC_SETTINGS", "campus-sync.yaml"),

		SFTPHost:                  os.Getenv("SFTP_HOST"),
		SFTPPort:                  getenvInt("SFTP_PORT", 22),
		SFTPUser:                  os.Getenv("SFTP_USER"),
		SFTPPass:                  os.Getenv("SFTP_PASS"),
		SFTPRemoteDir:             getenv("SFTP_REMOTE_DIR", "/"),
		SFTPInsecureIgnoreHostKey: getenvBool("SFTP_INSECURE_IGNORE_HOST_KEY", false),
	}
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
