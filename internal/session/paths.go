// Package session names the on-disk layout shared by the daemon and
// the control CLI:
//
//	~/.mamsync/config.toml
//	~/.mamsync/sessions/<name>/LOCK
//	~/.mamsync/sessions/<name>/daemon.sock
//	~/.mamsync/sessions/<name>/mamsync.db
//	~/.mamsync/sessions/<name>/logs/mamsyncd.log
package session

import (
	"os"
	"path/filepath"
)

func baseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mamsync")
}

// ConfigPath is the global config file, shared by all sessions.
func ConfigPath() string {
	return filepath.Join(baseDir(), "config.toml")
}

// Dir is the per-session state directory.
func Dir(name string) string {
	return filepath.Join(baseDir(), "sessions", name)
}

// SocketPath is the control API unix socket of a session.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

// DBPath is the archive database of a session.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "mamsync.db")
}

// LogPath is the daemon log file of a session.
func LogPath(name string) string {
	return filepath.Join(Dir(name), "logs", "mamsyncd.log")
}

// EnsureDir creates the session directory tree, private to the user.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), filepath.Join(Dir(name), "logs")} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
