package session

import "github.com/chatarchive/mamsync/internal/config"

// DefaultName is the session used when nothing else selects one.
const DefaultName = "main"

// Resolve picks the active session: an explicit flag wins, then the
// default_session key in config.toml, then DefaultName.
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if cfg, err := config.Load(ConfigPath()); err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultName
}
