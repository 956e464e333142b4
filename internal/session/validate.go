package session

import "fmt"

// ValidateName rejects names that could escape the sessions directory
// or vary across filesystems: lowercase ascii letters, digits, '-' and
// '_', at most 64 characters.
func ValidateName(name string) error {
	if name == "" || len(name) > 64 {
		return fmt.Errorf("invalid session name %q: want 1-64 characters of [a-z0-9_-]", name)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return fmt.Errorf("invalid session name %q: want 1-64 characters of [a-z0-9_-]", name)
		}
	}
	return nil
}
