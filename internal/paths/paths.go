package paths

import (
	"os"
	"path/filepath"
)

// DataDir returns the prospector data directory, following XDG conventions:
// $XDG_DATA_HOME/prospector or ~/.local/share/prospector as fallback.
func DataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "prospector"), nil
}

// DefaultDBPath is the sqlite file used when the config does not name one.
func DefaultDBPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "prospector.db"), nil
}
