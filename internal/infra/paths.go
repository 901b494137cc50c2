package infra

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

const appDirName = "quotamon"

// Paths holds the per-user locations quotamon reads and writes.
type Paths struct {
	ConfigDir string // config.yaml / config.toml
	DataDir   string // journal database and key
}

// DefaultPaths resolves XDG locations, falling back to ~/.config and ~/.local/share.
func DefaultPaths() Paths {
	return pathsFor(GetRealUserHome(), os.Getenv)
}

func pathsFor(home string, getenv func(string) string) Paths {
	configBase := getenv("XDG_CONFIG_HOME")
	if configBase == "" {
		configBase = filepath.Join(home, ".config")
	}
	dataBase := getenv("XDG_DATA_HOME")
	if dataBase == "" {
		dataBase = filepath.Join(home, ".local", "share")
	}
	return Paths{
		ConfigDir: filepath.Join(configBase, appDirName),
		DataDir:   filepath.Join(dataBase, appDirName),
	}
}

// GetRealUserHome returns the invoking user's home directory, even under sudo.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	return expandHomeWith(path, GetRealUserHome())
}

func expandHomeWith(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
