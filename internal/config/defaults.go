package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DataDir returns the base data directory, honouring GAZEREAD_DATA_DIR.
func DataDir() string {
	if envDir := os.Getenv("GAZEREAD_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/gazeread/
//   - Linux:   $XDG_DATA_HOME/gazeread/ or ~/.local/share/gazeread/
//   - Windows: %APPDATA%\gazeread\
func PlatformDataDir() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "gazeread")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "gazeread")
		}
	case "linux":
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "gazeread")
		}
		return filepath.Join(home, ".local", "share", "gazeread")
	}
	return filepath.Join(home, ".gazeread")
}

// PlatformConfigDir returns the platform-specific config directory.
// macOS and Windows keep config next to data.
func PlatformConfigDir() string {
	if runtime.GOOS == "linux" {
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "gazeread")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "gazeread")
	}
	return PlatformDataDir()
}

// defaultPlayer returns a command-line audio player that ships with the OS.
func defaultPlayer() string {
	switch runtime.GOOS {
	case "darwin":
		return "afplay"
	case "linux":
		return "aplay"
	default:
		return ""
	}
}

// SupportedConfigFormats lists accepted config file extensions.
func SupportedConfigFormats() []string {
	return []string{"toml", "json", "yaml", "yml"}
}

// FindConfigFile returns the first config.<ext> found in the working
// directory or the config directory, or "" if there is none.
func FindConfigFile() string {
	for _, dir := range []string{".", PlatformConfigDir()} {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
