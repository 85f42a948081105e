package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "llama-embd"

// windows: C:\Users\{user}\AppData\Roaming\llama-embd
// macOS: ~/Library/Application Support/llama-embd
// linux: ~/.config/llama-embd
func GetConfigDir() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(homeDir(), "AppData", "Roaming")
		}
		configDir = filepath.Join(appData, appName)

	case "darwin":
		configDir = filepath.Join(homeDir(), "Library", "Application Support", appName)

	default:
		xdgConfig := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfig == "" {
			xdgConfig = filepath.Join(homeDir(), ".config")
		}
		configDir = filepath.Join(xdgConfig, appName)
	}

	return configDir
}

func GetDefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// homeDir falls back to "." when the home directory cannot be determined.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
