package configs

import (
	"os"

	"github.com/tshare/publicroom/internal/infrastructure/env"
)

// DetermineConfigPath resolves the config file from the --config flag,
// then PUBLICROOM_CONFIG, then a list of well-known locations. An empty
// result means no file was found and defaults apply.
func DetermineConfigPath(flagValue string) string {
	configPath := flagValue

	if configPath == "" {
		configPath = env.GetString("PUBLICROOM_CONFIG", "")
	}

	if configPath == "" {
		candidates := []string{
			"./config.yaml",
			"./config.yml",
			"../../config.yaml", // keep for local dev
			"/etc/publicroom/config.yaml",
			"/app/config.yaml", // common in Docker
		}

		for _, p := range candidates {
			if _, err := os.Stat(p); err == nil {
				configPath = p
				break
			}
		}
	}

	return configPath
}
