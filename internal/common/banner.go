package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and logs the resolved startup settings
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.Print("Dossier", GetVersion())

	logger.Info().
		Str("version", GetFullVersion()).
		Str("environment", config.Environment).
		Str("storage", config.Storage.Type).
		Str("provider", config.Research.Provider).
		Msg("Dossier research service")
}
