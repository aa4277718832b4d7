package app

import (
	"strings"

	"github.com/quellen-dev/lobbyd/pkg/logger"
)

// ConfigureLogging initialises the global logger from the log section,
// defaulting to info-level JSON output.
func ConfigureLogging(cfg LogConfig) error {
	level := strings.TrimSpace(cfg.Level)
	if level == "" {
		level = "info"
	}
	return logger.Init(level, cfg.Format)
}
