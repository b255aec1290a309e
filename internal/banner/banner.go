// Package banner prints the one-line startup announcement every Focus
// process logs before entering its poll loop (spec.md's worker-identity and
// config summary, supplemented from banner.rs).
package banner

import (
	"github.com/samply/focus-go/internal/config"
	"github.com/samply/focus-go/internal/logging"
)

// Version is overridden at build time via -ldflags "-X ...Version=...".
var Version = "dev"

// Print logs the startup banner: version, self identity, backend, and
// obfuscation mode, matching banner.rs's single structured info line.
func Print(log logging.Logger, cfg config.Config) {
	log.Info("focus-go starting up",
		"version", Version,
		"self", cfg.BeamAppIDLong,
		"endpoint_type", string(cfg.EndpointType),
		"endpoint_url", cfg.EndpointURL,
		"obfuscate", cfg.Obfuscate,
		"obfuscate_below_10_mode", int(cfg.ObfuscateMode),
	)
}
