package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger tags the global logger with app and, when known, the rank.
// Output format comes from the logging package.
func InitLogger(app string, rank int) zerolog.Logger {
	ctx := log.Logger.With().Str("app", app)
	if rank >= 0 {
		ctx = ctx.Int("rank", rank)
	}
	logger := ctx.Logger()
	log.Logger = logger
	return logger
}
