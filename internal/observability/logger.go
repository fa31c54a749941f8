package observability

import (
	"time"

	"github.com/danmuck/canview/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger applies the runtime log profile and tags the global logger
// with app.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.Logger.With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// SampledLogger wraps logger with a burst sampler for hot data-path events.
// burst events are logged per period; the rest are dropped.
func SampledLogger(logger zerolog.Logger, burst uint32, period time.Duration) zerolog.Logger {
	return logger.Sample(&zerolog.BurstSampler{
		Burst:  burst,
		Period: period,
	})
}
