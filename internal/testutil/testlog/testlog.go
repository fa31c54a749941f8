// Package testlog applies the test log profile and brackets each test in
// the log output.
package testlog

import (
	"testing"
	"time"

	"github.com/danmuck/canview/internal/logging"
	"github.com/rs/zerolog/log"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	started := time.Now()
	log.Info().Str("test", t.Name()).Msg("test start")
	t.Cleanup(func() {
		log.Info().Str("test", t.Name()).Bool("failed", t.Failed()).Dur("took", time.Since(started)).Msg("test end")
	})
}
