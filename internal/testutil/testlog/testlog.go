package testlog

import (
	"testing"

	"github.com/wlkit/wlkit/internal/logging"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log := logging.Logger("test")
	log.Debug().Str("test", t.Name()).Msg("start")
}
