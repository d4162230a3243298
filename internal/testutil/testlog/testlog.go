package testlog

import (
	"testing"

	"github.com/AquaToken/dao-aquarius-sub003/internal/logging"
	"github.com/rs/zerolog/log"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Str("test", t.Name()).Msg("start")
}
