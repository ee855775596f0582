package testlog

import (
	"testing"

	"github.com/rs/zerolog/log"

	"github.com/okaneko/policylink/internal/observability"
)

func Start(t *testing.T) {
	t.Helper()
	log.Logger = observability.InitTestLogger()
	log.Info().Str("test", t.Name()).Send()
}
