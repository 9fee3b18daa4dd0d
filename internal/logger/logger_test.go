package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestVerbosityLevels(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, level(0))
	assert.Equal(t, zerolog.DebugLevel, level(1))
	assert.Equal(t, zerolog.TraceLevel, level(2))
	assert.Equal(t, zerolog.TraceLevel, level(5))
}

func TestDebugSuppressedAtDefaultVerbosity(t *testing.T) {
	var buf bytes.Buffer
	log := NewTo(&buf, 0)

	log.Debug().Msg("hidden")
	assert.Empty(t, buf.String())

	log.Info().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestJSONFormat(t *testing.T) {
	t.Setenv("OMAS_LOG_FORMAT", "json")

	var buf bytes.Buffer
	log := NewTo(&buf, 0)
	log.Info().Str("order", "vendors/demo-vendor/fulfillments/1").Msg("order update received")

	assert.Contains(t, buf.String(), `"order":"vendors/demo-vendor/fulfillments/1"`)
	assert.Contains(t, buf.String(), `"level":"info"`)
}
