package log_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapingturtlefrog/Friendsly/pkg/log"
)

func TestCtxUsesContextLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx := log.WithLogger(context.Background(), zerolog.New(&buf))

	// Level methods chain directly off the accessor.
	log.Ctx(ctx).Error().Str(log.FieldUserID, "fan-a").Msg("boom")

	out := buf.String()
	assert.Contains(t, out, `"boom"`)
	assert.Contains(t, out, `"fan-a"`)
}

func TestCtxFallsBackToGlobal(t *testing.T) {
	l := log.Ctx(context.Background())
	require.NotNil(t, l)
	assert.Equal(t, log.L(), l)

	// Chaining off the globals must work the same way.
	log.L().Debug().Msg("global chain")
	l.Warn().Msg("fallback chain")
}

func TestNewAppliesLevelAndService(t *testing.T) {
	logger := log.New(log.Config{Level: "warn", ServiceName: "queue-service"})
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
}
