package util_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github/chapool/ledger-provider/internal/util"
)

func TestLogFromContextFallsBackToGlobal(t *testing.T) {
	l := util.LogFromContext(context.Background())
	assert.NotNil(t, l)
}

func TestLogFromContextUsesAttachedLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).With().Str("job_id", "abc").Logger()

	ctx := util.ContextWithLogger(context.Background(), logger)
	util.LogFromContext(ctx).Info().Msg("hello")

	assert.Contains(t, buf.String(), `"job_id":"abc"`)
	assert.Contains(t, buf.String(), `"message":"hello"`)
}
