package util

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogFromContext returns the logger attached to ctx, falling back to the global logger.
func LogFromContext(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		return &log.Logger
	}

	return l
}

// ContextWithLogger attaches l to ctx so LogFromContext finds it further down.
func ContextWithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}
