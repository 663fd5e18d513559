// Package log carries build-scoped logrus fields through context.Context.
package log

import (
	"context"

	"github.com/sirupsen/logrus"
)

type contextKey struct{}

// WithFields returns a context whose log entries carry the given fields in
// addition to any already attached.
func WithFields(ctx context.Context, fields logrus.Fields) context.Context {
	merged := logrus.Fields{}
	if existing, ok := ctx.Value(contextKey{}).(logrus.Fields); ok {
		for k, v := range existing {
			merged[k] = v
		}
	}
	for k, v := range fields {
		merged[k] = v
	}
	return context.WithValue(ctx, contextKey{}, merged)
}

// Entry takes a context.Context and constructs a logrus.Entry from it,
// adding the fields stored by WithFields.
func Entry(ctx context.Context) *logrus.Entry {
	if fields, ok := ctx.Value(contextKey{}).(logrus.Fields); ok {
		return logrus.WithFields(fields)
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// SetLevel configures the standard logger from CLI verbosity flags.
func SetLevel(verbose, quiet bool) {
	switch {
	case quiet:
		logrus.SetLevel(logrus.WarnLevel)
	case verbose:
		logrus.SetLevel(logrus.DebugLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}
