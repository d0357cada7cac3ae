package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}
	if profile := ProfileFromContext(ctx); profile != "" {
		fields = append(fields, zap.String("profile", profile))
	}
	if requester := RequesterFromContext(ctx); requester != "" {
		fields = append(fields, zap.String("requester", requester))
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}
	return fields
}

type profileCtxKey struct{}
type requesterCtxKey struct{}
type requestCtxKey struct{}
type loggerCtxKey struct{}

const (
	maxValueLen = 256
	maxIDLen    = 128
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validateValue(v, name string) error {
	if v == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(v) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(v) > maxValueLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxValueLen)
	}
	return nil
}

// WithProfile records the profile an operation acts on.
// Panics if profile is empty, too long or not valid UTF-8.
func WithProfile(ctx context.Context, profile string) context.Context {
	if err := validateValue(profile, "profile"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, profileCtxKey{}, profile)
}

// ProfileFromContext returns the profile recorded in ctx.
func ProfileFromContext(ctx context.Context) string {
	p, _ := ctx.Value(profileCtxKey{}).(string)
	return p
}

// WithRequester records the identity performing an operation, in its
// "@@node/profile" form.
// Panics if requester is empty, too long or not valid UTF-8.
func WithRequester(ctx context.Context, requester string) context.Context {
	if err := validateValue(requester, "requester"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, requesterCtxKey{}, requester)
}

// RequesterFromContext returns the requester recorded in ctx.
func RequesterFromContext(ctx context.Context) string {
	r, _ := ctx.Value(requesterCtxKey{}).(string)
	return r
}

// WithRequestID adds a request id to ctx.
// Panics if requestID is empty or contains characters other than
// alphanumerics, hyphen and underscore.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" || len(requestID) > maxIDLen || !idPattern.MatchString(requestID) {
		panic(fmt.Sprintf("logging: invalid request id %q", requestID))
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext returns the request id recorded in ctx.
func RequestIDFromContext(ctx context.Context) string {
	r, _ := ctx.Value(requestCtxKey{}).(string)
	return r
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
