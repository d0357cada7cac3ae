// Package logging provides the structured logger used by the vecfs tools.
//
// The Logger wraps zap with:
//   - a Trace level below Debug
//   - context field injection (trace and span ids, profile, requester,
//     request id)
//   - key and pattern based redaction of credentials
//   - level-aware sampling where errors are never dropped
//
// Library packages accept a plain *zap.Logger; hand them Logger.Underlying.
//
// # Usage
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithProfile(ctx, "alice")
//	logger.Info(ctx, "pack exported", zap.Int("entries", n))
//
// Output carries the correlation fields:
//
//	{"ts":"2026-03-02T10:15:30Z","level":"info","msg":"pack exported","profile":"alice","entries":3}
//
// # Testing
//
// NewTestLogger records entries in memory through zaptest/observer and
// offers assertion helpers.
package logging
