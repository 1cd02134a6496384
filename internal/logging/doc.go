// Package logging builds the process logger on top of zap.
//
// Entries flow through a sampler, then a redaction core, then a tee of the
// stdout encoder and, when telemetry is enabled, the OpenTelemetry log
// bridge. Error and above are never sampled. Library packages take a plain
// *zap.Logger; the CLI owns a Logger and hands them Underlying.
//
//	cfg, err := logging.FromConfig(appCfg.Logging, tel.LoggerProvider() != nil)
//	if err != nil {
//	    return err
//	}
//	logger, err := logging.NewLogger(cfg, tel.LoggerProvider())
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, "run_20251124")
//	logger.Info(ctx, "repository gathered", zap.Int("items", n))
//
// Fields named like credentials render as [REDACTED]. String and error
// values matching a bearer, API key or GitHub token pattern render as
// [REDACTED:pattern] under any key.
package logging
