// Package logging provides structured, context-aware logging for rerankd.
//
// The package wraps Zap with:
//   - A custom Trace level below Debug for wire-level detail
//   - Context correlation fields (trace/span IDs, request ID, pipeline,
//     connector and model identifiers)
//   - Redaction of credential material in field names and values
//   - Optional dual output to stdout and an OpenTelemetry log provider
//   - Level-aware sampling that never drops errors
//
// Basic usage:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	logger.Info(ctx, "model deployed",
//	    zap.String("model.id", modelID),
//	    zap.String("connector.id", connectorID),
//	)
//
// Correlation fields travel through context:
//
//	ctx = logging.WithRequestID(ctx, requestID)
//	ctx = logging.WithPipeline(ctx, "rerank-pipeline")
//	logger.Debug(ctx, "scoring documents") // includes request.id, pipeline
//
// Credentials must never reach the logs in clear text. Use logging.Secret
// for config.Secret values and rely on the redacting encoder for everything
// else.
package logging
