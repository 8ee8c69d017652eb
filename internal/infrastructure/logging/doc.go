// Package logging provides structured logging for exhibit-core.
//
// It wraps log/slog with JSON or text output, level filtering and the
// default fields service and version. Library packages never import it;
// they accept a small Logger interface that *logging.Logger satisfies.
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr or a file path
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	manager.SetLogger(logger.Component("link"))
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
