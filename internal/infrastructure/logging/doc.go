// Package logging provides structured logging for the machine allocator.
//
// It wraps log/slog so every component logs with the same handler,
// level and default fields (service, version).
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("machine allocated", "machine_id", id, "job_id", job)
//
// Never log bearer tokens or the JWT secret.
package logging
