// Package logger provides structured logging capabilities.
//
// The logger package sets up and configures the application's logging
// system using zap. Every line carries the service name; sandbox runs add
// run_id and isolate_id fields.
//
// Usage:
//
//	logger, err := logger.New("production", "info")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	logger.Info("Application started")
//	logger.Error("An error occurred", zap.Error(err))
package logger
