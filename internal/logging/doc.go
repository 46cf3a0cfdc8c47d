// Package logging configures structured slog output for setupsync.
//
// The console format renders compact single-line records suited to
// interactive use; the json format is intended for log files. Component
// loggers carry a standardized "component" attribute that the console
// handler hoists into the message prefix.
package logging
