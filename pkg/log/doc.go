// Package log provides structured logging for Cascade using zerolog.
//
// A single global Logger is configured once via Init and then tagged per
// call site with WithComponent or WithField, which return child loggers
// carrying the extra field rather than mutating global state.
package log
