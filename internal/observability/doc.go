// Package observability builds the zap loggers used by the helpdesk
// binaries.
//
// The API server logs JSON in production and console output in
// development; command line tools log to stderr so their report on
// stdout stays machine readable.
package observability
