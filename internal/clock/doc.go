// Package clock abstracts time for the audit chain.
//
// Production code injects Real(); tests inject a Fake with explicit
// control over the current time and ticker delivery. Append timestamps
// and the periodic chain monitor both read time through this package.
package clock
