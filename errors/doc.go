// Package errors provides the structured error type used across imgflow.
// Every failure crossing a package boundary is an AppError carrying a
// machine-readable code, an HTTP status mapping and a retryable flag, so the
// pipeline taxonomy (unknown stage, malformed message, transform failure,
// store outage, publish timeout) can be branched on without string matching.
package errors
