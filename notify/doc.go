// Package notify delivers run-completion notifications.
//
// The stage worker calls a Notifier after the terminal write when the run
// carries a callback. Webhook posts the Completion as JSON, retrying
// transient failures behind a circuit breaker; Noop discards it. Failures
// are reported to the caller, which logs them and carries on.
package notify
