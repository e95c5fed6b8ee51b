// Package resilience holds the failure-isolation primitives of the pipeline's
// outer edges: Retry with exponential backoff and a Breaker for outbound
// completion webhooks, and a Bulkhead bounding submissions in flight.
//
// The bus publish path deliberately uses none of them: a dispatch is one
// attempt with a bounded wait.
package resilience
