// Package httpclient is the outbound HTTP client used to deliver completion
// callbacks. Requests go through an optional circuit breaker and are retried
// with backoff when the failure is retryable.
//
//	client, err := httpclient.New(httpclient.Config{
//	    Timeout:        10 * time.Second,
//	    Retry:          httpclient.DefaultRetryConfig(),
//	    CircuitBreaker: httpclient.DefaultCircuitBreakerConfig("webhook"),
//	})
//	resp, err := client.PostJSON(ctx, callbackURL, payload)
package httpclient
