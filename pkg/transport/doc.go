// Package transport provides the outbound HTTP stack: a pooled base
// transport and a RetryingTransport that retries connect failures, read
// failures and selected status codes with exponential backoff.
//
// Retry n (0-based) waits BackoffFactor * 2^n seconds. Connect and read
// failures are retried only for methods in the policy's allow-list; status
// retries apply to every method unless StatusRetryAnyMethod is false.
package transport
