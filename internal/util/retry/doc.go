// Package retry provides exponential backoff retry logic for transient failures.
//
// The [WithExponentialBackoff] function retries an operation with configurable
// max attempts, initial delay, and maximum delay. It is used for SSH dial
// attempts against freshly booted hosts and for DNS provider API calls that
// may fail transiently.
package retry
