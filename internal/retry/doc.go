// Package retry provides retry functionality with exponential backoff
// and pluggable retry conditions.
//
// The retrier deliberately knows nothing about circuit breakers: it is
// composed inside a breaker-guarded operation so a single client request
// may retry several times within one breaker permit, and every failed
// attempt still counts toward the breaker's failure tally.
package retry
