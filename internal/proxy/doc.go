// Package proxy implements the request-path orchestrator of the
// gateway. Each inbound request is resolved to a service through the
// router, admitted through the service's circuit breaker, and executed
// under a retry policy that picks a fresh healthy instance for every
// attempt. The upstream response is streamed back verbatim; failures
// surface as one of four distinguishable outcomes: service unknown,
// service unavailable (circuit open or no healthy instance), upstream
// error, and gateway timeout.
package proxy
