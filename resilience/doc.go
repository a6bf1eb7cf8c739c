// Package resilience provides the outbound call layer: a JSON-RPC HTTP
// caller with exponential-backoff retries and a per-destination circuit
// breaker registry.
package resilience
