// Package protocol defines the league.v2 wire contract: the message
// envelope and its validation rules, the closed message-kind and
// error-code tables, typed payloads for every kind, and the JSON-RPC 2.0
// framing used for HTTP transport between agents.
package protocol
