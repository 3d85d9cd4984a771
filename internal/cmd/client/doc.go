// Package client provides the `quill` command-line client.
//
// The CLI talks to the quill HTTP API to perform common queue, message,
// and claim operations from a terminal. It is primarily intended for
// developers and operators.
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. When using the standalone binary, it
// defaults to http://127.0.0.1:8888. The tenant project is read from the
// QUILL_PROJECT environment variable (default "default"), and the
// client id used for echo suppression from QUILL_CLIENT_ID (default a
// fresh UUID per process).
//
// Usage
//
//	quill queue create orders
//	quill queue stats orders
//
//	quill message post -q orders --body '{"order":17}' --ttl 300
//	quill message list -q orders --limit 10
//	quill message pop -q orders --count 2
//
//	quill claim create -q orders --ttl 120 --grace 60 --limit 5
//	quill claim renew -q orders CLAIM_ID --ttl 120
//	quill message delete -q orders MSG_ID --claim-id CLAIM_ID
//	quill claim release -q orders CLAIM_ID
package client
