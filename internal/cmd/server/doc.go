// Package serverrun wires the runtime, the HTTP transport, and the garbage
// collector into a single blocking Run call used by the quill binary.
package serverrun
