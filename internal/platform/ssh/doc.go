// Package ssh is the remote executor: it runs batch scripts on managed hosts
// over SSH and reports a structured result. It is the only component that
// touches the network for cluster operations; the cluster adapter and the
// provisioning phases are built on top of it.
//
// Connections are multiplexed: a Client lazily dials one SSH connection and
// reuses it across calls, re-dialing once if the cached connection has gone
// stale. This is a performance optimization only; every call is also safe
// over a fresh connection.
//
// Host keys use trust-on-first-use: the first key presented by a host is
// pinned for the process lifetime and later mismatches fail the dial.
package ssh
