// Package client is a Go client for the reconnect admin API, used by the
// CLI's queue and scan commands.
package client
