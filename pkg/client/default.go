package client

import (
	"os"
	"sync"

	"github.com/Sternrassler/tracker-client/pkg/netstatus"
)

// DefaultUserAgent is sent by the process-wide client.
const DefaultUserAgent = "tracker-client/1.0"

var (
	defaultMu     sync.Mutex
	defaultClient *Client
)

// Default returns the process-wide client, creating it on first use. It
// has no base URL, uses DefaultRetryPolicy and reports to
// netstatus.Default(). The User-Agent can be set with TRACKER_USER_AGENT.
//
// Libraries should accept a *Client instead of calling Default.
func Default() *Client {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultClient == nil {
		cfg := DefaultConfig("", DefaultUserAgent)
		if ua := os.Getenv("TRACKER_USER_AGENT"); ua != "" {
			cfg.UserAgent = ua
		}
		cfg.Tracker = netstatus.Default()

		c, err := New(cfg)
		if err != nil {
			// Unreachable with the static config above.
			panic(err)
		}
		defaultClient = c
	}
	return defaultClient
}

// ResetDefault drops the process-wide client so the next Default call
// builds a fresh one. Intended for tests.
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultClient = nil
}
