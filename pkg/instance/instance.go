package instance

import (
	"os"

	"github.com/angelmondragon/vcledger/pkg/env"
)

const defaultID = "worker-0"

// GetID identifies this process in lock owners and logs. VCLEDGER_WORKER_ID
// wins, then the hostname.
func GetID() string {
	fallback := defaultID
	if host, err := os.Hostname(); err == nil && host != "" {
		fallback = host
	}
	return env.Get("VCLEDGER_WORKER_ID", fallback)
}
