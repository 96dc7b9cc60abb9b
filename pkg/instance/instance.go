package instance

import (
	"os"

	"github.com/angelmondragon/stockledger/pkg/env"
)

// GetID identifies this process in logs. STOCKLEDGER_INSTANCE_ID wins, then
// the host name, then a fixed fallback.
func GetID() string {
	if id, ok := env.Lookup("INSTANCE_ID"); ok {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "instance-0"
}
