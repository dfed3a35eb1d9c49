// Package instance names the running process in logs.
package instance

import (
	"os"
	"strings"
)

const EnvInstanceID = "TISHOP_INSTANCE_ID"

// ID returns TISHOP_INSTANCE_ID, falling back to the host name and then "local".
func ID() string {
	if id := strings.TrimSpace(os.Getenv(EnvInstanceID)); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
