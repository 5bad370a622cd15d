package instance

import (
	"os"
	"strings"
)

// GetID returns the worker replica identifier used in logs, falling back to <service>-0.
func GetID(service string) string {
	if id := strings.TrimSpace(os.Getenv("REFILL_WORKER_ID")); id != "" {
		return id
	}
	if id, err := os.Hostname(); err == nil && id != "" {
		return id
	}
	return service + "-0"
}
