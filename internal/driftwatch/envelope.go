package driftwatch

import (
	"fmt"
	"strings"

	"github.com/projectrefill/refill-backend/pkg/outbox"
)

// DecodeMessage decodes the published envelope. Attributes are optional, but
// when present they must agree with the body so a filtered subscription never
// hands the tracker a message it was not meant to see.
func DecodeMessage(data []byte, attrs map[string]string) (outbox.Envelope, error) {
	env, err := outbox.DecodeEnvelope(data)
	if err != nil {
		return outbox.Envelope{}, err
	}
	for key, want := range env.Attributes() {
		if key == "occurred_at" {
			continue
		}
		if got := strings.TrimSpace(attrs[key]); got != "" && got != want {
			return outbox.Envelope{}, fmt.Errorf("attribute %s=%q disagrees with envelope %q", key, got, want)
		}
	}
	return env, nil
}
