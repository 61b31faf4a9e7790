package ports

import (
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// NormalizeVoiceTarget validates a phone number and returns it in E.164 form.
// defaultRegion is the ISO 3166-1 alpha-2 country used for numbers written
// without a country code.
func NormalizeVoiceTarget(raw, defaultRegion string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("voice target is empty")
	}
	if defaultRegion == "" {
		defaultRegion = "US"
	}
	num, err := phonenumbers.Parse(raw, strings.ToUpper(defaultRegion))
	if err != nil {
		return "", fmt.Errorf("parse voice target %q: %w", raw, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("voice target %q is not a valid phone number", raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
