package phone

import (
	"strings"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used for numbers written without a country prefix.
const DefaultRegion = "JP"

// Normalize parses raw and returns it in E.164 form.
func Normalize(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", auth.ErrInvalidPhoneFormat.Clone().WithMetadata(map[string]any{
			"reason": "empty",
		})
	}
	if region == "" {
		region = DefaultRegion
	}

	num, err := phonenumbers.Parse(raw, strings.ToUpper(region))
	if err != nil {
		return "", auth.WrapError(auth.ErrInvalidPhoneFormat, err, map[string]any{"region": region})
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", auth.ErrInvalidPhoneFormat.Clone().WithMetadata(map[string]any{
			"region": region,
			"reason": "not a valid number",
		})
	}

	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// Mask hides all but the last four digits, for logs.
func Mask(e164 string) string {
	if len(e164) <= 4 {
		return strings.Repeat("*", len(e164))
	}
	return strings.Repeat("*", len(e164)-4) + e164[len(e164)-4:]
}
