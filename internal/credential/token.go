package credential

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
	"unicode"

	vendor "github.com/frahmantamala/giftcard-fulfillment/internal/vendorapi"
)

var (
	tokenKeys     = []string{"token", "accessToken", "access_token", "authToken", "auth_token", "bearerToken"}
	expiryKeys    = []string{"expiresAt", "expires_at", "expiry", "expiryDate", "expiry_date", "validTill", "tokenExpiry"}
	expiresInKeys = []string{"expiresIn", "expires_in", "ttl"}
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02-01-2006 15:04:05",
	"2006-01-02",
}

// extractToken reads the credential and its expiry from a token response.
// A data member that could not be decrypted is taken as the plain token only
// when the response was approved.
func extractToken(resp *vendor.Response, now time.Time, defaultTTL time.Duration) (string, time.Time) {
	var token string
	var expires time.Time

	switch v := resp.Payload.Value.(type) {
	case map[string]any:
		token = firstString(v, tokenKeys)
		expires = expiryFrom(v, now)
	case string:
		token = v
	}

	if token == "" && resp.Payload.Decrypted && resp.Payload.Value == nil {
		token = resp.Payload.Text
	}
	if token == "" && resp.Outcome == vendor.OutcomeApproved && !resp.Payload.Decrypted && resp.Payload.Raw != "" && resp.Payload.Value == nil {
		token = resp.Payload.Raw
	}
	if token == "" {
		// Some environments put the token beside the envelope fields.
		var top map[string]any
		if json.Unmarshal(resp.Raw, &top) == nil {
			token = firstString(top, tokenKeys)
			if expires.IsZero() {
				expires = expiryFrom(top, now)
			}
		}
	}

	token = normalizeToken(token)
	if expires.IsZero() || !expires.After(now) {
		expires = now.Add(defaultTTL)
	}
	return token, expires
}

// normalizeToken strips control characters, wrapping quotes and brackets,
// and a leading Bearer scheme.
func normalizeToken(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	for {
		before := s
		s = strings.TrimSpace(s)
		s = strings.Trim(s, `"'{}[]`)
		if len(s) >= 7 && strings.EqualFold(s[:7], "bearer ") {
			s = s[7:]
		}
		if s == before {
			return s
		}
	}
}

func expiryFrom(m map[string]any, now time.Time) time.Time {
	for _, key := range expiryKeys {
		v, ok := lookup(m, key)
		if !ok {
			continue
		}
		if t, ok := parseTime(v); ok {
			return t
		}
	}
	for _, key := range expiresInKeys {
		v, ok := lookup(m, key)
		if !ok {
			continue
		}
		if secs, ok := number(v); ok && secs > 0 {
			return now.Add(time.Duration(secs) * time.Second)
		}
	}
	return time.Time{}
}

func parseTime(v any) (time.Time, bool) {
	if n, ok := number(v); ok && n > 0 {
		// Values above ~2286 in seconds are taken as milliseconds.
		if n > 10_000_000_000 {
			return time.UnixMilli(n), true
		}
		return time.Unix(n, 0), true
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func number(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func lookup(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func firstString(m map[string]any, keys []string) string {
	for _, key := range keys {
		if v, ok := lookup(m, key); ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}
