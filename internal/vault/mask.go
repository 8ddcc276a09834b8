package vault

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// MaskedCard is the preview of one voucher that may be listed, mailed or logged.
type MaskedCard struct {
	Label     string `json:"label"`
	CodeLast4 string `json:"code_last4"`
	PinLast4  string `json:"pin_last4,omitempty"`
	Expiry    string `json:"expiry,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Mock      bool   `json:"mock,omitempty"`
}

var sensitiveFragments = []string{"code", "number", "pin", "card", "voucher", "serial", "claim"}

// Keys naming a brand, product or status carry one of the sensitive fragments
// without holding a secret.
var descriptiveFragments = []string{"brand", "product", "sku", "status", "currency", "country", "response", "expir", "valid", "amount", "name", "label", "type"}

// codeKeys are tried in order before any other sensitive key when picking the
// code a preview reveals.
var codeKeys = []string{
	"cardNumber", "cardNo", "giftCardNumber", "voucherCode", "voucherNo", "voucherNumber",
	"claimCode", "code", "serialNumber", "serialNo",
}

var listKeys = []string{"cards", "vouchers", "voucherDetails", "voucher_details", "giftCards", "gift_cards", "items"}

var (
	labelKeys  = []string{"label", "productName", "brandName", "brand", "name"}
	expiryKeys = []string{"expiry", "expiryDate", "expiry_date", "validity", "validTill", "expiresAt", "expires_at"}
	amountKeys = []string{"amount", "denomination", "value", "faceValue"}
)

// Cards flattens the supported voucher payload shapes into a list of card
// objects: a list of objects, an object wrapping one of the list keys, or a
// single card object.
func Cards(payload any) []map[string]any {
	switch v := payload.(type) {
	case nil:
		return nil
	case []map[string]any:
		return v
	case []any:
		var out []map[string]any
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]any:
		for _, key := range listKeys {
			if inner, ok := lookup(v, key); ok {
				return Cards(inner)
			}
		}
		if inner, ok := lookup(v, "data"); ok {
			return Cards(inner)
		}
		if len(v) == 0 || !hasSensitiveKey(v) {
			return nil
		}
		return []map[string]any{v}
	}
	return nil
}

// Mask renders the previews of every card in payload.
func Mask(payload any) []MaskedCard {
	cards := Cards(payload)
	out := make([]MaskedCard, 0, len(cards))
	for i, card := range cards {
		out = append(out, maskCard(card, i))
	}
	return out
}

func maskCard(card map[string]any, idx int) MaskedCard {
	mc := MaskedCard{
		Label:  firstString(card, labelKeys),
		Expiry: firstString(card, expiryKeys),
		Amount: firstString(card, amountKeys),
	}
	if mc.Label == "" {
		mc.Label = fmt.Sprintf("Gift card %d", idx+1)
	}
	if mock, ok := card["mock"].(bool); ok {
		mc.Mock = mock
	}

	mc.CodeLast4 = Last4(firstString(card, codeKeys))
	for _, key := range sortedKeys(card) {
		lk := strings.ToLower(key)
		s, ok := stringValue(card[key])
		if !ok || s == "" || !isSensitive(lk) {
			continue
		}
		switch {
		case strings.Contains(lk, "pin"):
			if mc.PinLast4 == "" {
				mc.PinLast4 = Last4(s)
			}
		case mc.CodeLast4 == "":
			mc.CodeLast4 = Last4(s)
		}
	}
	return mc
}

// MaskFields returns a copy of v where every string under a sensitive key
// keeps only its last four characters. Extra fragments extend the default
// set; keys describing a brand, product or status are left alone.
func MaskFields(v any, extra ...string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if isSensitive(strings.ToLower(k), extra...) {
				if s, ok := stringValue(val); ok {
					out[k] = "****" + Last4(s)
					continue
				}
			}
			out[k] = MaskFields(val, extra...)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = MaskFields(item, extra...)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = MaskFields(item, extra...)
		}
		return out
	}
	return v
}

// Last4 returns the trailing four characters of s, or nothing when s is too
// short for a partial reveal to hide anything.
func Last4(s string) string {
	n := utf8.RuneCountInString(s)
	if n <= 4 {
		return ""
	}
	r := []rune(s)
	return string(r[n-4:])
}

func isSensitive(lowerKey string, extra ...string) bool {
	for _, frag := range descriptiveFragments {
		if strings.Contains(lowerKey, frag) {
			return false
		}
	}
	for _, frag := range sensitiveFragments {
		if strings.Contains(lowerKey, frag) {
			return true
		}
	}
	for _, frag := range extra {
		if strings.Contains(lowerKey, frag) {
			return true
		}
	}
	return false
}

func hasSensitiveKey(m map[string]any) bool {
	for k := range m {
		if isSensitive(strings.ToLower(k)) {
			return true
		}
	}
	return false
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
			if s, ok := stringValue(v); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func stringValue(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return fmt.Sprintf("%.0f", t), true
	case int, int64:
		return fmt.Sprintf("%d", t), true
	}
	return "", false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
