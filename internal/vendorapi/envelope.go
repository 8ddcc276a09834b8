package vendor

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Envelope is the common wrapper of every vendor response. The vendor is
// not consistent about field names so each field is read from a few aliases.
type Envelope struct {
	Code    *int64          `json:"code,omitempty"`
	Status  string          `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Payload is the decoded `data` member of an envelope.
type Payload struct {
	// Raw is the data value as sent: the ciphertext for encrypted payloads.
	Raw string
	// Text is the decrypted plaintext when Decrypted is true.
	Text      string
	Decrypted bool
	// Value holds the parsed JSON of Text, or the data object when the
	// vendor sent it unencrypted.
	Value any
}

var (
	codeKeys    = []string{"code", "responseCode", "statusCode", "resCode"}
	statusKeys  = []string{"status", "responseStatus", "result"}
	messageKeys = []string{"message", "msg", "responseMessage", "error", "errorMessage"}
	dataKeys    = []string{"data", "payload", "response", "details"}
)

// ParseEnvelope reads body leniently. Bodies that are not JSON objects yield
// an empty envelope.
func ParseEnvelope(body []byte) Envelope {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Envelope{}
	}

	var env Envelope
	if raw, ok := pick(fields, codeKeys); ok {
		env.Code = parseCode(raw)
	}
	if raw, ok := pick(fields, statusKeys); ok {
		env.Status = parseStatus(raw)
	}
	if raw, ok := pick(fields, messageKeys); ok {
		env.Message = rawString(raw)
	}
	if raw, ok := pick(fields, dataKeys); ok {
		env.Data = raw
	}
	return env
}

// DecodeData decrypts a string data member with the codec and parses the
// plaintext as JSON when possible. Object or array members pass through.
func DecodeData(codec *Codec, raw json.RawMessage) Payload {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Payload{}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var v any
		if json.Unmarshal(raw, &v) == nil {
			return Payload{Raw: string(raw), Value: v}
		}
		return Payload{Raw: string(raw)}
	}

	p := Payload{Raw: s}
	if codec == nil {
		return p
	}
	text, ok := codec.Decrypt(s)
	if !ok {
		return p
	}
	p.Text, p.Decrypted = text, true

	var v any
	if json.Unmarshal([]byte(strings.TrimSpace(text)), &v) == nil {
		p.Value = v
	}
	return p
}

func pick(fields map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, key := range keys {
		if raw, ok := fields[key]; ok {
			return raw, true
		}
	}
	for _, key := range keys {
		for k, raw := range fields {
			if strings.EqualFold(k, key) {
				return raw, true
			}
		}
	}
	return nil, false
}

func parseCode(raw json.RawMessage) *int64 {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			return &v
		}
	}
	if s := rawString(raw); s != "" {
		if v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return &v
		}
	}
	return nil
}

func parseStatus(raw json.RawMessage) string {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return "success"
		}
		return "failed"
	}
	return rawString(raw)
}

func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var v any
	if err := json.Unmarshal(raw, &v); err == nil && v != nil {
		switch t := v.(type) {
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case map[string]any, []any:
			return ""
		}
	}
	return ""
}
