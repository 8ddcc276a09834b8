package vendor

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrTransport covers timeouts, connection failures and unreadable bodies.
	// The vendor may or may not have acted on the request.
	ErrTransport = errors.New("vendor: transport failure")
	// ErrCredentialExpired is returned by callers that retried once with a
	// fresh credential and were still refused.
	ErrCredentialExpired = errors.New("vendor: credential expired")
)

const (
	EndpointToken  = "token"
	EndpointBrands = "brands"
	EndpointStores = "stores"
	EndpointOrder  = "order"
)

// IssueRequest is the voucher purchase request. It is JSON-encoded and then
// encrypted with the codec before it leaves the process.
type IssueRequest struct {
	OrderID       string `json:"orderId"`
	RefNo         string `json:"refNo"`
	ReceiptNo     string `json:"receiptNo"`
	DistributorID string `json:"distributorId"`
	BrandCode     string `json:"brandCode"`
	Denomination  string `json:"denomination"`
	Quantity      int    `json:"quantity"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Email         string `json:"email"`
	Phone         string `json:"mobile"`
	AddressLine   string `json:"addressLine1,omitempty"`
	City          string `json:"city,omitempty"`
	State         string `json:"state,omitempty"`
	Country       string `json:"country"`
	PostCode      string `json:"postCode,omitempty"`
}

type encryptedBody struct {
	Payload string `json:"payload"`
}

// Response is a fully read vendor reply.
type Response struct {
	Endpoint   string
	HTTPStatus int
	Raw        []byte
	Envelope   Envelope
	Payload    Payload
	Outcome    Outcome
	Duration   time.Duration
}

// RawJSON returns the raw body when it is valid JSON, or a JSON string of it.
func (r *Response) RawJSON() json.RawMessage {
	if r == nil || len(r.Raw) == 0 {
		return nil
	}
	if json.Valid(r.Raw) {
		return json.RawMessage(r.Raw)
	}
	b, _ := json.Marshal(string(r.Raw))
	return b
}

// Summary is a short operator-facing description that never includes the
// decrypted payload.
func (r *Response) Summary() string {
	if r == nil {
		return ""
	}
	if r.Envelope.Message != "" {
		return r.Envelope.Message
	}
	if r.Envelope.Status != "" {
		return r.Envelope.Status
	}
	return string(r.Outcome)
}

// CallRecord is the audit entry written for every vendor call.
type CallRecord struct {
	Endpoint       string
	OrderID        string
	RequestHeaders map[string]string
	RequestBody    string
	StatusCode     int
	RawResponse    string
	DecryptedText  string
	DecryptedJSON  any
	Outcome        Outcome
	Error          string
	Duration       time.Duration
}
