package order_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/frahmantamala/giftcard-fulfillment/internal"
	catalogDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/catalog"
	orderDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/order"
	gatewayDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/giftcard-fulfillment/internal/core/events"
	"github.com/frahmantamala/giftcard-fulfillment/internal/order"
	"github.com/frahmantamala/giftcard-fulfillment/internal/quota"
	vendor "github.com/frahmantamala/giftcard-fulfillment/internal/vendorapi"
)

type memoryOrders struct {
	mu     sync.Mutex
	orders map[string]*orderDatamodel.Order
}

func newMemoryOrders() *memoryOrders {
	return &memoryOrders{orders: map[string]*orderDatamodel.Order{}}
}

func (m *memoryOrders) get(id string) *orderDatamodel.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *m.orders[id]
	return &c
}

func (m *memoryOrders) Create(_ context.Context, o *orderDatamodel.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *o
	m.orders[o.ID] = &c
	return nil
}

func (m *memoryOrders) GetByID(_ context.Context, id string) (*orderDatamodel.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, internal.ErrOrderNotFound
	}
	c := *o
	return &c, nil
}

func (m *memoryOrders) ListByOwner(_ context.Context, userID int64, _ string, _, _ int) ([]*orderDatamodel.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*orderDatamodel.Order
	for _, o := range m.orders {
		if o.UserID != nil && *o.UserID == userID {
			c := *o
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memoryOrders) SetGatewayOrder(_ context.Context, id, gatewayOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[id].GatewayOrderID = &gatewayOrderID
	return nil
}

func (m *memoryOrders) SavePayment(_ context.Context, id, paymentID, signature string, c order.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[id]
	o.GatewayPaymentID, o.GatewaySignature = paymentID, signature
	o.BuyerName, o.BuyerEmail, o.BuyerPhone = c.Name, c.Email, c.Phone
	return nil
}

func (m *memoryOrders) AssignVendorIdentifiers(_ context.Context, id string, ids order.VendorIdentifiers) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[id]
	if o.VendorOrderID != "" {
		return false, nil
	}
	o.VendorOrderID, o.VendorRefNo, o.VendorReceiptNo = ids.OrderID, ids.RefNo, ids.ReceiptNo
	return true, nil
}

func (m *memoryOrders) ClaimProcessing(_ context.Context, id string, now, until time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[id]
	if !o.CanAttemptFulfilment() || (o.ProcessingUntil != nil && o.ProcessingUntil.After(now)) {
		return false, nil
	}
	o.ProcessingUntil = &until
	return true, nil
}

func (m *memoryOrders) ReleaseProcessing(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[id].ProcessingUntil = nil
	return nil
}

func (m *memoryOrders) MarkOutcome(_ context.Context, id string, out order.Outcome) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[id]
	if !o.CanAttemptFulfilment() {
		return false, nil
	}
	o.Status = out.Status
	o.FailureReason = out.FailureReason
	o.NeedsReview = out.NeedsReview
	o.VoucherSealed = out.VoucherSealed
	o.VoucherPreview = []byte(out.VoucherPreview)
	o.VendorResponse = []byte(out.VendorResponse)
	o.FulfilledAt = out.FulfilledAt
	return true, nil
}

func (m *memoryOrders) SetFailureReason(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[id].FailureReason = reason
	return nil
}

func (m *memoryOrders) RecordNotification(_ context.Context, id string, n order.NotificationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[id]
	o.NotificationSent, o.NotificationTo, o.NotificationMessageID, o.NotificationError = n.Sent, n.To, n.MessageID, n.Error
	return nil
}

type staticBrands map[string]*catalogDatamodel.Brand

func (b staticBrands) GetBrand(_ context.Context, code string) (*catalogDatamodel.Brand, error) {
	if brand, ok := b[code]; ok {
		return brand, nil
	}
	return nil, internal.ErrBrandNotFound
}

type fakeGateway struct {
	fail bool
}

func (g *fakeGateway) CreateOrder(_ context.Context, req gatewayDatamodel.OrderRequest) (*gatewayDatamodel.Order, error) {
	if g.fail {
		return nil, errors.New("gateway down")
	}
	return &gatewayDatamodel.Order{ID: "gw_" + req.Receipt, Amount: req.Amount, Currency: req.Currency, Receipt: req.Receipt}, nil
}

func (g *fakeGateway) VerifySignature(gatewayOrderID, paymentID, signature string) bool {
	return signature == goodSignature(gatewayOrderID, paymentID)
}

func (g *fakeGateway) KeyID() string { return "rzp_test_key" }

func goodSignature(gatewayOrderID, paymentID string) string {
	return "sig:" + gatewayOrderID + "|" + paymentID
}

// memoryUsage enforces the caps the way the SQL upsert does, under a lock.
type memoryUsage struct {
	mu      sync.Mutex
	buckets map[string]quota.Usage
	counted map[string]quota.Reservation
}

func newMemoryUsage() *memoryUsage {
	return &memoryUsage{buckets: map[string]quota.Usage{}, counted: map[string]quota.Reservation{}}
}

func bucketKey(user string, policy quota.PolicyKey, month string) string {
	return user + "/" + string(policy) + "/" + month
}

func (m *memoryUsage) Reserve(_ context.Context, r quota.Reservation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.counted[r.OrderID]; ok {
		return false, nil
	}
	key := bucketKey(r.UserKey, r.PolicyKey, r.MonthKey)
	u := m.buckets[key]
	if r.Policy.MonthlySpendCap > 0 && u.Spend+r.Spend > r.Policy.MonthlySpendCap {
		return false, quota.ErrQuotaExceeded
	}
	if r.Policy.MonthlyDiscountCap > 0 && u.Discount+r.Discount > r.Policy.MonthlyDiscountCap {
		return false, quota.ErrQuotaExceeded
	}
	u.Spend += r.Spend
	u.Discount += r.Discount
	u.Orders++
	m.buckets[key] = u
	m.counted[r.OrderID] = r
	return true, nil
}

func (m *memoryUsage) Release(_ context.Context, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.counted[orderID]
	if !ok {
		return false, nil
	}
	key := bucketKey(r.UserKey, r.PolicyKey, r.MonthKey)
	u := m.buckets[key]
	u.Spend -= r.Spend
	u.Discount -= r.Discount
	u.Orders--
	m.buckets[key] = u
	delete(m.counted, orderID)
	return true, nil
}

func (m *memoryUsage) Usage(_ context.Context, user string, policy quota.PolicyKey, month string) (quota.Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buckets[bucketKey(user, policy, month)], nil
}

type fakeCredentials struct {
	calls  []bool
	tokens []string
	err    error
}

func (c *fakeCredentials) Get(_ context.Context, force bool) (string, error) {
	c.calls = append(c.calls, force)
	if c.err != nil {
		return "", c.err
	}
	if len(c.tokens) == 0 {
		return "token-1", nil
	}
	t := c.tokens[0]
	if len(c.tokens) > 1 {
		c.tokens = c.tokens[1:]
	}
	return t, nil
}

type issueCall struct {
	token   string
	orderID string
	req     vendor.IssueRequest
}

type scriptedVendor struct {
	mu        sync.Mutex
	responses []*vendor.Response
	err       error
	calls     []issueCall
}

func (v *scriptedVendor) IssueVoucher(_ context.Context, token, orderID string, req vendor.IssueRequest) (*vendor.Response, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, issueCall{token: token, orderID: orderID, req: req})
	if v.err != nil {
		return nil, v.err
	}
	resp := v.responses[0]
	if len(v.responses) > 1 {
		v.responses = v.responses[1:]
	}
	return resp, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

func approvedResponse() *vendor.Response {
	zero := int64(0)
	return &vendor.Response{
		Endpoint:   vendor.EndpointOrder,
		HTTPStatus: 200,
		Raw:        []byte(`{"code":0,"status":"SUCCESS","message":"Order processed","data":"ciphertext"}`),
		Envelope:   vendor.Envelope{Code: &zero, Status: "success", Message: "Order processed"},
		Payload: vendor.Payload{
			Raw:       "ciphertext",
			Decrypted: true,
			Value: map[string]any{
				"cards": []any{
					map[string]any{"cardNumber": "1234567890123456", "pin": "987654", "expiry": "2027-10-31", "amount": "100.00"},
				},
			},
		},
		Outcome: vendor.OutcomeApproved,
	}
}

func outcomeResponse(outcome vendor.Outcome, message string) *vendor.Response {
	return &vendor.Response{
		Endpoint:   vendor.EndpointOrder,
		HTTPStatus: 200,
		Raw:        []byte(`{"code":1,"status":"FAILED","message":"` + message + `"}`),
		Envelope:   vendor.Envelope{Status: "failed", Message: message},
		Outcome:    outcome,
	}
}
