package paymentgateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	paymentgatewaytypes "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/paymentgateway"
)

var ErrGateway = errors.New("payment gateway request failed")

type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
}

func NewClient(config Config, logger *slog.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		keyID:      config.KeyID,
		keySecret:  config.KeySecret,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		tracer:     otel.Tracer("giftcard/paymentgateway"),
	}
}

// KeyID is the public key the checkout widget is opened with.
func (c *Client) KeyID() string {
	return c.keyID
}

// CreateOrder opens a checkout order. The returned ID is what the browser
// pays against and what the callback signature is computed over.
func (c *Client) CreateOrder(ctx context.Context, req paymentgatewaytypes.OrderRequest) (*paymentgatewaytypes.Order, error) {
	if err := req.Validate(); err != nil {
		c.logger.Error("gateway order validation failed", "error", err)
		return nil, fmt.Errorf("validation error: %w", err)
	}

	ctx, span := c.tracer.Start(ctx, "paymentgateway.create_order", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", req.Receipt),
		attribute.Int64("payment.amount", req.Amount),
	)

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gateway order: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.keyID, c.keySecret)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrGateway, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var apiErr paymentgatewaytypes.ErrorResponse
		_ = json.Unmarshal(body, &apiErr)
		span.SetStatus(codes.Error, apiErr.Error.Code)
		c.logger.Warn("gateway rejected order",
			"receipt", req.Receipt,
			"status_code", resp.StatusCode,
			"code", apiErr.Error.Code,
			"description", apiErr.Error.Description)
		return nil, fmt.Errorf("%w: status %d %s", ErrGateway, resp.StatusCode, apiErr.Error.Description)
	}

	var order paymentgatewaytypes.Order
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrGateway, err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("%w: response carried no order id", ErrGateway)
	}

	c.logger.Info("gateway order created",
		"receipt", req.Receipt,
		"gateway_order_id", order.ID,
		"amount", order.Amount)
	return &order, nil
}

// VerifySignature checks the checkout callback: HMAC-SHA256 over
// "<order_id>|<payment_id>" keyed with the secret, hex encoded.
func (c *Client) VerifySignature(gatewayOrderID, paymentID, signature string) bool {
	if gatewayOrderID == "" || paymentID == "" || signature == "" {
		return false
	}
	expected := Sign(c.keySecret, gatewayOrderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// Sign produces the callback signature for an order and payment pair.
func Sign(secret, gatewayOrderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gatewayOrderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
