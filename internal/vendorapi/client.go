package vendor

import (
	"bytes"
	"context"
	"encoding/json"
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

	"github.com/frahmantamala/giftcard-fulfillment/internal/metrics"
	"github.com/frahmantamala/giftcard-fulfillment/internal/vault"
	"github.com/frahmantamala/giftcard-fulfillment/pkg/logger"
)

const maxBodyBytes = 4 << 20

type Config struct {
	BaseURL       string
	ClientID      string
	ClientSecret  string
	DistributorID string
	TokenPath     string
	BrandsPath    string
	StoresPath    string
	OrderPath     string
	Timeout       time.Duration
}

// CallLogger persists the audit trail of vendor calls.
type CallLogger interface {
	LogCall(ctx context.Context, rec CallRecord)
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	codec      *Codec
	classifier *Classifier
	audit      CallLogger
	logger     *slog.Logger
	tracer     trace.Tracer
}

func NewClient(cfg Config, codec *Codec, classifier *Classifier, audit CallLogger, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 50,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		codec:      codec,
		classifier: classifier,
		audit:      audit,
		logger:     logger,
		tracer:     otel.Tracer("giftcard/vendor"),
	}
}

func (c *Client) Codec() *Codec {
	return c.codec
}

// IssueToken requests a fresh API credential.
func (c *Client) IssueToken(ctx context.Context) (*Response, error) {
	body, err := json.Marshal(map[string]string{"distributorId": c.cfg.DistributorID})
	if err != nil {
		return nil, fmt.Errorf("encode token request: %w", err)
	}
	headers := map[string]string{
		"X-Client-Id":     c.cfg.ClientID,
		"X-Client-Secret": c.cfg.ClientSecret,
	}
	return c.do(ctx, EndpointToken, http.MethodPost, c.cfg.TokenPath, headers, body, "")
}

func (c *Client) GetBrands(ctx context.Context, token string) (*Response, error) {
	body, err := json.Marshal(map[string]string{"distributorId": c.cfg.DistributorID})
	if err != nil {
		return nil, fmt.Errorf("encode brands request: %w", err)
	}
	return c.do(ctx, EndpointBrands, http.MethodPost, c.cfg.BrandsPath, c.authHeaders(token), body, "")
}

// GetStores lists redemption stores. An empty brandCode lists all of them.
func (c *Client) GetStores(ctx context.Context, token, brandCode string) (*Response, error) {
	req := map[string]string{"distributorId": c.cfg.DistributorID}
	if brandCode != "" {
		req["brandCode"] = brandCode
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode stores request: %w", err)
	}
	return c.do(ctx, EndpointStores, http.MethodPost, c.cfg.StoresPath, c.authHeaders(token), body, "")
}

// IssueVoucher submits an encrypted purchase request for orderID.
func (c *Client) IssueVoucher(ctx context.Context, token, orderID string, req IssueRequest) (*Response, error) {
	if req.DistributorID == "" {
		req.DistributorID = c.cfg.DistributorID
	}
	plain, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode issue request: %w", err)
	}
	enc, err := c.codec.Encrypt(string(plain))
	if err != nil {
		return nil, fmt.Errorf("encrypt issue request: %w", err)
	}
	body, err := json.Marshal(encryptedBody{Payload: enc})
	if err != nil {
		return nil, fmt.Errorf("encode issue body: %w", err)
	}
	return c.do(ctx, EndpointOrder, http.MethodPost, c.cfg.OrderPath, c.authHeaders(token), body, orderID)
}

func (c *Client) authHeaders(token string) map[string]string {
	return map[string]string{
		"Authorization":    "Bearer " + token,
		"X-Distributor-Id": c.cfg.DistributorID,
	}
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, headers map[string]string, body []byte, orderID string) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "vendor."+endpoint, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	target := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")

	rec := CallRecord{
		Endpoint:       endpoint,
		OrderID:        orderID,
		RequestHeaders: redactHeaders(headers),
		RequestBody:    string(body),
	}
	started := time.Now()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build vendor request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", target),
		attribute.String("vendor.endpoint", endpoint),
	)
	if orderID != "" {
		span.SetAttributes(attribute.String("order.id", orderID))
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.fail(ctx, span, rec, started, fmt.Errorf("%w: %v", ErrTransport, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		rec.StatusCode = resp.StatusCode
		return nil, c.fail(ctx, span, rec, started, fmt.Errorf("%w: read body: %v", ErrTransport, err))
	}

	out := &Response{
		Endpoint:   endpoint,
		HTTPStatus: resp.StatusCode,
		Raw:        raw,
		Envelope:   ParseEnvelope(raw),
		Duration:   time.Since(started),
	}
	out.Payload = DecodeData(c.codec, out.Envelope.Data)
	out.Outcome = c.classifier.Classify(resp.StatusCode, out.Envelope)

	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.String("vendor.outcome", string(out.Outcome)),
	)
	if out.Outcome != OutcomeApproved {
		span.SetStatus(codes.Error, string(out.Outcome))
	}

	rec.StatusCode = resp.StatusCode
	rec.RawResponse = string(raw)
	rec.Outcome = out.Outcome
	rec.Duration = out.Duration
	rec.DecryptedText, rec.DecryptedJSON = auditPayload(out.Payload)
	c.record(ctx, rec)

	metrics.ObserveVendorCall(endpoint, string(out.Outcome), out.Duration)
	logger.From(ctx).Debug("vendor call completed",
		"endpoint", endpoint,
		"order_id", orderID,
		"status_code", resp.StatusCode,
		"outcome", out.Outcome,
		"decrypted", out.Payload.Decrypted,
		"duration_ms", out.Duration.Milliseconds(),
	)
	return out, nil
}

func (c *Client) fail(ctx context.Context, span trace.Span, rec CallRecord, started time.Time, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	rec.Error = err.Error()
	rec.Duration = time.Since(started)
	c.record(ctx, rec)

	metrics.ObserveVendorCall(rec.Endpoint, "transport_error", rec.Duration)
	c.logger.Warn("vendor call failed", "endpoint", rec.Endpoint, "order_id", rec.OrderID, "error", err)
	return err
}

func (c *Client) record(ctx context.Context, rec CallRecord) {
	if c.audit == nil {
		return
	}
	c.audit.LogCall(context.WithoutCancel(ctx), rec)
}

var secretHeaders = []string{"authorization", "secret", "token", "password"}

func redactHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		lk := strings.ToLower(k)
		out[k] = v
		for _, frag := range secretHeaders {
			if strings.Contains(lk, frag) {
				out[k] = logger.Redact(strings.TrimPrefix(v, "Bearer "))
				break
			}
		}
	}
	return out
}

// auditPayload keeps decrypted content out of the audit trail except in
// masked form.
func auditPayload(p Payload) (string, any) {
	if p.Value != nil {
		return "", vault.MaskFields(p.Value, "token", "secret", "password")
	}
	if p.Decrypted {
		return logger.Redact(p.Text), nil
	}
	return "", nil
}
