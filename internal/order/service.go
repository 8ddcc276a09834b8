package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/frahmantamala/giftcard-fulfillment/internal"
	catalogDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/catalog"
	orderDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/order"
	gatewayDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/giftcard-fulfillment/internal/core/events"
	"github.com/frahmantamala/giftcard-fulfillment/internal/metrics"
	"github.com/frahmantamala/giftcard-fulfillment/internal/quota"
	"github.com/frahmantamala/giftcard-fulfillment/internal/vault"
	vendor "github.com/frahmantamala/giftcard-fulfillment/internal/vendorapi"
)

type Options struct {
	DistributorID             string
	Currency                  string
	FloorAmount               int64
	MaxQuantity               int
	MockOnInsufficientBalance bool
	ProcessingLease           time.Duration
	VendorTimeout             time.Duration
	IdentifierPepper          string
}

type Dependencies struct {
	Repo        RepositoryAPI
	Brands      BrandReader
	Gateway     PaymentGateway
	Quota       QuotaService
	Policies    *quota.Engine
	Credentials CredentialProvider
	Vendor      VoucherIssuer
	Vault       Sealer
	Events      EventPublisher
}

type Service struct {
	repo        RepositoryAPI
	brands      BrandReader
	gateway     PaymentGateway
	quota       QuotaService
	policies    *quota.Engine
	credentials CredentialProvider
	vendor      VoucherIssuer
	vault       Sealer
	events      EventPublisher
	opts        Options
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(deps Dependencies, opts Options, logger *slog.Logger) *Service {
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	if opts.MaxQuantity <= 0 {
		opts.MaxQuantity = 10
	}
	if opts.ProcessingLease <= 0 {
		opts.ProcessingLease = 2 * time.Minute
	}
	if opts.VendorTimeout <= 0 {
		opts.VendorTimeout = 30 * time.Second
	}
	return &Service{
		repo:        deps.Repo,
		brands:      deps.Brands,
		gateway:     deps.Gateway,
		quota:       deps.Quota,
		policies:    deps.Policies,
		credentials: deps.Credentials,
		vendor:      deps.Vendor,
		vault:       deps.Vault,
		events:      deps.Events,
		opts:        opts,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateOrder prices the purchase, stores it as PENDING_PAYMENT and opens a
// checkout order at the payment gateway.
func (s *Service) CreateOrder(ctx context.Context, user *internal.User, dto CreateOrderDTO) (*CreateOrderResponse, error) {
	if err := dto.Validate(s.opts.MaxQuantity); err != nil {
		return nil, err
	}

	brand, err := s.brands.GetBrand(ctx, dto.BrandCode)
	if err != nil {
		if errors.Is(err, internal.ErrBrandNotFound) {
			return nil, internal.ErrBrandNotFound
		}
		return nil, fmt.Errorf("load brand %s: %w", dto.BrandCode, err)
	}
	if err := checkDenomination(brand, dto.Denomination); err != nil {
		return nil, err
	}

	now := s.now()
	policyKey := s.policies.Classify(brand.Name, brand.Code)
	policy := s.policies.PolicyFor(policyKey)
	total := dto.Denomination * int64(dto.Quantity)
	price := ComputePayable(total, policy.EffectiveDiscountBps(brand.EffectiveDiscountBps()), s.opts.FloorAmount)
	vendorCost := ComputePayable(total, brand.VendorDiscountBps, 0).Payable

	contact := resolveContact(dto.Contact, &orderDatamodel.Order{}, user)
	userID := user.ID
	o := &orderDatamodel.Order{
		ID:                 uuid.NewString(),
		UserID:             &userID,
		BrandCode:          brand.Code,
		BrandName:          brand.Name,
		UnitAmount:         dto.Denomination,
		Quantity:           dto.Quantity,
		TotalAmount:        price.Total,
		DiscountPercentBps: price.DiscountBps,
		DiscountAmount:     price.Discount,
		PayableAmount:      price.Payable,
		VendorCostAmount:   vendorCost,
		BuyerName:          contact.Name,
		BuyerEmail:         contact.Email,
		BuyerPhone:         contact.Phone,
		AddressLine:        contact.AddressLine,
		City:               contact.City,
		State:              contact.State,
		Pincode:            contact.Pincode,
		PolicyKey:          string(policyKey),
		MonthKey:           s.policies.MonthKey(now),
		UserHash:           quota.HashIdentifier(s.opts.IdentifierPepper, strconv.FormatInt(user.ID, 10)),
		EmailHash:          hashOptional(s.opts.IdentifierPepper, contact.Email),
		PhoneHash:          hashOptional(s.opts.IdentifierPepper, contact.Phone),
		Status:             orderDatamodel.StatusPendingPayment,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.quota.Check(ctx, s.reservation(o)); err != nil {
		return nil, quotaError(err)
	}

	if err := s.repo.Create(ctx, o); err != nil {
		s.logger.Error("failed to create order", "error", err, "user_id", user.ID)
		return nil, fmt.Errorf("create order: %w", err)
	}

	gwOrder, err := s.gateway.CreateOrder(ctx, gatewayDatamodel.OrderRequest{
		Amount:   o.PayableAmount,
		Currency: s.opts.Currency,
		Receipt:  o.ID,
		Notes:    map[string]string{"brand_code": o.BrandCode, "policy": o.PolicyKey},
	})
	if err != nil {
		s.logger.Error("payment gateway order failed", "error", err, "order_id", o.ID)
		return nil, internal.NewExternalError("could not start payment", internal.ErrCodeGatewayFailed, err)
	}
	if err := s.repo.SetGatewayOrder(ctx, o.ID, gwOrder.ID); err != nil {
		return nil, fmt.Errorf("store gateway order: %w", err)
	}

	metrics.OrdersCreated.WithLabelValues(o.PolicyKey).Inc()
	s.logger.Info("order created",
		"order_id", o.ID,
		"user_id", user.ID,
		"brand_code", o.BrandCode,
		"total", o.TotalAmount,
		"payable", o.PayableAmount,
		"policy", o.PolicyKey)

	return &CreateOrderResponse{
		OrderID:        o.ID,
		GatewayOrderID: gwOrder.ID,
		GatewayKeyID:   s.gateway.KeyID(),
		Currency:       s.opts.Currency,
		Total:          price.Total,
		DiscountBps:    price.DiscountBps,
		Discount:       price.Discount,
		Payable:        price.Payable,
		Policy:         o.PolicyKey,
		UPIOnly:        policy.UPIOnly,
	}, nil
}

// Verify confirms the payment and drives voucher issuance. Calling it again
// for a fulfilled order returns the stored result without side effects.
func (s *Service) Verify(ctx context.Context, user *internal.User, dto VerifyDTO) (*VerifyResult, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	o, err := s.owned(ctx, user, dto.OrderID)
	if err != nil {
		return nil, err
	}
	if o.IsFulfilled() {
		return s.storedResult(o), nil
	}

	if dto.GatewayOrderID != "" && dto.GatewayOrderID != o.GatewayOrder() {
		s.logger.Warn("gateway order mismatch", "order_id", o.ID)
		return nil, internal.ErrSignatureMismatch
	}
	if o.GatewayOrder() == "" || !s.gateway.VerifySignature(o.GatewayOrder(), dto.PaymentID, dto.Signature) {
		s.logger.Warn("payment signature rejected", "order_id", o.ID, "user_id", user.ID)
		return nil, internal.ErrSignatureMismatch
	}

	contact := resolveContact(dto.Contact, o, user)
	if missing := contact.missing(); len(missing) > 0 {
		return nil, missingContactError(missing)
	}

	now := s.now()
	claimed, err := s.repo.ClaimProcessing(ctx, o.ID, now, now.Add(s.opts.ProcessingLease))
	if err != nil {
		return nil, fmt.Errorf("claim order: %w", err)
	}
	if !claimed {
		if current, err := s.repo.GetByID(ctx, o.ID); err == nil && current.IsFulfilled() {
			return s.storedResult(current), nil
		}
		return nil, internal.ErrVerificationInProgress
	}
	defer func() {
		if err := s.repo.ReleaseProcessing(context.WithoutCancel(ctx), o.ID); err != nil {
			s.logger.Error("failed to release order lease", "error", err, "order_id", o.ID)
		}
	}()

	if err := s.repo.SavePayment(ctx, o.ID, dto.PaymentID, dto.Signature, contact); err != nil {
		return nil, fmt.Errorf("save payment: %w", err)
	}
	if !o.HasVendorIdentifiers() {
		if _, err := s.repo.AssignVendorIdentifiers(ctx, o.ID, newVendorIdentifiers()); err != nil {
			return nil, fmt.Errorf("assign vendor identifiers: %w", err)
		}
	}
	// Re-read so a concurrent writer's identifiers win over ours.
	if o, err = s.repo.GetByID(ctx, o.ID); err != nil {
		return nil, fmt.Errorf("reload order: %w", err)
	}

	if err := s.quota.Reserve(ctx, s.reservation(o)); err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			if ferr := s.repo.SetFailureReason(ctx, o.ID, err.Error()); ferr != nil {
				s.logger.Error("failed to record quota failure", "error", ferr, "order_id", o.ID)
			}
			return nil, quotaError(err)
		}
		return nil, err
	}

	return s.fulfil(ctx, o, contact)
}

func (s *Service) fulfil(ctx context.Context, o *orderDatamodel.Order, contact Contact) (*VerifyResult, error) {
	token, err := s.credentials.Get(ctx, false)
	if err != nil {
		s.logger.Error("vendor credential unavailable", "error", err, "order_id", o.ID)
		return s.fail(ctx, o, nil, "vendor credential unavailable", false, true)
	}

	req := s.issueRequest(o, contact)
	resp, err := s.issue(ctx, token, o.ID, req)
	if err == nil && resp.Outcome == vendor.OutcomeCredentialExpired {
		s.logger.Info("vendor credential expired, refreshing once", "order_id", o.ID)
		token, err = s.credentials.Get(ctx, true)
		if err != nil {
			s.logger.Error("vendor credential refresh failed", "error", err, "order_id", o.ID)
			return s.fail(ctx, o, resp, "vendor credential refresh failed", false, true)
		}
		resp, err = s.issue(ctx, token, o.ID, req)
	}
	if err != nil {
		// The vendor may have acted on a request we never saw answered.
		s.logger.Error("vendor issue call failed", "error", err, "order_id", o.ID)
		return s.fail(ctx, o, nil, "vendor unreachable: "+err.Error(), true, false)
	}

	switch resp.Outcome {
	case vendor.OutcomeApproved:
		cards := extractVouchers(resp.Payload)
		if len(cards) == 0 {
			return s.fail(ctx, o, resp, "vendor approved without vouchers: "+resp.Summary(), true, false)
		}
		return s.succeed(ctx, o, orderDatamodel.StatusSuccess, cards, resp, contact)
	case vendor.OutcomeInsufficientBalance:
		if s.opts.MockOnInsufficientBalance {
			s.logger.Warn("vendor balance insufficient, issuing test voucher", "order_id", o.ID)
			mock := mockVouchers(orderView{quantity: o.Quantity, unitAmount: o.UnitAmount, brandName: o.BrandName}, s.now())
			return s.succeed(ctx, o, orderDatamodel.StatusSuccessTest, mock, resp, contact)
		}
		return s.fail(ctx, o, resp, resp.Summary(), false, true)
	case vendor.OutcomeRejected, vendor.OutcomeCredentialExpired:
		return s.fail(ctx, o, resp, resp.Summary(), false, true)
	default:
		return s.fail(ctx, o, resp, "unrecognised vendor response: "+resp.Summary(), true, false)
	}
}

func (s *Service) issue(ctx context.Context, token, orderID string, req vendor.IssueRequest) (*vendor.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.VendorTimeout)
	defer cancel()
	return s.vendor.IssueVoucher(callCtx, token, orderID, req)
}

func (s *Service) succeed(ctx context.Context, o *orderDatamodel.Order, status orderDatamodel.Status, cards []map[string]any, resp *vendor.Response, contact Contact) (*VerifyResult, error) {
	masked := vault.Mask(cards)
	preview, err := json.Marshal(masked)
	if err != nil {
		return nil, fmt.Errorf("encode voucher preview: %w", err)
	}

	now := s.now()
	out := Outcome{
		Status:         status,
		VoucherPreview: preview,
		VendorResponse: maskedResponse(resp),
		FulfilledAt:    &now,
	}
	sealed, err := s.vault.Seal(cards)
	if err != nil {
		// Issued vouchers must not be dropped; keep the order and flag it.
		s.logger.Error("failed to seal vouchers", "error", err, "order_id", o.ID)
		out.NeedsReview = true
		out.FailureReason = "voucher sealing failed"
	} else {
		out.VoucherSealed = &sealed
	}

	if _, err := s.mark(ctx, o, out); err != nil {
		return nil, err
	}

	if err := s.events.Publish(ctx, events.NewOrderFulfilledEvent(o.ID, string(status), contact.Email, contact.Name, o.BrandName, o.PayableAmount, masked)); err != nil {
		s.logger.Error("failed to publish fulfilment event", "error", err, "order_id", o.ID)
	}

	message := "vouchers issued"
	if status == orderDatamodel.StatusSuccessTest {
		message = mockVoucherLabel
	}
	s.logger.Info("order fulfilled", "order_id", o.ID, "status", status, "vouchers", len(masked))
	return &VerifyResult{
		Success:     true,
		Status:      string(status),
		Message:     message,
		OrderID:     o.ID,
		NeedsReview: out.NeedsReview,
		Vouchers:    masked,
	}, nil
}

// fail marks the order VD_FAILED. Quota is released only when the vendor
// definitely did not issue anything.
func (s *Service) fail(ctx context.Context, o *orderDatamodel.Order, resp *vendor.Response, reason string, needsReview, release bool) (*VerifyResult, error) {
	out := Outcome{
		Status:         orderDatamodel.StatusVendorFailed,
		FailureReason:  reason,
		NeedsReview:    needsReview,
		VendorResponse: maskedResponse(resp),
	}
	if _, err := s.mark(ctx, o, out); err != nil {
		return nil, err
	}

	if release {
		if err := s.quota.Release(ctx, o.ID); err != nil {
			s.logger.Error("failed to release quota", "error", err, "order_id", o.ID)
		}
	}
	if err := s.events.Publish(ctx, events.NewOrderFailedEvent(o.ID, reason, needsReview)); err != nil {
		s.logger.Error("failed to publish failure event", "error", err, "order_id", o.ID)
	}

	s.logger.Warn("order fulfilment failed", "order_id", o.ID, "reason", reason, "needs_review", needsReview)
	return &VerifyResult{
		Success:     false,
		Status:      string(orderDatamodel.StatusVendorFailed),
		Message:     reason,
		OrderID:     o.ID,
		NeedsReview: needsReview,
	}, nil
}

func (s *Service) mark(ctx context.Context, o *orderDatamodel.Order, out Outcome) (bool, error) {
	// The terminal write must land even if the caller has gone away.
	updated, err := s.repo.MarkOutcome(context.WithoutCancel(ctx), o.ID, out)
	if err != nil {
		s.logger.Error("failed to record order outcome", "error", err, "order_id", o.ID, "status", out.Status)
		return false, fmt.Errorf("record outcome: %w", err)
	}
	if !updated {
		s.logger.Warn("order outcome already recorded", "order_id", o.ID)
	}
	metrics.VerifyOutcomes.WithLabelValues(string(out.Status)).Inc()
	return updated, nil
}

func (s *Service) ListOrders(ctx context.Context, user *internal.User, limit, offset int) ([]OrderSummary, error) {
	orders, err := s.repo.ListByOwner(ctx, user.ID, user.Email, limit, offset)
	if err != nil {
		s.logger.Error("failed to list orders", "error", err, "user_id", user.ID)
		return nil, err
	}
	out := make([]OrderSummary, 0, len(orders))
	for _, o := range orders {
		out = append(out, summarize(o))
	}
	return out, nil
}

// GetOrder returns the order with its vouchers opened for the owner.
func (s *Service) GetOrder(ctx context.Context, user *internal.User, id string) (*OrderDetail, error) {
	o, err := s.owned(ctx, user, id)
	if err != nil {
		return nil, err
	}

	detail := &OrderDetail{
		OrderSummary:  summarize(o),
		FailureReason: o.FailureReason,
		FulfilledAt:   o.FulfilledAt,
	}
	if o.IsFulfilled() && o.VoucherSealed != nil {
		var cards []map[string]any
		if s.vault.Open(*o.VoucherSealed, &cards) {
			detail.Cards = cards
		} else {
			s.logger.Error("stored vouchers could not be opened", "order_id", o.ID)
		}
	}
	return detail, nil
}

func (s *Service) owned(ctx context.Context, user *internal.User, id string) (*orderDatamodel.Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, internal.ErrOrderNotFound) {
			return nil, internal.ErrOrderNotFound
		}
		return nil, fmt.Errorf("load order: %w", err)
	}
	if !o.OwnedBy(user.ID, user.Email) {
		s.logger.Warn("unauthorized access to order", "order_id", id, "user_id", user.ID)
		return nil, internal.ErrUnauthorizedAccess
	}
	return o, nil
}

func (s *Service) storedResult(o *orderDatamodel.Order) *VerifyResult {
	return &VerifyResult{
		Success:     true,
		Status:      string(o.Status),
		Message:     "order already fulfilled",
		OrderID:     o.ID,
		NeedsReview: o.NeedsReview,
		Vouchers:    preview(o),
	}
}

func (s *Service) reservation(o *orderDatamodel.Order) quota.Reservation {
	key := quota.PolicyKey(o.PolicyKey)
	return quota.Reservation{
		OrderID:   o.ID,
		UserKey:   o.UserHash,
		PolicyKey: key,
		MonthKey:  o.MonthKey,
		Spend:     o.TotalAmount,
		Discount:  o.DiscountAmount,
		Policy:    s.policies.PolicyFor(key),
	}
}

func (s *Service) issueRequest(o *orderDatamodel.Order, c Contact) vendor.IssueRequest {
	first, last := c.splitName()
	return vendor.IssueRequest{
		OrderID:       o.VendorOrderID,
		RefNo:         o.VendorRefNo,
		ReceiptNo:     o.VendorReceiptNo,
		DistributorID: s.opts.DistributorID,
		BrandCode:     o.BrandCode,
		Denomination:  FormatMinor(o.UnitAmount),
		Quantity:      o.Quantity,
		Amount:        FormatMinor(o.TotalAmount),
		Currency:      s.opts.Currency,
		FirstName:     first,
		LastName:      last,
		Email:         c.Email,
		Phone:         c.Phone,
		AddressLine:   c.AddressLine,
		City:          c.City,
		State:         c.State,
		Country:       "IN",
		PostCode:      c.Pincode,
	}
}

func checkDenomination(b *catalogDatamodel.Brand, amount int64) error {
	if !b.Enabled {
		return internal.NewValidationFieldError("brand_code", "brand is not available", internal.ErrCodeInvalidBrand)
	}
	switch b.BrandType {
	case catalogDatamodel.BrandTypeRange:
		if amount < b.MinAmount || (b.MaxAmount > 0 && amount > b.MaxAmount) {
			return internal.NewValidationFieldError("denomination",
				fmt.Sprintf("amount must be between %s and %s", FormatMinor(b.MinAmount), FormatMinor(b.MaxAmount)),
				internal.ErrCodeInvalidAmount)
		}
	default:
		if len(b.Denominations) > 0 && !slices.Contains([]int64(b.Denominations), amount) {
			return internal.NewValidationFieldError("denomination", "denomination is not offered for this brand", internal.ErrCodeInvalidAmount)
		}
	}
	return nil
}

func quotaError(err error) error {
	var exceeded *quota.ExceededError
	if errors.As(err, &exceeded) {
		code := internal.ErrCodeMonthlySpendCap
		message := "monthly purchase limit reached for this brand"
		if exceeded.Dimension == quota.DimensionDiscount {
			code = internal.ErrCodeMonthlyDiscountCap
			message = "monthly discount limit reached for this brand"
		}
		return internal.NewQuotaExceededError(message, code).WithDetails(map[string]any{
			"policy":    exceeded.Policy,
			"used":      exceeded.Used,
			"requested": exceeded.Requested,
			"cap":       exceeded.Cap,
		})
	}
	if errors.Is(err, quota.ErrQuotaExceeded) {
		return internal.NewQuotaExceededError("monthly limit reached for this brand", internal.ErrCodeMonthlySpendCap)
	}
	return err
}

func missingContactError(fields []string) error {
	errs := make([]internal.ValidationError, 0, len(fields))
	for _, f := range fields {
		errs = append(errs, internal.ValidationError{
			Field:   "contact." + f,
			Message: f + " is required for voucher delivery",
			Code:    string(internal.ErrCodeMissingContact),
		})
	}
	return internal.NewValidationError("buyer contact details are incomplete", internal.ErrCodeMissingContact).
		WithDetails(internal.ValidationErrors{Errors: errs})
}

func summarize(o *orderDatamodel.Order) OrderSummary {
	return OrderSummary{
		ID:          o.ID,
		BrandCode:   o.BrandCode,
		BrandName:   o.BrandName,
		UnitAmount:  o.UnitAmount,
		Quantity:    o.Quantity,
		Total:       o.TotalAmount,
		Discount:    o.DiscountAmount,
		Payable:     o.PayableAmount,
		Status:      string(o.Status),
		NeedsReview: o.NeedsReview,
		Vouchers:    preview(o),
		CreatedAt:   o.CreatedAt,
	}
}

func preview(o *orderDatamodel.Order) []vault.MaskedCard {
	if len(o.VoucherPreview) == 0 {
		return nil
	}
	var cards []vault.MaskedCard
	if err := json.Unmarshal(o.VoucherPreview, &cards); err != nil {
		return nil
	}
	return cards
}

// maskedResponse keeps the vendor reply for triage as it arrived: an encrypted
// data member stays encrypted, and any plaintext voucher field is reduced to
// its last four characters.
func maskedResponse(resp *vendor.Response) json.RawMessage {
	raw := resp.RawJSON()
	if raw == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	b, err := json.Marshal(vault.MaskFields(v, "token", "secret", "password"))
	if err != nil {
		return nil
	}
	return b
}

func hashOptional(pepper, value string) string {
	if value == "" {
		return ""
	}
	return quota.HashIdentifier(pepper, value)
}
