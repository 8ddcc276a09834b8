package paymentgateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	paymentgatewaytypes "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/giftcard-fulfillment/internal/paymentgateway"
)

var _ = Describe("Client", func() {
	var (
		server   *httptest.Server
		client   *paymentgateway.Client
		received paymentgatewaytypes.OrderRequest
		handler  http.HandlerFunc
		logger   *slog.Logger
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		received = paymentgatewaytypes.OrderRequest{}
		handler = func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != "rzp_key" || pass != "rzp_secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			Expect(r.URL.Path).To(Equal("/v1/orders"))
			Expect(json.NewDecoder(r.Body).Decode(&received)).To(Succeed())
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(paymentgatewaytypes.Order{
				ID:       "order_gw1",
				Entity:   "order",
				Amount:   received.Amount,
				Currency: received.Currency,
				Receipt:  received.Receipt,
				Status:   paymentgatewaytypes.OrderStatusCreated,
			})
		}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { handler(w, r) }))
		client = paymentgateway.NewClient(paymentgateway.Config{BaseURL: server.URL + "/", KeyID: "rzp_key", KeySecret: "rzp_secret"}, logger)
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("CreateOrder", func() {
		It("creates an order with basic auth and returns the gateway id", func() {
			// Given
			req := paymentgatewaytypes.OrderRequest{Amount: 905000, Currency: "INR", Receipt: "ord-1", Notes: map[string]string{"brand": "AMAZON"}}

			// When
			order, err := client.CreateOrder(context.Background(), req)

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(order.ID).To(Equal("order_gw1"))
			Expect(order.Amount).To(BeEquivalentTo(905000))
			Expect(received.Receipt).To(Equal("ord-1"))
			Expect(received.Notes).To(HaveKeyWithValue("brand", "AMAZON"))
		})

		It("surfaces gateway errors", func() {
			// Given
			handler = func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"amount too small"}}`))
			}

			// When
			_, err := client.CreateOrder(context.Background(), paymentgatewaytypes.OrderRequest{Amount: 1, Currency: "INR", Receipt: "ord-2"})

			// Then
			Expect(errors.Is(err, paymentgateway.ErrGateway)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("amount too small"))
		})

		It("rejects invalid requests before calling out", func() {
			// When
			_, err := client.CreateOrder(context.Background(), paymentgatewaytypes.OrderRequest{Currency: "INR", Receipt: "ord-3"})

			// Then
			Expect(err).To(HaveOccurred())
			Expect(received.Receipt).To(BeEmpty())
		})
	})

	Describe("VerifySignature", func() {
		It("accepts the HMAC of order and payment ids", func() {
			// Given
			sig := paymentgateway.Sign("rzp_secret", "order_gw1", "pay_1")

			// Then
			Expect(client.VerifySignature("order_gw1", "pay_1", sig)).To(BeTrue())
		})

		DescribeTable("rejects anything else",
			func(orderID, paymentID, sig string) {
				Expect(client.VerifySignature(orderID, paymentID, sig)).To(BeFalse())
			},
			Entry("wrong payment", "order_gw1", "pay_2", paymentgateway.Sign("rzp_secret", "order_gw1", "pay_1")),
			Entry("wrong secret", "order_gw1", "pay_1", paymentgateway.Sign("other", "order_gw1", "pay_1")),
			Entry("empty signature", "order_gw1", "pay_1", ""),
			Entry("empty order", "", "pay_1", paymentgateway.Sign("rzp_secret", "", "pay_1")),
		)
	})

	It("exposes the public key id", func() {
		Expect(client.KeyID()).To(Equal("rzp_key"))
	})
})
