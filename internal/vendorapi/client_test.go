package vendor_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	vendor "github.com/frahmantamala/giftcard-fulfillment/internal/vendorapi"
)

type recordingAudit struct {
	mu      sync.Mutex
	records []vendor.CallRecord
}

func (a *recordingAudit) LogCall(_ context.Context, rec vendor.CallRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
}

func (a *recordingAudit) all() []vendor.CallRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]vendor.CallRecord(nil), a.records...)
}

var _ = Describe("Client", func() {
	var (
		codec      *vendor.Codec
		classifier *vendor.Classifier
		audit      *recordingAudit
		server     *httptest.Server
		client     *vendor.Client
		lastBody   []byte
		lastHeader http.Header
		logger     *slog.Logger
	)

	encrypt := func(v any) string {
		b, err := json.Marshal(v)
		Expect(err).NotTo(HaveOccurred())
		s, err := codec.Encrypt(string(b))
		Expect(err).NotTo(HaveOccurred())
		return s
	}

	BeforeEach(func() {
		var err error
		codec, err = vendor.NewCodec(testKey, testIV, vendor.StrategyRaw)
		Expect(err).NotTo(HaveOccurred())
		classifier, err = vendor.NewClassifier(nil)
		Expect(err).NotTo(HaveOccurred())
		audit = &recordingAudit{}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

		mux := http.NewServeMux()
		mux.HandleFunc("/api/v1/token", func(w http.ResponseWriter, r *http.Request) {
			lastHeader = r.Header.Clone()
			lastBody, _ = io.ReadAll(r.Body)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code":   0,
				"status": "SUCCESS",
				"data":   encrypt(map[string]any{"token": "tok-abcdefghijklmnop", "expiresIn": 3600}),
			})
		})
		mux.HandleFunc("/api/v1/orders", func(w http.ResponseWriter, r *http.Request) {
			lastHeader = r.Header.Clone()
			lastBody, _ = io.ReadAll(r.Body)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code":    0,
				"message": "Order processed",
				"data":    encrypt(map[string]any{"cards": []any{map[string]any{"cardNumber": "1234567890123456", "pin": "112233"}}}),
			})
		})
		mux.HandleFunc("/api/v1/brands", func(w http.ResponseWriter, r *http.Request) {
			lastHeader = r.Header.Clone()
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Token expired"}`))
		})
		mux.HandleFunc("/api/v1/stores", func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		})
		server = httptest.NewServer(mux)

		client = vendor.NewClient(vendor.Config{
			BaseURL:       server.URL,
			ClientID:      "client-id",
			ClientSecret:  "client-secret-value",
			DistributorID: "DIST-1",
			TokenPath:     "/api/v1/token",
			BrandsPath:    "/api/v1/brands",
			StoresPath:    "/api/v1/stores",
			OrderPath:     "/api/v1/orders",
			Timeout:       50 * time.Millisecond,
		}, codec, classifier, audit, logger)
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("IssueToken", func() {
		It("sends client credentials and decrypts the returned data", func() {
			// When
			resp, err := client.IssueToken(context.Background())

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(lastHeader.Get("X-Client-Id")).To(Equal("client-id"))
			Expect(lastHeader.Get("X-Client-Secret")).To(Equal("client-secret-value"))
			Expect(string(lastBody)).To(ContainSubstring(`"distributorId":"DIST-1"`))

			Expect(resp.Outcome).To(Equal(vendor.OutcomeApproved))
			Expect(resp.Payload.Decrypted).To(BeTrue())
			Expect(resp.Payload.Value).To(HaveKeyWithValue("token", "tok-abcdefghijklmnop"))
		})

		It("audits the call without leaking secrets", func() {
			_, err := client.IssueToken(context.Background())
			Expect(err).NotTo(HaveOccurred())

			records := audit.all()
			Expect(records).To(HaveLen(1))
			Expect(records[0].Endpoint).To(Equal(vendor.EndpointToken))
			Expect(records[0].RequestHeaders["X-Client-Secret"]).NotTo(Equal("client-secret-value"))
			Expect(records[0].DecryptedJSON).To(HaveKeyWithValue("token", "****mnop"))
		})
	})

	Describe("IssueVoucher", func() {
		It("encrypts the request and classifies the reply", func() {
			// Given
			req := vendor.IssueRequest{OrderID: "VO-1", RefNo: "REF-1", ReceiptNo: "RC-1", Quantity: 1, Amount: "500.00"}

			// When
			resp, err := client.IssueVoucher(context.Background(), "tok-1", "order-1", req)

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(lastHeader.Get("Authorization")).To(Equal("Bearer tok-1"))

			var body map[string]string
			Expect(json.Unmarshal(lastBody, &body)).To(Succeed())
			plain, ok := codec.Decrypt(body["payload"])
			Expect(ok).To(BeTrue())
			Expect(plain).To(ContainSubstring(`"orderId":"VO-1"`))
			Expect(plain).To(ContainSubstring(`"distributorId":"DIST-1"`))

			Expect(resp.Outcome).To(Equal(vendor.OutcomeApproved))
			Expect(resp.Payload.Value).To(HaveKey("cards"))

			records := audit.all()
			Expect(records).To(HaveLen(1))
			Expect(records[0].OrderID).To(Equal("order-1"))
			encoded, _ := json.Marshal(records[0].DecryptedJSON)
			Expect(string(encoded)).NotTo(ContainSubstring("1234567890123456"))
		})
	})

	Describe("GetBrands", func() {
		It("classifies a 401 as an expired credential", func() {
			resp, err := client.GetBrands(context.Background(), "stale")

			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Outcome).To(Equal(vendor.OutcomeCredentialExpired))
			Expect(lastHeader.Get("X-Distributor-Id")).To(Equal("DIST-1"))
		})
	})

	Describe("transport failures", func() {
		It("wraps timeouts as transport errors and audits them", func() {
			_, err := client.GetStores(context.Background(), "tok", "AMZ")

			Expect(errors.Is(err, vendor.ErrTransport)).To(BeTrue())
			records := audit.all()
			Expect(records).To(HaveLen(1))
			Expect(records[0].Error).NotTo(BeEmpty())
		})
	})
})
