package rest_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/giftcard-fulfillment/internal/admin"
	"github.com/frahmantamala/giftcard-fulfillment/internal/auth"
	"github.com/frahmantamala/giftcard-fulfillment/internal/catalog"
	"github.com/frahmantamala/giftcard-fulfillment/internal/order"
	"github.com/frahmantamala/giftcard-fulfillment/internal/transport/rest"
)

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

var _ = Describe("Router", func() {
	var (
		gdb    *gorm.DB
		db     *sqlx.DB
		router *chi.Mux
		lg     *slog.Logger
	)

	BeforeEach(func() {
		var err error
		gdb, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
		Expect(err).NotTo(HaveOccurred())
		sqlDB, err := gdb.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.SetMaxOpenConns(1)
		db = sqlx.NewDb(sqlDB, "sqlite3")
		lg = slog.New(slog.NewTextHandler(io.Discard, nil))

		router = chi.NewRouter()
		rest.RegisterAllRoutes(router, db, rest.Handlers{
			Auth:    auth.NewHandler(nil),
			Catalog: catalog.NewHandler(nil),
			Order:   order.NewHandler(nil),
			Admin:   admin.NewHandler(admin.Dependencies{}, "operator-key-0123456789", time.UTC),
		}, rest.RouterOptions{
			MetricsEnabled: true,
			OpenAPIPath:    "../../../api/openapi.yml",
			Optional:       map[string]rest.Pinger{"redis": failingPinger{}},
		}, lg)
	})

	AfterEach(func() {
		sqlDB, _ := gdb.DB()
		_ = sqlDB.Close()
	})

	It("documents every API route in the OpenAPI file", func() {
		// Given
		loader := openapi3.NewLoader()
		doc, err := loader.LoadFromFile("../../../api/openapi.yml")
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.Validate(context.Background())).To(Succeed())

		// When
		var missing []string
		err = chi.Walk(router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
			if !strings.HasPrefix(route, "/api/v1/") {
				return nil
			}
			path := strings.TrimSuffix(strings.TrimPrefix(route, "/api/v1"), "/")
			item := doc.Paths.Value(path)
			if item == nil || item.GetOperation(method) == nil {
				missing = append(missing, method+" "+path)
			}
			return nil
		})

		// Then
		Expect(err).NotTo(HaveOccurred())
		Expect(missing).To(BeEmpty())
	})

	It("reports a degraded dependency without failing health", func() {
		// When
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

		// Then
		Expect(rec.Code).To(Equal(http.StatusOK))
		var body rest.HealthResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body.Status).To(Equal(rest.HealthDegraded))
		Expect(body.Components["postgres"].Status).To(Equal(rest.HealthHealthy))
		Expect(body.Components["redis"].Message).To(Equal("connection refused"))
	})

	It("fails health when the database is gone", func() {
		// Given
		sqlDB, _ := gdb.DB()
		Expect(sqlDB.Close()).To(Succeed())

		// When
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

		// Then
		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
	})

	It("answers ping and serves the OpenAPI file", func() {
		// When
		ping := httptest.NewRecorder()
		router.ServeHTTP(ping, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))
		spec := httptest.NewRecorder()
		router.ServeHTTP(spec, httptest.NewRequest(http.MethodGet, "/openapi.yml", nil))

		// Then
		Expect(ping.Code).To(Equal(http.StatusOK))
		Expect(spec.Code).To(Equal(http.StatusOK))
		Expect(spec.Body.String()).To(ContainSubstring("Gift Card Fulfillment API"))
	})

	It("guards order routes with a bearer token", func() {
		// When
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/giftcards/orders", nil))

		// Then
		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
	})

	It("guards admin routes with the operator key", func() {
		// When
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/catalog/sync", nil))

		// Then
		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
	})

	It("exposes prometheus metrics", func() {
		// When
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		// Then
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("go_goroutines"))
	})
})
