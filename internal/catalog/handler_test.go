package catalog_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/giftcard-fulfillment/internal"
	"github.com/frahmantamala/giftcard-fulfillment/internal/catalog"
)

type stubCatalogService struct {
	enabledOnly bool
}

func (s *stubCatalogService) ListBrands(_ context.Context, enabledOnly bool) ([]catalog.BrandView, error) {
	s.enabledOnly = enabledOnly
	return []catalog.BrandView{{Code: "AMZ", Name: "Amazon Pay", BrandType: "range", DiscountBps: 250, Enabled: true}}, nil
}

func (s *stubCatalogService) ListStores(_ context.Context, code string) ([]catalog.StoreView, error) {
	if code != "FLIP" {
		return nil, internal.ErrBrandNotFound
	}
	return []catalog.StoreView{{StoreCode: "S1", Name: "Koramangala"}}, nil
}

var _ = Describe("Handler", func() {
	var (
		stub   *stubCatalogService
		router chi.Router
	)

	BeforeEach(func() {
		stub = &stubCatalogService{}
		h := catalog.NewHandler(stub)
		router = chi.NewRouter()
		router.Get("/brands", h.ListBrands)
		router.Get("/brands/{code}/stores", h.ListStores)
	})

	It("lists enabled brands", func() {
		// When
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/brands", nil))

		// Then
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(stub.enabledOnly).To(BeTrue())
		var body struct {
			Brands []catalog.BrandView `json:"brands"`
		}
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body.Brands).To(HaveLen(1))
		Expect(body.Brands[0].DiscountBps).To(BeEquivalentTo(250))
	})

	It("returns 404 for stores of an unknown brand", func() {
		// When
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/brands/NOPE/stores", nil))

		// Then
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("lists stores of a brand", func() {
		// When
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/brands/FLIP/stores", nil))

		// Then
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("Koramangala"))
	})
})
