package validation_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/giftcard-fulfillment/internal"
	"github.com/frahmantamala/giftcard-fulfillment/internal/core/common/validation"
)

var _ = Describe("ValidationBuilder", func() {
	It("collects every failing field", func() {
		// Given
		v := validation.NewValidator()
		v.Field("brand_code", "").Required()
		v.Field("quantity", 11).MinInt(1, internal.ErrCodeInvalidQuantity).MaxInt(10, internal.ErrCodeInvalidQuantity)
		v.Field("email", "not-an-email").Email(internal.ErrCodeMissingContact)

		// When
		err := v.Validate()

		// Then
		Expect(err).NotTo(BeNil())
		Expect(err.StatusCode).To(Equal(400))
		details := err.Details.(internal.ValidationErrors)
		Expect(details.Errors).To(HaveLen(3))
		Expect(details.Errors[1].Code).To(Equal(string(internal.ErrCodeInvalidQuantity)))
	})

	It("passes valid input", func() {
		v := validation.NewValidator()
		v.Field("amount", int64(50_000)).Required().MinInt(100, internal.ErrCodeInvalidAmount)
		v.Field("email", "buyer@example.com").Email(internal.ErrCodeMissingContact)
		v.Field("phone", "+91 98765 43210").Digits(10, internal.ErrCodeMissingContact)

		Expect(v.Validate()).To(BeNil())
	})
})
