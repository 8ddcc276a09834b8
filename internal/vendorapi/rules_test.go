package vendor_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	vendor "github.com/frahmantamala/giftcard-fulfillment/internal/vendorapi"
)

func code(n int64) *int64 { return &n }

var _ = Describe("Classifier", func() {
	var classifier *vendor.Classifier

	BeforeEach(func() {
		var err error
		classifier, err = vendor.NewClassifier(nil)
		Expect(err).NotTo(HaveOccurred())
	})

	DescribeTable("default rule table",
		func(httpStatus int, env vendor.Envelope, expected vendor.Outcome) {
			Expect(classifier.Classify(httpStatus, env)).To(Equal(expected))
		},
		Entry("zero code", 200, vendor.Envelope{Code: code(0), Data: json.RawMessage(`"x"`)}, vendor.OutcomeApproved),
		Entry("success status without code", 200, vendor.Envelope{Status: "SUCCESS"}, vendor.OutcomeApproved),
		Entry("approved message", 200, vendor.Envelope{Message: "Order approved"}, vendor.OutcomeApproved),
		Entry("non-zero code", 200, vendor.Envelope{Code: code(1002), Message: "Invalid SKU"}, vendor.OutcomeRejected),
		Entry("failure status", 200, vendor.Envelope{Status: "FAILED"}, vendor.OutcomeRejected),
		Entry("server error", 500, vendor.Envelope{}, vendor.OutcomeRejected),
		Entry("unauthorized status", 401, vendor.Envelope{}, vendor.OutcomeCredentialExpired),
		Entry("expired token message", 200, vendor.Envelope{Code: code(401), Message: "Token expired"}, vendor.OutcomeCredentialExpired),
		Entry("insufficient balance", 200, vendor.Envelope{Code: code(1), Message: "Insufficient wallet balance"}, vendor.OutcomeInsufficientBalance),
		Entry("zero code with a reassuring message", 200, vendor.Envelope{Code: code(0), Message: "Processed with no error"}, vendor.OutcomeApproved),
		Entry("failure message without code", 200, vendor.Envelope{Message: "Invalid denomination"}, vendor.OutcomeRejected),
		Entry("zero code with a failure status", 200, vendor.Envelope{Code: code(0), Status: "FAILED"}, vendor.OutcomeRejected),
		Entry("pending status", 200, vendor.Envelope{Status: "PENDING"}, vendor.OutcomeAmbiguous),
		Entry("empty body", 200, vendor.Envelope{}, vendor.OutcomeAmbiguous),
	)

	It("honours a custom rule table", func() {
		custom, err := vendor.NewClassifier([]vendor.Rule{
			{Outcome: vendor.OutcomeApproved, Expr: `status == "ok"`},
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(custom.Classify(200, vendor.Envelope{Status: "OK"})).To(Equal(vendor.OutcomeApproved))
		Expect(custom.Classify(200, vendor.Envelope{Code: code(0)})).To(Equal(vendor.OutcomeAmbiguous))
	})

	It("rejects rules that do not compile to a boolean", func() {
		_, err := vendor.NewClassifier([]vendor.Rule{{Outcome: vendor.OutcomeApproved, Expr: `code + 1`}})
		Expect(err).To(HaveOccurred())

		_, err = vendor.NewClassifier([]vendor.Rule{{Outcome: vendor.OutcomeApproved, Expr: `unknown_var == 1`}})
		Expect(err).To(HaveOccurred())
	})
})
