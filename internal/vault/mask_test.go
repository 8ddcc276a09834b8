package vault_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/giftcard-fulfillment/internal/vault"
)

var _ = Describe("Mask", func() {
	It("returns no cards for an empty payload", func() {
		Expect(vault.Mask(nil)).To(BeEmpty())
		Expect(vault.Mask([]any{})).To(BeEmpty())
		Expect(vault.Mask(map[string]any{"cards": []any{}})).To(BeEmpty())
	})

	It("masks a single card object", func() {
		// Given
		payload := map[string]any{
			"productName": "Amazon Pay",
			"cardNumber":  "1111222233334444",
			"cardPin":     "556677",
			"expiry":      "2027-10-31",
		}

		// When
		cards := vault.Mask(payload)

		// Then
		Expect(cards).To(HaveLen(1))
		Expect(cards[0].Label).To(Equal("Amazon Pay"))
		Expect(cards[0].CodeLast4).To(Equal("4444"))
		Expect(cards[0].PinLast4).To(Equal("6677"))
		Expect(cards[0].Expiry).To(Equal("2027-10-31"))
	})

	It("masks every card of a wrapped list", func() {
		payload := map[string]any{
			"vouchers": []any{
				map[string]any{"voucherCode": "AAAA-BBBB-CCCC-0001", "validity": "2027-01-01"},
				map[string]any{"voucherCode": "AAAA-BBBB-CCCC-0002", "validity": "2027-01-01"},
				map[string]any{"voucherCode": "AAAA-BBBB-CCCC-0003", "validity": "2027-01-01"},
			},
		}

		cards := vault.Mask(payload)

		Expect(cards).To(HaveLen(3))
		for i, card := range cards {
			Expect(card.CodeLast4).To(HaveLen(4))
			Expect(card.CodeLast4).To(Equal([]string{"0001", "0002", "0003"}[i]))
			Expect(card.Label).NotTo(BeEmpty())
		}
	})

	It("never reveals more than four characters of a code", func() {
		cards := vault.Mask([]any{map[string]any{"code": "ABC"}, map[string]any{"code": "SECRET-CODE-9876"}})

		Expect(cards).To(HaveLen(2))
		Expect(cards[0].CodeLast4).To(BeEmpty())
		Expect(cards[1].CodeLast4).To(Equal("9876"))
	})

	Context("when the card names its code after a voucher", func() {
		card := map[string]any{
			"brandCode":  "AMAZONPAY",
			"voucherNo":  "VCHR-1111-2222-3333",
			"voucherPin": "987654",
		}

		It("reveals the voucher number rather than the brand code", func() {
			// When
			cards := vault.Mask(card)

			// Then
			Expect(cards).To(HaveLen(1))
			Expect(cards[0].CodeLast4).To(Equal("3333"))
			Expect(cards[0].PinLast4).To(Equal("7654"))
		})

		It("treats a lone voucher number as a card", func() {
			Expect(vault.Cards(map[string]any{"voucherNo": "VCHR-1111-2222-3333"})).To(HaveLen(1))
		})

		It("does not treat a brand description as a card", func() {
			Expect(vault.Cards(map[string]any{"brandCode": "AMAZONPAY", "status": "ok"})).To(BeEmpty())
		})
	})

	DescribeTable("preferring the card code over other sensitive keys",
		func(card map[string]any, want string) {
			cards := vault.Mask([]any{card})

			Expect(cards).To(HaveLen(1))
			Expect(cards[0].CodeLast4).To(Equal(want))
		},
		Entry("card number over a claim code", map[string]any{"claimCode": "CLAIM-0000-1111", "cardNumber": "4000123412349999"}, "9999"),
		Entry("voucher code over a serial", map[string]any{"serialNo": "SER-00005555", "voucherCode": "VC-ABCD-7777"}, "7777"),
		Entry("serial number when nothing else is present", map[string]any{"productCode": "PRD-0001", "serialNumber": "SN-000044448888"}, "8888"),
	)

	Describe("MaskFields", func() {
		It("masks nested sensitive fields and keeps the rest", func() {
			in := map[string]any{
				"status": "SUCCESS",
				"data": []any{
					map[string]any{"cardNumber": "1234567812345678", "amount": 500.0},
				},
				"accessToken": "eyJhbGciOiJIUzI1NiJ9.payload.signature",
			}

			out := vault.MaskFields(in, "token").(map[string]any)

			Expect(out["status"]).To(Equal("SUCCESS"))
			Expect(out["accessToken"]).To(Equal("****ture"))
			card := out["data"].([]any)[0].(map[string]any)
			Expect(card["cardNumber"]).To(Equal("****5678"))
			Expect(card["amount"]).To(Equal(500.0))
		})

		It("masks voucher, serial and claim fields but keeps descriptive codes", func() {
			in := map[string]any{
				"brandCode":    "AMAZONPAY",
				"voucherNo":    "VCHR-1111-2222-3333",
				"serialNumber": "SN-000044448888",
				"claimUrl":     "https://claim.example.com/r/abc123xyz",
			}

			out := vault.MaskFields(in).(map[string]any)

			Expect(out["brandCode"]).To(Equal("AMAZONPAY"))
			Expect(out["voucherNo"]).To(Equal("****3333"))
			Expect(out["serialNumber"]).To(Equal("****8888"))
			Expect(out["claimUrl"]).To(Equal("****3xyz"))
		})
	})
})
