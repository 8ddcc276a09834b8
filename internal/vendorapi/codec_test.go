package vendor_test

import (
	"encoding/base64"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	vendor "github.com/frahmantamala/giftcard-fulfillment/internal/vendorapi"
)

const (
	testKey = "0123456789abcdef0123456789abcdef"
	testIV  = "00112233445566778899aabbccddeeff"
)

var _ = Describe("Codec", func() {
	var codec *vendor.Codec

	BeforeEach(func() {
		var err error
		codec, err = vendor.NewCodec(testKey, testIV, vendor.StrategyRaw)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Encrypt and Decrypt", func() {
		DescribeTable("round-trips under every agreed strategy",
			func(strategy vendor.Strategy) {
				// Given
				agreed, err := vendor.NewCodec(testKey, testIV, strategy)
				Expect(err).NotTo(HaveOccurred())
				plaintext := `{"token":"abc123","expiresIn":3600}`

				// When
				ciphertext, err := agreed.Encrypt(plaintext)
				Expect(err).NotTo(HaveOccurred())

				// Then
				text, ok := codec.Decrypt(ciphertext)
				Expect(ok).To(BeTrue())
				Expect(text).To(Equal(plaintext))

				text, ok = codec.DecryptWith(strategy, ciphertext)
				Expect(ok).To(BeTrue())
				Expect(text).To(Equal(plaintext))
			},
			Entry("raw", vendor.StrategyRaw),
			Entry("hex-key", vendor.StrategyHexKey),
			Entry("digest", vendor.StrategyDigest),
			Entry("hex-iv", vendor.StrategyHexIV),
			Entry("hex-both", vendor.StrategyHexBoth),
		)

		It("accepts url-safe, unpadded and wrapped ciphertext", func() {
			// Given
			ciphertext, err := codec.Encrypt(strings.Repeat("voucher payload ", 8))
			Expect(err).NotTo(HaveOccurred())

			mangled := strings.NewReplacer("+", "-", "/", "_").Replace(ciphertext)
			mangled = strings.TrimRight(mangled, "=")
			mangled = mangled[:10] + "\n  " + mangled[10:] + "\t"

			// When
			text, ok := codec.Decrypt(mangled)

			// Then
			Expect(ok).To(BeTrue())
			Expect(text).To(Equal(strings.Repeat("voucher payload ", 8)))
		})

		It("fails silently on input that is not ciphertext", func() {
			inputs := []string{
				"",
				"   ",
				"not base64 at all!!",
				base64.StdEncoding.EncodeToString([]byte("fifteen bytes..")[:15]),
				base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef")),
			}
			for _, in := range inputs {
				text, ok := codec.Decrypt(in)
				Expect(ok).To(BeFalse(), in)
				Expect(text).To(BeEmpty())
			}
		})

		It("does not decrypt with the wrong key", func() {
			other, err := vendor.NewCodec("another-key-entirely-different!!", "another-iv-value", vendor.StrategyRaw)
			Expect(err).NotTo(HaveOccurred())
			ciphertext, err := other.Encrypt("secret voucher")
			Expect(err).NotTo(HaveOccurred())

			_, ok := codec.Decrypt(ciphertext)
			Expect(ok).To(BeFalse())
		})
	})

	Describe("NewCodec", func() {
		It("rejects unknown strategies", func() {
			_, err := vendor.NewCodec(testKey, testIV, vendor.Strategy("rot13"))
			Expect(err).To(MatchError(ContainSubstring("unknown codec strategy")))
		})

		It("rejects key material that does not fit the agreed strategy", func() {
			_, err := vendor.NewCodec("not-hex", testIV, vendor.StrategyHexKey)
			Expect(err).To(MatchError(ContainSubstring("key material")))
		})

		It("skips strategies the key material cannot serve", func() {
			c, err := vendor.NewCodec("plain text key", "", vendor.StrategyRaw)
			Expect(err).NotTo(HaveOccurred())

			ciphertext, err := c.Encrypt("hello")
			Expect(err).NotTo(HaveOccurred())

			text, ok := c.Decrypt(ciphertext)
			Expect(ok).To(BeTrue())
			Expect(text).To(Equal("hello"))
		})
	})
})
