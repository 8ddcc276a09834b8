package order

import (
	"strings"
	"unicode"

	"github.com/frahmantamala/giftcard-fulfillment/internal"
	orderDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/order"
)

type Contact struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	AddressLine string `json:"address_line,omitempty"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	Pincode     string `json:"pincode,omitempty"`
}

// resolveContact fills each field from the request, then the order snapshot,
// then the user profile.
func resolveContact(req *Contact, o *orderDatamodel.Order, user *internal.User) Contact {
	var c Contact
	if req != nil {
		c = *req
	}
	pick := func(dst *string, candidates ...string) {
		if strings.TrimSpace(*dst) != "" {
			*dst = strings.TrimSpace(*dst)
			return
		}
		for _, v := range candidates {
			if v = strings.TrimSpace(v); v != "" {
				*dst = v
				return
			}
		}
	}
	var userName, userEmail, userPhone string
	if user != nil {
		userName, userEmail, userPhone = user.Name, user.Email, user.Phone
	}
	pick(&c.Name, o.BuyerName, userName)
	pick(&c.Email, o.BuyerEmail, userEmail)
	pick(&c.Phone, o.BuyerPhone, userPhone)
	pick(&c.AddressLine, o.AddressLine)
	pick(&c.City, o.City)
	pick(&c.State, o.State)
	pick(&c.Pincode, o.Pincode)
	c.Phone = normalizePhone(c.Phone)
	return c
}

func (c Contact) missing() []string {
	var fields []string
	if c.Name == "" {
		fields = append(fields, "name")
	}
	if c.Email == "" || !strings.Contains(c.Email, "@") {
		fields = append(fields, "email")
	}
	if len(c.Phone) < 10 {
		fields = append(fields, "phone")
	}
	return fields
}

// splitName returns first and last name. Single-word names repeat as the
// last name since the vendor requires both.
func (c Contact) splitName() (string, string) {
	parts := strings.Fields(c.Name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], parts[0]
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// normalizePhone keeps the ten digit national number of an Indian mobile.
func normalizePhone(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	return digits
}
