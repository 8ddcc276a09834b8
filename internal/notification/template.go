package notification

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/frahmantamala/giftcard-fulfillment/internal/vault"
)

var fulfilledTemplate = template.Must(template.New("fulfilled").Parse(`<!doctype html>
<html>
<body style="font-family: sans-serif; color: #222;">
  <p>Hi {{if .Name}}{{.Name}}{{else}}there{{end}},</p>
  <p>Your {{.BrandName}} gift card order <strong>{{.OrderID}}</strong> is ready.{{if .Test}} These are test vouchers and cannot be redeemed.{{end}}</p>
  <table cellpadding="6" style="border-collapse: collapse;">
    <tr><th align="left">Card</th><th align="left">Code</th><th align="left">Expiry</th><th align="left">Amount</th></tr>
    {{range .Vouchers}}
    <tr><td>{{.Label}}</td><td>•••• {{.CodeLast4}}</td><td>{{.Expiry}}</td><td>{{.Amount}}</td></tr>
    {{end}}
  </table>
  <p>Amount paid: ₹{{.Paid}}</p>
  <p>Sign in to view the full card details.</p>
</body>
</html>`))

type fulfilledView struct {
	Name      string
	BrandName string
	OrderID   string
	Paid      string
	Test      bool
	Vouchers  []vault.MaskedCard
}

func renderFulfilled(v fulfilledView) (string, error) {
	var buf bytes.Buffer
	if err := fulfilledTemplate.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("render fulfilled mail: %w", err)
	}
	return buf.String(), nil
}

func formatRupees(paise int64) string {
	sign := ""
	if paise < 0 {
		sign, paise = "-", -paise
	}
	return fmt.Sprintf("%s%d.%02d", sign, paise/100, paise%100)
}
