package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/shopspring/decimal"
)

// OrderConfirmation is the data rendered into the customer's payment confirmation.
type OrderConfirmation struct {
	CustomerName string
	OrderNumber  string
	OrderID      string
	PaidAt       time.Time
	Total        decimal.Decimal
	Shipments    []ShipmentCode
	TrackingURL  string
}

// ShipmentCode is the delivery code for one seller's package.
type ShipmentCode struct {
	Code   string
	Amount decimal.Decimal
}

var orderConfirmationTmpl = template.Must(template.New("order_confirmation").Funcs(template.FuncMap{
	"htg":  func(d decimal.Decimal) string { return d.StringFixed(2) + " HTG" },
	"date": func(t time.Time) string { return t.UTC().Format("02/01/2006") },
	"inc":  func(i int) int { return i + 1 },
}).Parse(`<!DOCTYPE html>
<html lang="fr">
<head><meta charset="UTF-8"></head>
<body style="margin:0;padding:0;background-color:#f8f8fa;font-family:Inter,-apple-system,'Segoe UI',Roboto,sans-serif;">
<table width="100%" cellpadding="0" cellspacing="0" style="background-color:#f8f8fa;padding:40px 20px;"><tr><td align="center">
<table width="100%" cellpadding="0" cellspacing="0" style="max-width:480px;background-color:#ffffff;border-radius:8px;">
<tr><td style="padding:32px;">
<h1 style="margin:0 0 8px;font-size:22px;color:#1a1d24;text-align:center;">Merci, {{.CustomerName}}!</h1>
<p style="margin:0 0 4px;font-size:15px;color:#5c6370;text-align:center;">Votre commande a été confirmée.</p>
<p style="margin:0 0 24px;font-size:13px;color:#8b919d;text-align:center;">Commande <strong>{{.OrderNumber}}</strong> · {{date .PaidAt}}</p>
{{range $i, $s := .Shipments}}
<table width="100%" cellpadding="0" cellspacing="0" style="margin-bottom:16px;"><tr>
<td style="padding:12px 16px;background-color:#f8f8fa;border-radius:6px;font-size:13px;color:#1a1d24;">
Colis {{inc $i}} · {{htg $s.Amount}}<br>
Code de livraison : <strong style="font-size:18px;letter-spacing:2px;">{{$s.Code}}</strong>
</td></tr></table>
{{end}}
<table width="100%" cellpadding="0" cellspacing="0" style="margin-bottom:24px;"><tr>
<td style="padding:12px 16px;background-color:#1a1d24;border-radius:6px;color:#ffffff;font-size:15px;">Total payé : {{htg .Total}}</td>
</tr></table>
{{if .TrackingURL}}<p style="text-align:center;"><a href="{{.TrackingURL}}" style="display:inline-block;padding:14px 32px;background-color:#7c3aed;color:#ffffff;text-decoration:none;border-radius:6px;">Suivre ma commande</a></p>{{end}}
<p style="margin:24px 0 0;font-size:13px;color:#8b919d;text-align:center;">Ne communiquez chaque code qu'au livreur du colis correspondant, à la réception.</p>
</td></tr>
</table>
</td></tr></table>
</body>
</html>
`))

// RenderOrderConfirmation builds the confirmation email for an order.
func RenderOrderConfirmation(to string, data OrderConfirmation) (Message, error) {
	var buf bytes.Buffer
	if err := orderConfirmationTmpl.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("render order confirmation: %w", err)
	}
	return Message{
		To:      to,
		Subject: "Confirmation de commande #" + data.OrderNumber,
		HTML:    buf.String(),
	}, nil
}
