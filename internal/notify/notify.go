// Package notify sends the templated order and shipment e-mails. Every
// send is best-effort: callers log failures and move on, because by the
// time mail goes out the order itself is already settled.
package notify

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"mime"
	"net/smtp"
	"strings"

	"github.com/ddobroiu/prynt-sub001/internal/order"
)

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

type Dispatcher struct {
	Host      string
	Port      int
	Username  string
	Password  string
	From      string
	AdminAddr string
	// Send overrides SMTP delivery; tests capture messages through it.
	Send func(addr, from string, to []string, msg []byte) error
}

func (d *Dispatcher) send(to string, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", d.Host, d.Port)
	if d.Send != nil {
		return d.Send(addr, d.From, []string{to}, msg)
	}
	var auth smtp.Auth
	if d.Username != "" {
		auth = smtp.PlainAuth("", d.Username, d.Password, d.Host)
	}
	return smtp.SendMail(addr, auth, d.From, []string{to}, msg)
}

// QuickAction is a capability link embedded in the admin order mail.
type QuickAction struct {
	Label string
	URL   string
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

var adminOrderTmpl = template.Must(template.New("admin_order").Parse(`
<h2>Order #{{if .Order.OrderNo}}{{.Order.OrderNo}}{{else}}(no number){{end}}</h2>
<p>{{.Order.ShippingAddress.Name}} &mdash; {{.Order.ShippingAddress.City}}, {{.Order.ShippingAddress.Street}}</p>
<table>
{{range .Order.Items}}<tr><td>{{.Name}}</td><td>x{{.Quantity}}</td><td>{{.Total}}</td></tr>
{{end}}<tr><td>Shipping</td><td></td><td>{{.Order.ShippingFee}}</td></tr>
<tr><td><b>Total</b></td><td></td><td><b>{{.Order.Total}}</b></td></tr>
</table>
<p>Payment: {{.Order.PaymentType}}</p>
{{if .InvoiceLink}}<p>Invoice: <a href="{{.InvoiceLink}}">{{.InvoiceLink}}</a></p>{{end}}
{{range .Actions}}<p><a href="{{.URL}}">{{.Label}}</a></p>
{{end}}`))

var customerOrderTmpl = template.Must(template.New("customer_order").Parse(`
<p>Hi {{.Order.ShippingAddress.Name}},</p>
<p>Thank you for your order{{if .Order.OrderNo}} #{{.Order.OrderNo}}{{end}}. We'll let you know when it ships.</p>
<table>
{{range .Order.Items}}<tr><td>{{.Name}}</td><td>x{{.Quantity}}</td><td>{{.Total}}</td></tr>
{{end}}<tr><td><b>Total</b></td><td></td><td><b>{{.Order.Total}}</b></td></tr>
</table>
{{if .InvoiceLink}}<p>Your invoice: <a href="{{.InvoiceLink}}">{{.InvoiceLink}}</a></p>{{end}}`))

var awbTmpl = template.Must(template.New("awb").Parse(`
<p>Hi {{.Address.Name}},</p>
<p>Your order has shipped. Shipment number: <b>{{.ShipmentID}}</b>.</p>
{{if .TrackingURL}}<p>Track it here: <a href="{{.TrackingURL}}">{{.TrackingURL}}</a></p>{{end}}`))

// ---------------------------------------------------------------------------
// Sends
// ---------------------------------------------------------------------------

func (d *Dispatcher) SendAdminOrderEmail(o order.Order, invoiceLink string, actions []QuickAction) error {
	var buf bytes.Buffer
	if err := adminOrderTmpl.Execute(&buf, map[string]any{
		"Order": o, "InvoiceLink": invoiceLink, "Actions": actions,
	}); err != nil {
		return err
	}
	subject := "New order"
	if o.OrderNo > 0 {
		subject = fmt.Sprintf("New order #%d", o.OrderNo)
	}
	return d.send(d.AdminAddr, buildMessage(d.From, d.AdminAddr, subject, buf.String(), nil))
}

func (d *Dispatcher) SendCustomerOrderConfirmation(o order.Order, invoiceLink string) error {
	if o.ShippingAddress.Email == "" {
		return fmt.Errorf("order %s has no customer e-mail", o.ID)
	}
	var buf bytes.Buffer
	if err := customerOrderTmpl.Execute(&buf, map[string]any{
		"Order": o, "InvoiceLink": invoiceLink,
	}); err != nil {
		return err
	}
	return d.send(o.ShippingAddress.Email, buildMessage(d.From, o.ShippingAddress.Email, "Order confirmation", buf.String(), nil))
}

func (d *Dispatcher) SendAwbEmail(addr order.Address, shipmentID, trackingURL string, label []byte) error {
	if addr.Email == "" {
		return fmt.Errorf("shipment %s has no customer e-mail", shipmentID)
	}
	var buf bytes.Buffer
	if err := awbTmpl.Execute(&buf, map[string]any{
		"Address": addr, "ShipmentID": shipmentID, "TrackingURL": trackingURL,
	}); err != nil {
		return err
	}
	var att *attachment
	if len(label) > 0 {
		att = &attachment{name: "label-" + shipmentID + ".pdf", contentType: "application/pdf", data: label}
	}
	return d.send(addr.Email, buildMessage(d.From, addr.Email, "Your order has shipped", buf.String(), att))
}

// ---------------------------------------------------------------------------
// MIME assembly
// ---------------------------------------------------------------------------

type attachment struct {
	name        string
	contentType string
	data        []byte
}

func buildMessage(from, to, subject, html string, att *attachment) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")

	if att == nil {
		b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
		b.WriteString(html)
		return []byte(b.String())
	}

	const boundary = "printshop-mail-boundary"
	b.WriteString("Content-Type: multipart/mixed; boundary=" + boundary + "\r\n\r\n")
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	b.WriteString(html)
	b.WriteString("\r\n--" + boundary + "\r\n")
	b.WriteString("Content-Type: " + att.contentType + "; name=\"" + att.name + "\"\r\n")
	b.WriteString("Content-Disposition: attachment; filename=\"" + att.name + "\"\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
	b.WriteString(wrap76(base64.StdEncoding.EncodeToString(att.data)))
	b.WriteString("\r\n--" + boundary + "--\r\n")
	return []byte(b.String())
}

func wrap76(s string) string {
	var b strings.Builder
	for len(s) > 76 {
		b.WriteString(s[:76])
		b.WriteString("\r\n")
		s = s[76:]
	}
	b.WriteString(s)
	return b.String()
}
