package httpapi

import (
	"html/template"
	"log"
	"net/http"
	"strings"

	"github.com/ddobroiu/prynt-sub001/internal/workflow"
)

// ---------------------------------------------------------------------------
// Admin action pages
// ---------------------------------------------------------------------------

var pageTmpl = template.Must(template.New("page").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{if .NextURL}}<p><a href="{{.NextURL}}"><b>{{.NextLabel}}</b></a></p>{{end}}
{{if .TrackingURL}}<p>Tracking: <a href="{{.TrackingURL}}">{{.TrackingURL}}</a></p>{{end}}
{{if .Form}}
<form method="post" action="/admin/awb-action">
<input type="hidden" name="intent" value="edit_submit">
<input type="hidden" name="token" value="{{.Token}}">
<input type="hidden" name="shipment_id" value="{{.Form.ShipmentID}}">
<input type="hidden" name="parcels" value="{{.ParcelIDs}}">
<p>Name <input name="name" value="{{.Form.Address.Name}}"></p>
<p>Phone <input name="phone" value="{{.Form.Address.Phone}}"></p>
<p>Email <input name="email" value="{{.Form.Address.Email}}"></p>
<p>County <input name="county" value="{{.Form.Address.County}}"></p>
<p>City <input name="city" value="{{.Form.Address.City}}"></p>
<p>Street <input name="street" value="{{.Form.Address.Street}}"></p>
<p>Postal code <input name="postal_code" value="{{.Form.Address.PostalCode}}"></p>
<p>Payment <input name="payment_type" value="{{.Form.PaymentType}}"></p>
<p>Total <input name="total_amount" value="{{.Form.TotalAmount}}"></p>
<p>Service id <input name="service_id" value="{{if .Form.ServiceID}}{{.Form.ServiceID}}{{end}}"></p>
<p>Sender client id <input name="sender_client_id" value="{{.Form.SenderClientID}}"></p>
<p><button type="submit">Save and continue</button></p>
</form>
{{end}}
</body></html>`))

var titles = map[workflow.State]string{
	workflow.StateEditing:       "Edit shipment",
	workflow.StateValid:         "Shipment valid",
	workflow.StateInvalid:       "Shipment rejected",
	workflow.StateCancelled:     "Shipment cancelled",
	workflow.StateCreated:       "Shipment created",
	workflow.StateNotified:      "Customer notified",
	workflow.StateProviderError: "Carrier unavailable",
}

// renderStep needs the raw token that authorized this step: the edit
// form re-sends it so the submit handler can verify it before signing
// anything.
func renderStep(w http.ResponseWriter, res *workflow.StepResult, rawToken string) {
	data := map[string]any{
		"Title":       titles[res.State],
		"Message":     res.Message,
		"TrackingURL": res.TrackingURL,
		"Form":        res.Edit,
		"Token":       rawToken,
	}
	if res.Next != nil {
		data["NextURL"] = "/admin/awb-action?token=" + res.Next.Token
		data["NextLabel"] = res.Next.Label
	}
	if res.Edit != nil {
		ids := make([]string, len(res.Edit.Parcels))
		for i, p := range res.Edit.Parcels {
			ids[i] = p.ID
		}
		data["ParcelIDs"] = strings.Join(ids, ",")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTmpl.Execute(w, data); err != nil {
		log.Printf("warn: rendering action page: %v", err)
	}
}

// renderInvalidLink is the one page for every token failure; it must not
// reveal which check rejected the link.
func renderInvalidLink(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`<!doctype html>
<html><head><meta charset="utf-8"><title>Link invalid</title></head>
<body><h1>Link invalid or expired</h1>
<p>This action link is no longer usable. Ask for a fresh order e-mail.</p>
</body></html>`))
}
