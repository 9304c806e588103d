// Package httpapi is the HTTP surface: the checkout endpoint, the admin
// order reads and the e-mail-driven AWB action pages.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/ddobroiu/prynt-sub001/internal/ledger"
	"github.com/ddobroiu/prynt-sub001/internal/metrics"
	"github.com/ddobroiu/prynt-sub001/internal/orchestrator"
	"github.com/ddobroiu/prynt-sub001/internal/order"
	"github.com/ddobroiu/prynt-sub001/internal/token"
	"github.com/ddobroiu/prynt-sub001/internal/workflow"
)

type Server struct {
	Orchestrator *orchestrator.Orchestrator
	Engine       *workflow.Engine
	Ledger       ledger.Ledger
	// Mode reports which ledger backend is serving ("postgres"/"journal").
	Mode string
}

// ---------------------------------------------------------------------------
// Router
// ---------------------------------------------------------------------------

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(securityHeaders)

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/healthz", instrument("healthz", s.handleHealthz))

	r.Post("/api/checkout", instrument("checkout", s.handleCheckout))
	r.Get("/api/orders", instrument("orders_list", s.handleListOrders))
	r.Get("/api/orders/{id}", instrument("orders_get", s.handleGetOrder))

	r.Get("/admin/awb-action", instrument("awb_action", s.handleAdminAction))
	r.Post("/admin/awb-action", instrument("awb_action_submit", s.handleAdminActionSubmit))
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "service": "fulfillment", "mode": s.Mode})
}

// ---------------------------------------------------------------------------
// Checkout
// ---------------------------------------------------------------------------

type checkoutRequest struct {
	Items           []order.CartItem     `json:"items"`
	ShippingFee     decimal.Decimal      `json:"shipping_fee"`
	PaymentType     string               `json:"payment_type"`
	ShippingAddress order.Address        `json:"shipping_address"`
	Billing         order.BillingProfile `json:"billing"`
	Attribution     map[string]string    `json:"attribution,omitempty"`
	CustomerID      string               `json:"customer_id,omitempty"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	res, err := s.Orchestrator.FulfillOrder(r.Context(), orchestrator.Input{
		Cart:            req.Items,
		ShippingFee:     req.ShippingFee,
		PaymentType:     req.PaymentType,
		ShippingAddress: req.ShippingAddress,
		Billing:         req.Billing,
		Attribution:     req.Attribution,
		CustomerID:      req.CustomerID,
	})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ---------------------------------------------------------------------------
// Order reads (admin back-office)
// ---------------------------------------------------------------------------

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", 50, 1, 200)
	orders, err := s.Ledger.ListOrders(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": orders})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	o, err := s.Ledger.GetOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": o})
}

// ---------------------------------------------------------------------------
// AWB actions
// ---------------------------------------------------------------------------

func (s *Server) handleAdminAction(w http.ResponseWriter, r *http.Request) {
	if s.Engine == nil {
		renderInvalidLink(w)
		return
	}
	raw := strings.TrimSpace(r.URL.Query().Get("token"))
	ov := workflow.Overrides{
		ServiceID:      intParamRaw(r.URL.Query().Get("sid")),
		SenderClientID: strings.TrimSpace(r.URL.Query().Get("scid")),
	}
	res, err := s.Engine.Handle(r.Context(), raw, ov)
	if err != nil {
		// Never hint at which check failed.
		if !errors.Is(err, token.ErrInvalidToken) {
			log.Printf("warn: awb action failed: %v", err)
		}
		renderInvalidLink(w)
		return
	}
	renderStep(w, res, raw)
}

func (s *Server) handleAdminActionSubmit(w http.ResponseWriter, r *http.Request) {
	if s.Engine == nil {
		renderInvalidLink(w)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid form"})
		return
	}
	// The hidden token field carries the capability that rendered the
	// form; without verifying it anyone could mint confirm tokens.
	if _, err := s.Engine.Codec.Verify(strings.TrimSpace(r.PostFormValue("token"))); err != nil {
		renderInvalidLink(w)
		return
	}
	if r.PostFormValue("intent") != "edit_submit" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown intent"})
		return
	}

	form, err := parseEditForm(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	tok, err := s.Engine.SubmitEdit(form)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	http.Redirect(w, r, "/admin/awb-action?token="+tok, http.StatusSeeOther)
}

func parseEditForm(r *http.Request) (workflow.EditForm, error) {
	pay, err := order.ParsePaymentType(r.PostFormValue("payment_type"))
	if err != nil {
		return workflow.EditForm{}, err
	}
	total, err := decimal.NewFromString(strings.TrimSpace(r.PostFormValue("total_amount")))
	if err != nil {
		return workflow.EditForm{}, fmt.Errorf("invalid total amount")
	}
	form := workflow.EditForm{
		Address: order.Address{
			Name:       strings.TrimSpace(r.PostFormValue("name")),
			Phone:      strings.TrimSpace(r.PostFormValue("phone")),
			Email:      strings.TrimSpace(r.PostFormValue("email")),
			County:     strings.TrimSpace(r.PostFormValue("county")),
			City:       strings.TrimSpace(r.PostFormValue("city")),
			Street:     strings.TrimSpace(r.PostFormValue("street")),
			PostalCode: strings.TrimSpace(r.PostFormValue("postal_code")),
		},
		PaymentType:    pay,
		TotalAmount:    total,
		ServiceID:      intParamRaw(r.PostFormValue("service_id")),
		SenderClientID: strings.TrimSpace(r.PostFormValue("sender_client_id")),
		ShipmentID:     strings.TrimSpace(r.PostFormValue("shipment_id")),
	}
	if raw := strings.TrimSpace(r.PostFormValue("parcels")); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				form.Parcels = append(form.Parcels, token.Parcel{ID: id})
			}
		}
	}
	if form.Address.Name == "" || form.Address.City == "" || form.Address.Street == "" {
		return workflow.EditForm{}, fmt.Errorf("name, city and street are required")
	}
	return form, nil
}

// ---------------------------------------------------------------------------
// HTTP helpers
// ---------------------------------------------------------------------------

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(handler string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.HTTPRequestsTotal.WithLabelValues(handler, r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(handler, r.Method).Observe(time.Since(start).Seconds())
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return errors.New("empty request body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.New("invalid JSON payload")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func intParam(r *http.Request, key string, def, min, max int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func intParamRaw(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}
