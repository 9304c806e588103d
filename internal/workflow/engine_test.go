package workflow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ddobroiu/prynt-sub001/internal/carrier"
	"github.com/ddobroiu/prynt-sub001/internal/notify"
	"github.com/ddobroiu/prynt-sub001/internal/order"
	"github.com/ddobroiu/prynt-sub001/internal/token"
)

// fakeCarrier backs a real carrier.Client with counters so the tests can
// assert how many shipments were actually created.
type fakeCarrier struct {
	validateCalls int64
	createCalls   int64
	printCalls    int64
	rejectReason  string // non-empty makes validate reject
	failValidate  bool   // 502 from validate
	failPrint     bool   // 502 from print
	lastSpec      carrier.ShipmentSpec
	srv           *httptest.Server
}

func newFakeCarrier(t *testing.T) *fakeCarrier {
	t.Helper()
	f := &fakeCarrier{}
	mux := http.NewServeMux()
	mux.HandleFunc("/shipments/validate", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&f.validateCalls, 1)
		_ = json.NewDecoder(r.Body).Decode(&f.lastSpec)
		if f.failValidate {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("{}"))
			return
		}
		if f.rejectReason != "" {
			_ = json.NewEncoder(w).Encode(map[string]any{"valid": false, "reason": f.rejectReason})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"valid": true})
	})
	mux.HandleFunc("/shipments", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&f.createCalls, 1)
		_ = json.NewDecoder(r.Body).Decode(&f.lastSpec)
		_ = json.NewEncoder(w).Encode(carrier.Created{ID: "AWB123", Parcels: []carrier.Parcel{{ID: "P1"}}})
	})
	mux.HandleFunc("/shipments/print", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&f.printCalls, 1)
		if f.failPrint {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("{}"))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"base64": base64.StdEncoding.EncodeToString([]byte("%PDF label"))})
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

type sentMail struct {
	to  []string
	msg string
}

func testEngine(t *testing.T) (*Engine, *fakeCarrier, *[]sentMail) {
	t.Helper()
	fc := newFakeCarrier(t)
	var sent []sentMail
	mailer := &notify.Dispatcher{
		Host: "mail.example", Port: 587, From: "orders@prynt.example", AdminAddr: "admin@prynt.example",
		Send: func(addr, from string, to []string, msg []byte) error {
			sent = append(sent, sentMail{to: to, msg: string(msg)})
			return nil
		},
	}
	e := &Engine{
		Carrier:          &carrier.Client{BaseURL: fc.srv.URL, TrackBase: "https://track.example/?awb="},
		Codec:            &token.Codec{Secret: []byte("secret")},
		Mailer:           mailer,
		DefaultServiceID: 7,
		SenderClientID:   "snd-1",
		SenderName:       "Prynt",
	}
	return e, fc, &sent
}

func details() token.ShipmentDetails {
	return token.ShipmentDetails{
		Address: order.Address{
			Name: "Ion Popescu", Phone: "0712345678", Email: "ion@example.com",
			City: "Cluj-Napoca", Street: "Str. Memorandumului 4",
		},
		PaymentType: order.PaymentCashOnDelivery,
		TotalAmount: decimal.NewFromInt(150),
	}
}

func TestConfirmWithoutShipmentIDCreatesExactlyOnce(t *testing.T) {
	e, fc, sent := testEngine(t)
	tok, err := e.Codec.Sign(token.ConfirmAWB{ShipmentDetails: details()})
	require.NoError(t, err)

	res, err := e.Handle(context.Background(), tok, Overrides{})
	require.NoError(t, err)
	require.Equal(t, StateNotified, res.State)
	require.EqualValues(t, 1, atomic.LoadInt64(&fc.createCalls))
	require.EqualValues(t, 1, atomic.LoadInt64(&fc.printCalls))
	require.Equal(t, "AWB123", res.ShipmentID)
	require.Equal(t, "https://track.example/?awb=AWB123", res.TrackingURL)

	require.Len(t, *sent, 1)
	require.Equal(t, []string{"ion@example.com"}, (*sent)[0].to)
	require.Contains(t, (*sent)[0].msg, "AWB123")
	require.Contains(t, (*sent)[0].msg, `filename="label-AWB123.pdf"`)
}

func TestConfirmWithShipmentIDSkipsCreation(t *testing.T) {
	e, fc, _ := testEngine(t)
	tok, err := e.Codec.Sign(token.ConfirmAWB{
		ShipmentDetails: details(),
		ShipmentID:      "AWB123",
		Parcels:         []token.Parcel{{ID: "P1"}},
	})
	require.NoError(t, err)

	res, err := e.Handle(context.Background(), tok, Overrides{})
	require.NoError(t, err)
	require.Equal(t, StateNotified, res.State)
	require.EqualValues(t, 0, atomic.LoadInt64(&fc.createCalls))
	require.EqualValues(t, 1, atomic.LoadInt64(&fc.printCalls))
}

func TestEmitThenConfirmReusesShipment(t *testing.T) {
	e, fc, sent := testEngine(t)
	tok, err := e.Codec.Sign(token.EmitAWB{ShipmentDetails: details()})
	require.NoError(t, err)

	// Operator clicks "emit": shipment is created but nothing is printed
	// or mailed yet.
	res, err := e.Handle(context.Background(), tok, Overrides{})
	require.NoError(t, err)
	require.Equal(t, StateCreated, res.State)
	require.Equal(t, "AWB123", res.ShipmentID)
	require.NotNil(t, res.Next)
	require.EqualValues(t, 1, atomic.LoadInt64(&fc.createCalls))
	require.EqualValues(t, 0, atomic.LoadInt64(&fc.printCalls))
	require.Empty(t, *sent)

	// The "send to customer" link carries the shipment id forward.
	act, err := e.Codec.Verify(res.Next.Token)
	require.NoError(t, err)
	confirm, ok := act.(token.ConfirmAWB)
	require.True(t, ok)
	require.Equal(t, "AWB123", confirm.ShipmentID)

	// Clicking it finishes the flow without a second creation.
	res2, err := e.Handle(context.Background(), res.Next.Token, Overrides{})
	require.NoError(t, err)
	require.Equal(t, StateNotified, res2.State)
	require.EqualValues(t, 1, atomic.LoadInt64(&fc.createCalls))
	require.Len(t, *sent, 1)
}

func TestEmitReplayDoesNotCreateTwice(t *testing.T) {
	e, fc, _ := testEngine(t)
	tok, err := e.Codec.Sign(token.EmitAWB{
		ShipmentDetails: details(),
		ShipmentID:      "AWB123",
		Parcels:         []token.Parcel{{ID: "P1"}},
	})
	require.NoError(t, err)

	res, err := e.Handle(context.Background(), tok, Overrides{})
	require.NoError(t, err)
	require.Equal(t, StateCreated, res.State)
	require.EqualValues(t, 0, atomic.LoadInt64(&fc.createCalls))
}

func TestValidateSuccessSignsConfirmLink(t *testing.T) {
	e, _, _ := testEngine(t)
	tok, err := e.Codec.Sign(token.Validate{ShipmentDetails: details()})
	require.NoError(t, err)

	res, err := e.Handle(context.Background(), tok, Overrides{})
	require.NoError(t, err)
	require.Equal(t, StateValid, res.State)
	require.NotNil(t, res.Next)

	act, err := e.Codec.Verify(res.Next.Token)
	require.NoError(t, err)
	require.Equal(t, "confirm_awb", act.Kind())
	require.Equal(t, details().Address, act.Details().Address)
}

func TestValidateRejectionPreservesFieldsInEditForm(t *testing.T) {
	e, fc, _ := testEngine(t)
	fc.rejectReason = "postal code unknown"

	d := details()
	tok, err := e.Codec.Sign(token.Validate{ShipmentDetails: d})
	require.NoError(t, err)

	res, err := e.Handle(context.Background(), tok, Overrides{})
	require.NoError(t, err)
	require.Equal(t, StateInvalid, res.State)
	require.Contains(t, res.Message, "postal code unknown")
	require.NotNil(t, res.Edit)
	require.Equal(t, d.Address, res.Edit.Address)
	require.True(t, d.TotalAmount.Equal(res.Edit.TotalAmount))
}

func TestConfirmValidationFailureKeepsShipmentID(t *testing.T) {
	e, fc, _ := testEngine(t)
	fc.rejectReason = "address incomplete"

	tok, err := e.Codec.Sign(token.ConfirmAWB{
		ShipmentDetails: details(),
		ShipmentID:      "AWB77",
		Parcels:         []token.Parcel{{ID: "P9"}},
	})
	require.NoError(t, err)

	res, err := e.Handle(context.Background(), tok, Overrides{})
	require.NoError(t, err)
	require.Equal(t, StateInvalid, res.State)
	require.Equal(t, "AWB77", res.Edit.ShipmentID)
	require.EqualValues(t, 0, atomic.LoadInt64(&fc.createCalls))
}

func TestCarrierOutageBecomesRetryForm(t *testing.T) {
	e, fc, _ := testEngine(t)
	fc.failValidate = true

	tok, err := e.Codec.Sign(token.Validate{ShipmentDetails: details()})
	require.NoError(t, err)

	res, err := e.Handle(context.Background(), tok, Overrides{})
	require.NoError(t, err)
	require.Equal(t, StateProviderError, res.State)
	require.NotNil(t, res.Edit)
}

func TestPrintFailureHoldsNotificationAndKeepsShipment(t *testing.T) {
	e, fc, sent := testEngine(t)
	fc.failPrint = true

	tok, err := e.Codec.Sign(token.ConfirmAWB{ShipmentDetails: details()})
	require.NoError(t, err)

	res, err := e.Handle(context.Background(), tok, Overrides{})
	require.NoError(t, err)
	require.Equal(t, StateProviderError, res.State)
	require.Empty(t, *sent)
	// The created shipment rides the retry form so a retry is idempotent.
	require.NotNil(t, res.Edit)
	require.Equal(t, "AWB123", res.Edit.ShipmentID)
	require.EqualValues(t, 1, atomic.LoadInt64(&fc.createCalls))

	// Retry once printing recovers: no second creation, customer mailed.
	fc.failPrint = false
	retry, err := e.SubmitEdit(*res.Edit)
	require.NoError(t, err)
	res2, err := e.Handle(context.Background(), retry, Overrides{})
	require.NoError(t, err)
	require.Equal(t, StateNotified, res2.State)
	require.EqualValues(t, 1, atomic.LoadInt64(&fc.createCalls))
	require.Len(t, *sent, 1)
}

func TestCancelEndsFlowWithoutCarrierCalls(t *testing.T) {
	e, fc, _ := testEngine(t)
	tok, err := e.Codec.Sign(token.CancelAWB{ShipmentDetails: details()})
	require.NoError(t, err)

	res, err := e.Handle(context.Background(), tok, Overrides{})
	require.NoError(t, err)
	require.Equal(t, StateCancelled, res.State)
	require.EqualValues(t, 0, atomic.LoadInt64(&fc.validateCalls))
	require.EqualValues(t, 0, atomic.LoadInt64(&fc.createCalls))
}

func TestEditRendersFormWithoutSideEffects(t *testing.T) {
	e, fc, _ := testEngine(t)
	d := details()
	tok, err := e.Codec.Sign(token.Edit{ShipmentDetails: d, ShipmentID: "AWB5"})
	require.NoError(t, err)

	res, err := e.Handle(context.Background(), tok, Overrides{})
	require.NoError(t, err)
	require.Equal(t, StateEditing, res.State)
	require.Equal(t, d.Address, res.Edit.Address)
	require.Equal(t, "AWB5", res.Edit.ShipmentID)
	require.EqualValues(t, 0, atomic.LoadInt64(&fc.validateCalls))
	require.EqualValues(t, 0, atomic.LoadInt64(&fc.createCalls))
}

func TestInvalidTokenIsTheOnlyHardFailure(t *testing.T) {
	e, _, _ := testEngine(t)
	_, err := e.Handle(context.Background(), "not-a-token", Overrides{})
	require.ErrorIs(t, err, token.ErrInvalidToken)
}

func TestCODDerivedFromPaymentType(t *testing.T) {
	e, fc, _ := testEngine(t)

	// Cash on delivery: COD equals the signed total.
	tok, err := e.Codec.Sign(token.Validate{ShipmentDetails: details()})
	require.NoError(t, err)
	_, err = e.Handle(context.Background(), tok, Overrides{})
	require.NoError(t, err)
	require.True(t, fc.lastSpec.CashOnDelivery.Equal(decimal.NewFromInt(150)), fc.lastSpec.CashOnDelivery.String())

	// Card: no COD.
	d := details()
	d.PaymentType = order.PaymentCard
	tok, err = e.Codec.Sign(token.Validate{ShipmentDetails: d})
	require.NoError(t, err)
	_, err = e.Handle(context.Background(), tok, Overrides{})
	require.NoError(t, err)
	require.True(t, fc.lastSpec.CashOnDelivery.IsZero())
}

func TestOverridesSteerRoutingOnly(t *testing.T) {
	e, fc, _ := testEngine(t)
	tok, err := e.Codec.Sign(token.Validate{ShipmentDetails: details()})
	require.NoError(t, err)

	_, err = e.Handle(context.Background(), tok, Overrides{ServiceID: 42, SenderClientID: "snd-9"})
	require.NoError(t, err)
	require.Equal(t, 42, fc.lastSpec.ServiceID)
	require.Equal(t, "snd-9", fc.lastSpec.Sender.ClientID)
	// The signed money and address are untouched by unsigned parameters.
	require.True(t, fc.lastSpec.CashOnDelivery.Equal(decimal.NewFromInt(150)))
	require.Equal(t, "Ion Popescu", fc.lastSpec.Recipient.Name)
}

func TestSubmitEditSignsConfirmWithEditedFields(t *testing.T) {
	e, _, _ := testEngine(t)
	form := EditForm{
		Address:     order.Address{Name: "Ion Popescu", City: "Oradea", Street: "Str. Noua 10"},
		PaymentType: order.PaymentCard,
		TotalAmount: decimal.NewFromInt(200),
		ShipmentID:  "AWB123",
		Parcels:     []token.Parcel{{ID: "P1"}},
	}

	tok, err := e.SubmitEdit(form)
	require.NoError(t, err)

	act, err := e.Codec.Verify(tok)
	require.NoError(t, err)
	confirm, ok := act.(token.ConfirmAWB)
	require.True(t, ok)
	require.Equal(t, "Oradea", confirm.Address.City)
	require.True(t, confirm.TotalAmount.Equal(decimal.NewFromInt(200)))
	require.Equal(t, "AWB123", confirm.ShipmentID)
}
