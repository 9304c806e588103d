package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ddobroiu/prynt-sub001/internal/carrier"
	"github.com/ddobroiu/prynt-sub001/internal/config"
	"github.com/ddobroiu/prynt-sub001/internal/httpapi"
	"github.com/ddobroiu/prynt-sub001/internal/invoice"
	"github.com/ddobroiu/prynt-sub001/internal/ledger"
	"github.com/ddobroiu/prynt-sub001/internal/notify"
	"github.com/ddobroiu/prynt-sub001/internal/orchestrator"
	"github.com/ddobroiu/prynt-sub001/internal/token"
	"github.com/ddobroiu/prynt-sub001/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()

	// Ledger backend is chosen exactly once; business code never asks
	// whether a database is configured.
	var led ledger.Ledger
	mode := "postgres"
	if dsn := cfg.DatabaseDSN(); dsn != "" {
		pg, err := ledger.NewPostgres(ctx, dsn)
		if err != nil {
			log.Printf("warn: database unavailable, falling back to journal ledger: %v", err)
		} else {
			led = pg
			defer pg.Close()
		}
	}
	if led == nil {
		j, err := ledger.NewJournal(cfg.JournalDir)
		if err != nil {
			log.Fatalf("journal ledger: %v", err)
		}
		led = j
		mode = "journal"
	}

	codec := &token.Codec{Secret: []byte(cfg.TokenSecret), MaxAge: cfg.TokenMaxAge}

	var invoices *invoice.Client
	if cfg.Invoice.Enabled() {
		vat, err := decimal.NewFromString(cfg.Invoice.VATRate)
		if err != nil {
			log.Fatalf("invoice vat rate: %v", err)
		}
		invoices = &invoice.Client{
			BaseURL:      cfg.Invoice.BaseURL,
			ClientID:     cfg.Invoice.ClientID,
			ClientSecret: cfg.Invoice.ClientSecret,
			Endpoints:    cfg.Invoice.Endpoints,
			Series:       cfg.Invoice.Series,
			VATRate:      vat,
			Cache:        &invoice.TokenCache{},
			HTTPC:        &http.Client{Timeout: 20 * time.Second},
		}
	} else {
		log.Printf("warn: invoicing not configured, orders will have no invoice link")
	}

	var mailer *notify.Dispatcher
	if cfg.SMTP.Enabled() {
		mailer = &notify.Dispatcher{
			Host:      cfg.SMTP.Host,
			Port:      cfg.SMTP.Port,
			Username:  cfg.SMTP.Username,
			Password:  cfg.SMTP.Password,
			From:      cfg.SMTP.From,
			AdminAddr: cfg.SMTP.AdminAddr,
		}
	} else {
		log.Printf("warn: smtp not configured, notifications disabled")
	}

	var engine *workflow.Engine
	if cfg.Carrier.Enabled() {
		engine = &workflow.Engine{
			Carrier: &carrier.Client{
				BaseURL:   cfg.Carrier.BaseURL,
				APIKey:    cfg.Carrier.APIKey,
				TrackBase: cfg.Carrier.TrackBase,
				HTTPC:     &http.Client{Timeout: 20 * time.Second},
			},
			Codec:            codec,
			Mailer:           mailer,
			DefaultServiceID: cfg.Carrier.ServiceID,
			SenderClientID:   cfg.Carrier.SenderClientID,
			SenderName:       cfg.Carrier.SenderName,
			SenderPhone:      cfg.Carrier.SenderPhone,
		}
	} else {
		log.Printf("warn: carrier not configured, awb quick-actions disabled")
	}

	orch := &orchestrator.Orchestrator{
		Ledger:            led,
		Invoices:          invoices,
		Mailer:            mailer,
		Codec:             codec,
		CarrierConfigured: cfg.Carrier.Enabled(),
		ServiceID:         cfg.Carrier.ServiceID,
		SenderClientID:    cfg.Carrier.SenderClientID,
		BaseURL:           cfg.BaseURL,
	}

	server := &httpapi.Server{Orchestrator: orch, Engine: engine, Ledger: led, Mode: mode}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	log.Printf("fulfillment server listening on %s (ledger mode %s)", cfg.ListenAddr, mode)
	log.Fatal(srv.ListenAndServe())
}
