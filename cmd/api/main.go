package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/fournildore/boulangerie-api/internal/auth"
	"github.com/fournildore/boulangerie-api/internal/catalog"
	"github.com/fournildore/boulangerie-api/internal/config"
	"github.com/fournildore/boulangerie-api/internal/httpx"
	kafkax "github.com/fournildore/boulangerie-api/internal/kafka"
	"github.com/fournildore/boulangerie-api/internal/logging"
	"github.com/fournildore/boulangerie-api/internal/notify"
	"github.com/fournildore/boulangerie-api/internal/orders"
	"github.com/fournildore/boulangerie-api/internal/payments"
	"github.com/fournildore/boulangerie-api/internal/postgres"
	"github.com/fournildore/boulangerie-api/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := logging.New(cfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, notify.Topic, 1024, log)
	prod.Start(ctx)

	// Notifications
	var sms *notify.SMSClient
	if cfg.BrevoAPIKey != "" {
		sms = notify.NewSMSClient(cfg.BrevoAPIKey, cfg.SMSSender)
	}
	dispatcher := notify.NewDispatcher(prod, sms, log)

	// Stores & services
	store := &orders.Repo{DB: db}
	orderSvc := orders.NewService(store, dispatcher, log, cfg.DeliveryFee)

	var mobileMoney payments.Provider
	switch cfg.PaymentProvider {
	case "flutterwave":
		mobileMoney = payments.NewFlutterwave(payments.FlutterwaveConfig{
			SecretKey:  cfg.FlutterwaveSecretKey,
			SecretHash: cfg.FlutterwaveSecretHash,
		})
	default:
		mobileMoney = payments.NewPaydunya(payments.PaydunyaConfig{
			MasterKey:  cfg.PaydunyaMasterKey,
			PrivateKey: cfg.PaydunyaPrivateKey,
			Token:      cfg.PaydunyaToken,
			Sandbox:    cfg.PaydunyaSandbox,
		})
	}
	var card payments.Provider
	if cfg.StripeAPIKey != "" {
		card = payments.NewStripe(payments.StripeConfig{
			APIKey:        cfg.StripeAPIKey,
			WebhookSecret: cfg.StripeWebhookSecret,
		})
	}
	paymentSvc := payments.NewService(store, log, payments.ServiceConfig{
		MobileMoney: mobileMoney,
		Card:        card,
		Currency:    cfg.Currency,
		BaseURL:     cfg.BaseURL,
		Timeout:     cfg.ProviderTimeout,
	})

	authSvc := auth.NewService(auth.NewPgStore(db), cfg.JWTSecret, cfg.JWTTTL, log)

	limiter := redisx.NewCounterLimiter(rdb, redisx.KeyVerifyRate, cfg.VerifyRateLimit, cfg.VerifyRateWindow)

	// Router
	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{Service: orderSvc, Redis: rdb, Limiter: limiter, Log: log}
	ph := &httpx.ProductsHandler{Store: &catalog.Repo{DB: db}}
	pay := &httpx.PaymentsHandler{Service: paymentSvc, Redis: rdb, Log: log}
	ah := &httpx.AuthHandler{Service: authSvc}

	router.Route("/api", func(r chi.Router) {
		oh.Register(r)
		ph.Register(r)
		pay.Register(r)
		ah.Register(r)

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireAdmin(authSvc, httpx.Unauthorized))
			oh.RegisterAdmin(r)
			ph.RegisterAdmin(r)
			ah.RegisterAdmin(r)
		})
	})

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // close inbox so the loop flushes what is queued
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}
