package main

import (
	"context"
	"net/http"
	"os"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/rs/zerolog"

	"fundflow/agreements"
	"fundflow/completion"
	"fundflow/contract"
	"fundflow/dataroom"
	"fundflow/db"
	"fundflow/identity"
	"fundflow/signing"
	"fundflow/storage"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap database pool")
	}
	defer pool.Close()

	gcsClient, err := gcs.NewClient(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap gcs client")
	}
	defer gcsClient.Close()
	store := storage.NewGCS(gcsClient, cfg.Bucket)

	signingSvc := signing.NewService(pool, store, cfg.AppBaseURL, log).
		WithIdentityVerifier(identity.NewVerifier(cfg.IdentitySecret))

	agreementRepo := agreements.NewRepository(pool)
	contractRepo := contract.NewRepository(pool)
	grantRepo := dataroom.NewRepository(pool)

	router := completion.NewRouter(log).
		Register(signing.DocNDA,
			completion.NewNDAHandler(store, grantRepo, log)).
		Register(signing.DocSubscription,
			completion.NewSubscriptionHandler(contractRepo, contract.NewScheduleComputer(pool), log)).
		Register(signing.DocIntroducerAgreement,
			completion.NewIntroducerHandler(agreementRepo, signingSvc, log)).
		Register(signing.DocPlacementAgreement,
			completion.NewPlacementHandler(agreementRepo, signingSvc, log))
	signingSvc.WithCompletionRouter(router)

	server := &Server{
		signing:      signingSvc,
		verification: identity.NewVerificationService(pool),
		log:          log.With().Str("component", "http").Logger(),
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", cfg.ListenAddr).Msg("api listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server")
	}
}

type config struct {
	DatabaseURL    string
	Bucket         string
	AppBaseURL     string
	IdentitySecret string
	ListenAddr     string
}

func loadConfig() (config, error) {
	cfg := config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		Bucket:         os.Getenv("GCS_BUCKET"),
		AppBaseURL:     os.Getenv("APP_BASE_URL"),
		IdentitySecret: os.Getenv("IDENTITY_SECRET"),
		ListenAddr:     os.Getenv("LISTEN_ADDR"),
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	for name, v := range map[string]string{
		"DATABASE_URL":    cfg.DatabaseURL,
		"GCS_BUCKET":      cfg.Bucket,
		"APP_BASE_URL":    cfg.AppBaseURL,
		"IDENTITY_SECRET": cfg.IdentitySecret,
	} {
		if v == "" {
			return config{}, &missingEnvError{name: name}
		}
	}
	return cfg, nil
}

type missingEnvError struct{ name string }

func (e *missingEnvError) Error() string { return "missing required env var " + e.name }
