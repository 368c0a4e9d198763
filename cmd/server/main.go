package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chainpay/config"
	"chainpay/internal/database"
	"chainpay/internal/router"
	"chainpay/pkg/chain"
	"chainpay/pkg/rates"
)

func main() {
	cfg := config.Load()
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	database.SeedOperator(db, &cfg.Seed)

	chainClient := chain.NewRPCClient(
		cfg.Chain.RPCURL,
		cfg.Chain.SignerURL,
		cfg.Chain.SignerAPIKey,
		cfg.Chain.TokenAddress,
		cfg.Chain.OperatorAddress,
	)
	var rateProvider rates.Provider
	if cfg.Rates.Mode == "http" {
		rateProvider = rates.NewHTTPProvider(cfg.Rates.BaseURL, cfg.Rates.APIKey)
	} else {
		rateProvider = rates.Fixed{Rate: cfg.Rates.FixedLedgerPerNative}
	}

	engine := router.Setup(cfg, db, chainClient, rateProvider)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Printf("server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("server shutdown:", err)
	}
	log.Println("server stopped")
}
