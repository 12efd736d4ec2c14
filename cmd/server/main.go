package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dawaa-market/api/internal/cache"
	"github.com/dawaa-market/api/internal/config"
	"github.com/dawaa-market/api/internal/database"
	"github.com/dawaa-market/api/internal/router"
	"github.com/dawaa-market/api/internal/ws"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()
	log.Println("Connected to database")

	summaryCache := cache.New(cfg.RedisAddr)
	defer summaryCache.Close() //nolint:errcheck

	hub := ws.NewHub()
	go hub.Run()

	queries := database.New(pool)
	r := router.New(cfg, queries, pool, hub, summaryCache)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}

	go func() {
		log.Printf("HTTP listening at :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: server shutdown: %v", err)
	}
}
