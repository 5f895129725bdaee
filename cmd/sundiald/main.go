package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sundial-cal/sundial/internal/activity"
	"github.com/sundial-cal/sundial/internal/caldav"
	"github.com/sundial-cal/sundial/internal/config"
	"github.com/sundial-cal/sundial/internal/holidays"
	"github.com/sundial-cal/sundial/internal/ical"
	"github.com/sundial-cal/sundial/internal/scheduler"
	"github.com/sundial-cal/sundial/internal/secrets"
	"github.com/sundial-cal/sundial/internal/store"
	"github.com/sundial-cal/sundial/internal/validator"
	"github.com/sundial-cal/sundial/internal/web"
)

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 30 * time.Second
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting sundial...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)

	// Initialize store
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("Error closing store: %v", err)
		}
	}()

	// The local account always exists so standalone use works out of
	// the box.
	if _, err := st.GetOrCreateLocalAccount(); err != nil {
		log.Fatalf("Failed to initialize local account: %v", err)
	}

	// Initialize credential vault
	vault, err := secrets.New(st, cfg.Security.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize credential vault: %v", err)
	}

	// Initialize reconciliation engine
	engine := caldav.NewEngine(st, vault, ical.Parse, ical.Encode)

	// Initialize holiday feeds
	var holidayMgr *holidays.Manager
	if len(cfg.Holidays.Feeds) > 0 {
		holidayMgr = holidays.New(st, cfg.Holidays.Feeds)
		log.Printf("Holiday overlays enabled with %d feeds", len(cfg.Holidays.Feeds))
	}

	// Initialize activity tracker and scheduler
	tracker := activity.NewTracker()
	sched := scheduler.New(st, engine, holidayMgr, tracker, cfg.Sync.Interval, cfg.Sync.Standalone)

	// Initialize URL validator
	var validatorOpts []validator.Option
	if cfg.Security.AllowPrivateIPs {
		validatorOpts = append(validatorOpts, validator.WithAllowPrivateIPs())
	}
	v := validator.New(validatorOpts...)

	// Initialize handlers
	handlers := web.NewHandlers(st, engine, sched, vault, v, tracker)

	// Setup Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(web.RequestLogger())
	router.Use(web.SecurityHeaders())

	web.SetupRoutes(router, handlers)

	// Create HTTP server
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	// Start scheduler
	if err := sched.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Stop scheduler
	sched.Stop()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
