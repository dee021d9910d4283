package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"photoshopai/backend/internal/api"
	"photoshopai/backend/internal/cache"
	"photoshopai/backend/internal/config"
	"photoshopai/backend/internal/credit"
	"photoshopai/backend/internal/gemini"
	"photoshopai/backend/internal/payments"
	"photoshopai/backend/internal/queue"
	"photoshopai/backend/internal/replicate"
	"photoshopai/backend/internal/storage"
	"photoshopai/backend/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.PGURL, cfg.FreeCredits)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Pool.Close()
	if err := db.Migrate(ctx); err != nil {
		log.Printf("db migrate: %v", err)
	}
	ledger := credit.NewStoreLedger(db)

	var jwks *keyfunc.JWKS
	if cfg.SupabaseURL != "" {
		jwksURL := cfg.SupabaseURL + "/auth/v1/.well-known/jwks.json"
		jwks, err = keyfunc.Get(jwksURL, keyfunc.Options{
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  time.Minute,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				log.Printf("auth: jwks refresh: %v", err)
			},
		})
		if err != nil {
			log.Printf("auth: jwks fetch failed, falling back to shared secret: %v", err)
			jwks = nil
		}
	}

	redisCache, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		log.Printf("cache: redis unavailable, responses uncached: %v", err)
		redisCache = nil
	}

	st, err := storage.NewS3(ctx, storage.S3Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		Bucket:        cfg.S3Bucket,
		Key:           cfg.S3AccessKey,
		Secret:        cfg.S3SecretKey,
		UseSSL:        cfg.S3UseSSL,
		PublicBaseURL: cfg.S3PublicURL,
	})
	if err != nil {
		log.Printf("storage: s3 init failed, media mirroring disabled: %v", err)
	}

	srv := &api.Server{
		DB:     db,
		Ledger: ledger,
		Cache:  redisCache,
		JWKS:   jwks,
		Cfg:    cfg,
	}

	if cfg.ReplicateToken != "" {
		rc, err := replicate.New(cfg.ReplicateToken)
		if err != nil {
			log.Fatalf("replicate init: %v", err)
		}
		srv.Repl = rc
	}
	if gc, err := gemini.New(ctx, cfg.GeminiAPIKey); err != nil {
		log.Fatalf("gemini init: %v", err)
	} else if gc != nil {
		srv.Gemini = gc
	}
	if st != nil {
		srv.Storage = st
	}
	if p := payments.New(payments.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		SuccessURL:    cfg.CheckoutSuccessURL,
		CancelURL:     cfg.CheckoutCancelURL,
		Packs: []payments.Pack{
			{Name: "small", PriceID: cfg.PriceSmall, Credits: cfg.PackSmallCredits},
			{Name: "large", PriceID: cfg.PriceLarge, Credits: cfg.PackLargeCredits},
		},
	}); p != nil {
		srv.Payments = p
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.Redis)
	if err != nil {
		redisOpt = asynq.RedisClientOpt{Addr: cfg.Redis}
	}
	taskClient := asynq.NewClient(redisOpt)
	defer taskClient.Close()
	srv.Tasks = taskClient

	worker := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.AsynqConcurrency,
		Logger:      asynqLogger{},
	})
	mux := asynq.NewServeMux()
	queue.NewHandlers(db, ledger, st).Register(mux)
	go func() {
		if err := worker.Run(mux); err != nil {
			log.Printf("queue: worker stopped: %v", err)
		}
	}()

	// Periodic sweep for jobs orphaned by a crashed request.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := taskClient.Enqueue(queue.NewReapStaleJobsTask()); err != nil {
					log.Printf("queue: enqueue reaper: %v", err)
				}
			}
		}
	}()

	origins := []string{"*"}
	if cfg.CORSOrigins != "" {
		origins = strings.Split(cfg.CORSOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
	}
	handler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key", "X-Device-Id"},
		AllowCredentials: true,
	}).Handler(srv.Routes())

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("api: listening on :%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api: listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("api: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("api: shutdown: %v", err)
	}
	worker.Shutdown()
}

// asynqLogger routes asynq's internal logging through the stdlib logger.
type asynqLogger struct{}

func (asynqLogger) Debug(args ...interface{}) {}
func (asynqLogger) Info(args ...interface{})  { log.Println(append([]interface{}{"queue:"}, args...)...) }
func (asynqLogger) Warn(args ...interface{})  { log.Println(append([]interface{}{"queue:"}, args...)...) }
func (asynqLogger) Error(args ...interface{}) { log.Println(append([]interface{}{"queue:"}, args...)...) }
func (asynqLogger) Fatal(args ...interface{}) { log.Fatalln(append([]interface{}{"queue:"}, args...)...) }
