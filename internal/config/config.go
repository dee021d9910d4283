package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port string

	PGURL string
	Redis string

	AsynqConcurrency int // worker concurrency (default 8)

	SupabaseJWTSecret string // legacy; used only if SupabaseURL not set
	SupabaseURL       string // e.g. https://xxx.supabase.co — for JWKS verification

	ReplicateToken string
	GeminiAPIKey   string

	// Stripe: one-time credit packs
	StripeSecretKey     string
	StripeWebhookSecret string
	PriceSmall          string // price id for the small credit pack
	PriceLarge          string // price id for the large credit pack
	PackSmallCredits    int
	PackLargeCredits    int
	CheckoutSuccessURL  string
	CheckoutCancelURL   string

	// S3/R2 compatible (Cloudflare R2, MinIO, AWS S3)
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	S3PublicURL string // e.g. https://cdn.photoshopai.app for public read URLs

	// Model identifiers from env
	ModelEdit      string // gemini image edit / virtual try-on
	ModelGhibli    string // gemini stylization
	ModelRoom      string // gemini room declutter
	ModelThumbnail string // gemini thumbnail generation
	ModelHeadshot  string // replicate headshot model
	ModelRemoveBg  string // bria/remove-background
	ModelUpscale   string // nightmareai/real-esrgan
	ModelRestore   string // flux-kontext-apps/restore-image
	ModelVideo     string // image-to-video

	FreeCredits int // starting balance for new users/devices
	CostImage   int // credits per image feature call
	CostVideo   int // credits per pic2vid call

	MaxImageEdge int // uploads are downscaled to this before the provider call

	// CORS: comma-separated origins. Empty = allow "*"
	CORSOrigins string
}

func Load() *Config {
	return &Config{
		Port:             getEnv("PORT", "8080"),
		PGURL:            getEnv("DATABASE_URL", "postgres://localhost/photoshopai?sslmode=disable"),
		Redis:            getEnv("REDIS_URL", "redis://localhost:6379"),
		AsynqConcurrency: getEnvInt("ASYNQ_CONCURRENCY", 8),

		SupabaseJWTSecret: getEnv("SUPABASE_JWT_SECRET", ""),
		SupabaseURL:       strings.TrimSuffix(strings.TrimSpace(trimQuotes(getEnv("SUPABASE_URL", ""))), "/"),

		ReplicateToken: getEnv("REPLICATE_API_TOKEN", ""),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		PriceSmall:          getEnv("STRIPE_PRICE_SMALL", ""),
		PriceLarge:          getEnv("STRIPE_PRICE_LARGE", ""),
		PackSmallCredits:    getEnvInt("PACK_SMALL_CREDITS", 20),
		PackLargeCredits:    getEnvInt("PACK_LARGE_CREDITS", 100),
		CheckoutSuccessURL:  getEnv("CHECKOUT_SUCCESS_URL", "http://localhost:3000/credits?status=success"),
		CheckoutCancelURL:   getEnv("CHECKOUT_CANCEL_URL", "http://localhost:3000/credits?status=cancelled"),

		S3Endpoint:  s3Endpoint(),
		S3Region:    getEnv("S3_REGION", getEnv("CLOUDFLARE_R2_REGION", "auto")),
		S3Bucket:    getEnv("S3_BUCKET", getEnv("CLOUDFLARE_R2_BUCKET_NAME", "photoshopai")),
		S3AccessKey: getEnv("S3_ACCESS_KEY", getEnv("CLOUDFLARE_R2_ACCESS_KEY_ID", "")),
		S3SecretKey: getEnv("S3_SECRET_KEY", getEnv("CLOUDFLARE_R2_SECRET_ACCESS_KEY", "")),
		S3UseSSL:    getEnvBool("S3_USE_SSL", true),
		S3PublicURL: strings.TrimSuffix(getEnv("S3_PUBLIC_URL", getEnv("CLOUDFLARE_R2_PUBLIC_URL", "")), "/"),

		ModelEdit:      getEnv("GEMINI_MODEL_EDIT", "gemini-2.5-flash-image"),
		ModelGhibli:    getEnv("GEMINI_MODEL_GHIBLI", "gemini-2.5-flash-image"),
		ModelRoom:      getEnv("GEMINI_MODEL_ROOM", "gemini-2.5-flash-image"),
		ModelThumbnail: getEnv("GEMINI_MODEL_THUMBNAIL", "gemini-2.5-flash-image"),
		ModelHeadshot:  getEnv("REPLICATE_MODEL_HEADSHOT", "flux-kontext-apps/professional-headshot"),
		ModelRemoveBg:  getEnv("REPLICATE_MODEL_REMOVE_BG", "bria/remove-background"),
		ModelUpscale:   getEnv("REPLICATE_MODEL_UPSCALE", "nightmareai/real-esrgan"),
		ModelRestore:   getEnv("REPLICATE_MODEL_RESTORE", "flux-kontext-apps/restore-image"),
		ModelVideo:     getEnv("REPLICATE_MODEL_VIDEO", "kwaivgi/kling-v2.5-turbo-pro"),

		FreeCredits: getEnvInt("FREE_CREDITS", 5),
		CostImage:   getEnvInt("CREDIT_COST_IMAGE", 1),
		CostVideo:   getEnvInt("CREDIT_COST_VIDEO", 5),

		MaxImageEdge: getEnvInt("MAX_IMAGE_EDGE", 2048),

		CORSOrigins: strings.TrimSpace(getEnv("CORS_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000")),
	}
}

func getEnv(k, defaultV string) string {
	if v := os.Getenv(k); v != "" {
		return strings.TrimSpace(v)
	}
	return defaultV
}

// s3Endpoint returns S3_ENDPOINT or CLOUDFLARE_R2_ENDPOINT, with scheme stripped for AWS SDK.
func s3Endpoint() string {
	raw := getEnv("S3_ENDPOINT", getEnv("CLOUDFLARE_R2_ENDPOINT", ""))
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "https://")
	raw = strings.TrimPrefix(raw, "http://")
	return raw
}

func trimQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}

func getEnvInt(k string, defaultV int) int {
	if v := os.Getenv(k); v != "" {
		n, _ := strconv.Atoi(v)
		return n
	}
	return defaultV
}

func getEnvBool(k string, defaultV bool) bool {
	if v := os.Getenv(k); v != "" {
		return v == "1" || v == "true" || v == "yes"
	}
	return defaultV
}
