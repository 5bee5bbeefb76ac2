package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Media-stream bridge tuning. TrailingSpeechDelay covers the agent's
	// spoken confirmation after an outcome is detected; PostQuietGraceDelay
	// only applies under the quiet-poll termination policy.
	TrailingSpeechDelay time.Duration
	PostQuietGraceDelay time.Duration
	TerminationPolicy   string
	OutcomeStrategy     string
	CallContextTTL      time.Duration
	MaxCallDuration     time.Duration

	// Voice agent (ElevenLabs conversational AI).
	AgentBaseURL       string
	AgentID            string
	AgentAPIKey        string
	AgentWebhookSecret string
	WebhookMaxSkew     time.Duration

	// Telephony provider (Twilio).
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioBaseURL    string

	NurseJWTSecret string

	CORSAllowedOrigins []string

	// RateLimitPerSecond <= 0 disables per-IP rate limiting on the nurse API.
	RateLimitPerSecond float64
	RateLimitBurst     int

	UseMemoryQueue bool
	WorkerCount    int
	CallQueueURL   string
	CallJobsTable  string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	TranscriptBucket    string

	BedrockModelID string
	GeminiAPIKey   string
	GeminiModelID  string

	// Email Configuration
	EmailProvider    string
	SendGridAPIKey   string
	EmailFromAddress string
	EmailFromName    string
	NurseAlertEmail  string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		TrailingSpeechDelay: getEnvAsDuration("TRAILING_SPEECH_DELAY", 5500*time.Millisecond),
		PostQuietGraceDelay: getEnvAsDuration("POST_QUIET_GRACE_DELAY", time.Second),
		TerminationPolicy:   strings.ToLower(strings.TrimSpace(getEnv("TERMINATION_POLICY", "fixed-delay"))),
		OutcomeStrategy:     strings.ToLower(strings.TrimSpace(getEnv("OUTCOME_STRATEGY", "lenient"))),
		CallContextTTL:      getEnvAsDuration("CALL_CONTEXT_TTL", 30*time.Minute),
		MaxCallDuration:     getEnvAsDuration("MAX_CALL_DURATION", 10*time.Minute),

		AgentBaseURL:       getEnv("AGENT_BASE_URL", "wss://api.elevenlabs.io"),
		AgentID:            getEnv("AGENT_ID", ""),
		AgentAPIKey:        getEnv("AGENT_API_KEY", ""),
		AgentWebhookSecret: getEnv("AGENT_WEBHOOK_SECRET", ""),
		WebhookMaxSkew:     getEnvAsDuration("WEBHOOK_MAX_SKEW", 5*time.Minute),

		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: getEnv("TWILIO_FROM_NUMBER", ""),
		TwilioBaseURL:    getEnv("TWILIO_BASE_URL", ""),

		NurseJWTSecret: getEnv("NURSE_JWT_SECRET", ""),

		CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", nil),

		RateLimitPerSecond: getEnvAsFloat("RATE_LIMIT_PER_SECOND", 25),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 50),

		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		CallQueueURL:   getEnv("CALL_QUEUE_URL", ""),
		CallJobsTable:  getEnv("CALL_JOBS_TABLE", "call_jobs"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		TranscriptBucket:    getEnv("TRANSCRIPT_BUCKET", ""),

		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:  getEnv("GEMINI_MODEL_ID", ""),

		// Email Configuration
		EmailProvider:    strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "sendgrid"))),
		SendGridAPIKey:   getEnv("SENDGRID_API_KEY", ""),
		EmailFromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
		EmailFromName:    getEnv("EMAIL_FROM_NAME", "Nurse Line"),
		NurseAlertEmail:  getEnv("NURSE_ALERT_EMAIL", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsFloat retrieves an environment variable as a float or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsSlice splits a comma-separated environment variable, trimming blanks
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
