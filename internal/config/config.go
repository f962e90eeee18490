// Package config reads the service configuration from the environment and
// resolves secrets through the parameter store.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"dreamr/internal/integrations/paramstore"
)

const (
	StoreDynamoDB = "dynamodb"
	StoreMemory   = "memory"
)

type Config struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
	LogLevel        string
	LogFormat       string

	StoreDriver string
	StateTable  string
	ParamPrefix string

	ArtifactBucket string
	PublicBaseURL  string
	PresignExpiry  time.Duration

	TwilioAccountSID        string
	TwilioPhoneNumber       string
	TwilioValidateSignature bool
	WebhookBaseURL          string
	SMSRatePerSecond        float64
	SMSBurst                int

	BFLModel string

	GCPRegion string
	VeoModel  string
	VeoBucket string

	ProceedTokens []string
	EditTokens    []string

	EditPollAttempts  int
	VideoPollAttempts int
	VideoPollInterval time.Duration
	TokenRefreshEvery int

	Secrets Secrets
}

// Secrets are resolved after Load, env first and SSM second.
type Secrets struct {
	TwilioAuthToken   string
	BFLAPIKey         string
	GCPServiceAccount string
	// OpenAIAPIKey is optional; empty disables prompt moderation.
	OpenAIAPIKey string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("shutdown_timeout", 30*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("store_driver", StoreDynamoDB)
	v.SetDefault("presign_expiry", 7*24*time.Hour)
	v.SetDefault("twilio_validate_signature", false)
	v.SetDefault("sms_rate_per_second", 1.0)
	v.SetDefault("sms_burst", 5)
	v.SetDefault("bfl_model", "flux-kontext-pro")
	v.SetDefault("gcp_region", "us-central1")
	v.SetDefault("veo_model", "veo-3.0-generate-preview")
	v.SetDefault("edit_poll_attempts", 60)
	v.SetDefault("video_poll_attempts", 60)
	v.SetDefault("video_poll_interval", 30*time.Second)
	v.SetDefault("token_refresh_every", 10)
}

// Load reads non-secret settings. Keys are the upper-case environment
// variable names, e.g. STATE_TABLE for state_table.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)
	return fromReader(v)
}

func fromReader(v *viper.Viper) (Config, error) {
	cfg := Config{
		ListenAddr:      strings.TrimSpace(v.GetString("listen_addr")),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
		LogLevel:        v.GetString("log_level"),
		LogFormat:       v.GetString("log_format"),

		StoreDriver: strings.ToLower(strings.TrimSpace(v.GetString("store_driver"))),
		StateTable:  strings.TrimSpace(v.GetString("state_table")),
		ParamPrefix: strings.TrimSpace(v.GetString("param_prefix")),

		ArtifactBucket: strings.TrimSpace(v.GetString("artifact_bucket")),
		PublicBaseURL:  strings.TrimSpace(v.GetString("artifact_public_base_url")),
		PresignExpiry:  v.GetDuration("presign_expiry"),

		TwilioAccountSID:        strings.TrimSpace(v.GetString("twilio_account_sid")),
		TwilioPhoneNumber:       strings.TrimSpace(v.GetString("twilio_phone_number")),
		TwilioValidateSignature: v.GetBool("twilio_validate_signature"),
		WebhookBaseURL:          strings.TrimSpace(v.GetString("webhook_base_url")),
		SMSRatePerSecond:        v.GetFloat64("sms_rate_per_second"),
		SMSBurst:                v.GetInt("sms_burst"),

		BFLModel: strings.TrimSpace(v.GetString("bfl_model")),

		GCPRegion: strings.TrimSpace(v.GetString("gcp_region")),
		VeoModel:  strings.TrimSpace(v.GetString("veo_model")),
		VeoBucket: strings.TrimSpace(v.GetString("veo_bucket")),

		ProceedTokens: splitList(v.GetString("intent_proceed_tokens")),
		EditTokens:    splitList(v.GetString("intent_edit_tokens")),

		EditPollAttempts:  v.GetInt("edit_poll_attempts"),
		VideoPollAttempts: v.GetInt("video_poll_attempts"),
		VideoPollInterval: v.GetDuration("video_poll_interval"),
		TokenRefreshEvery: v.GetInt("token_refresh_every"),
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var errs []error
	switch c.StoreDriver {
	case StoreDynamoDB:
		if c.StateTable == "" {
			errs = append(errs, errors.New("STATE_TABLE is required for the dynamodb store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q is not one of dynamodb, memory", c.StoreDriver))
	}
	if c.ArtifactBucket == "" {
		errs = append(errs, errors.New("ARTIFACT_BUCKET is required"))
	}
	if c.TwilioAccountSID == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required"))
	}
	if c.TwilioPhoneNumber == "" {
		errs = append(errs, errors.New("TWILIO_PHONE_NUMBER is required"))
	}
	if c.EditPollAttempts <= 0 || c.VideoPollAttempts <= 0 {
		errs = append(errs, errors.New("poll attempts must be positive"))
	}
	if c.VideoPollInterval <= 0 {
		errs = append(errs, errors.New("VIDEO_POLL_INTERVAL must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// LoadSecrets fills c.Secrets. Each secret comes from its environment
// variable when set, else from the SSM parameter under ParamPrefix.
func (c *Config) LoadSecrets(ctx context.Context, loader *paramstore.Loader) error {
	var err error
	if c.Secrets.TwilioAuthToken, err = loader.Load(ctx, "TWILIO_AUTH_TOKEN", "/twilio-auth-token"); err != nil {
		return fmt.Errorf("config: twilio auth token: %w", err)
	}
	if c.Secrets.BFLAPIKey, err = loader.Load(ctx, "BFL_API_KEY", "/bfl-api-key"); err != nil {
		return fmt.Errorf("config: bfl api key: %w", err)
	}
	if c.Secrets.GCPServiceAccount, err = loader.Load(ctx, "GCP_SERVICE_ACCOUNT", "/gcp-service-account"); err != nil {
		return fmt.Errorf("config: gcp service account: %w", err)
	}
	if c.Secrets.OpenAIAPIKey, err = loader.LoadOptional(ctx, "OPENAI_API_KEY", "/openai-token"); err != nil {
		return fmt.Errorf("config: openai api key: %w", err)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
