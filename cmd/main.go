package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"dreamr/handler"
	"dreamr/internal/config"
	"dreamr/internal/integrations/bfl"
	"dreamr/internal/integrations/gcpauth"
	"dreamr/internal/integrations/openai"
	"dreamr/internal/integrations/paramstore"
	"dreamr/internal/integrations/twilio"
	"dreamr/internal/integrations/veo"
	"dreamr/internal/logging"
	"dreamr/internal/notifier"
	"dreamr/internal/poller"
	"dreamr/internal/repository"
	"dreamr/internal/storage"
	"dreamr/internal/usecase"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		logging.Init("info", "json")
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load AWS config")
	}

	// ---- Secrets ----
	var getter paramstore.Getter
	if cfg.ParamPrefix != "" {
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create SSM client")
		}
		getter = ssmClient
	}
	if err := cfg.LoadSecrets(ctx, paramstore.NewLoader(getter, cfg.ParamPrefix)); err != nil {
		log.Fatal().Err(err).Msg("failed to load secrets")
	}

	// ---- Clients ----
	repo := newRepository(cfg, awsCfg)

	s3Client := awss3.NewFromConfig(awsCfg)
	storeOpts := []storage.Option{storage.WithPresignExpiry(cfg.PresignExpiry)}
	if cfg.PublicBaseURL != "" {
		storeOpts = append(storeOpts, storage.WithPublicBaseURL(cfg.PublicBaseURL))
	}
	store, err := storage.New(s3Client, awss3.NewPresignClient(s3Client), cfg.ArtifactBucket, storeOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create artifact store")
	}

	twilioClient, err := twilio.NewClient(cfg.TwilioAccountSID, cfg.Secrets.TwilioAuthToken, cfg.TwilioPhoneNumber,
		twilio.WithRateLimit(cfg.SMSRatePerSecond, cfg.SMSBurst))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create Twilio client")
	}

	bflClient, err := bfl.NewClient(cfg.Secrets.BFLAPIKey, bfl.WithModel(cfg.BFLModel))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create BFL client")
	}

	account, err := gcpauth.ParseServiceAccount([]byte(cfg.Secrets.GCPServiceAccount))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid GCP service account")
	}
	tokens, err := gcpauth.New(account)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create GCP credential manager")
	}
	veoClient, err := veo.NewClient(veo.Config{
		ProjectID: tokens.ProjectID(),
		Region:    cfg.GCPRegion,
		Model:     cfg.VeoModel,
		Bucket:    cfg.VeoBucket,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create Veo client")
	}

	// ---- Workflow ----
	notify, err := notifier.New(twilioClient, repo)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create notifier")
	}

	jobs, err := usecase.NewJobRunner(usecase.JobDeps{
		Repo:     repo,
		Store:    store,
		Editor:   bflClient,
		Video:    veoClient,
		Tokens:   tokens,
		Notifier: notify,
	},
		usecase.WithEditPolling(poller.Config{
			Name:        "edit",
			MaxAttempts: cfg.EditPollAttempts,
			Backoff:     poller.DefaultAdaptive(),
		}),
		usecase.WithVideoPolling(poller.Config{
			Name:        "video",
			MaxAttempts: cfg.VideoPollAttempts,
			Backoff:     poller.Fixed{Interval: cfg.VideoPollInterval},
		}, cfg.TokenRefreshEvery),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create job runner")
	}

	serviceOpts := []usecase.ServiceOption{
		usecase.WithIntentMatcher(usecase.NewIntentMatcher(cfg.ProceedTokens, cfg.EditTokens)),
	}
	if cfg.Secrets.OpenAIAPIKey != "" {
		moderator, err := openai.NewClient(cfg.Secrets.OpenAIAPIKey)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create OpenAI client")
		}
		serviceOpts = append(serviceOpts, usecase.WithModerator(moderator))
	}
	svc, err := usecase.NewConversationService(repo, twilioClient, store, jobs, serviceOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create conversation service")
	}

	// ---- Handler ----
	var handlerOpts []handler.Option
	if cfg.TwilioValidateSignature {
		handlerOpts = append(handlerOpts, handler.WithSignatureValidation(twilioClient, cfg.WebhookBaseURL))
	}
	h, err := handler.NewHandler(svc, handlerOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create handler")
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Str("store", cfg.StoreDriver).Msg("listening")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server stopped")
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown incomplete")
	}
	if err := jobs.Registry().Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("background jobs did not stop in time")
	}
}

func newRepository(cfg config.Config, awsCfg aws.Config) repository.ReadWriter {
	if cfg.StoreDriver == config.StoreMemory {
		log.Warn().Msg("using the in-memory conversation store; state is lost on restart")
		return repository.NewMemory()
	}
	stateClient, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create state client")
	}
	return stateClient
}
