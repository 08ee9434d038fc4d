// Package lambdaboot provides shared Lambda cold-start bootstrap logic.
//
// Every imagemint Lambda needs some subset of: AWS config, SSM secret fetch,
// an S3 client for the s3 storage backend, and startup logging. This package
// keeps each Lambda's init() a short composition of helpers.
package lambdaboot

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/imagemint/internal/config"
	"github.com/fpang/imagemint/internal/imageproxy"
	"github.com/fpang/imagemint/internal/logging"
	"github.com/fpang/imagemint/internal/storage"
)

// Secret describes an API key that may come from the environment or from
// SSM Parameter Store.
type Secret struct {
	// EnvVar is checked first, then Aliases.
	EnvVar  string
	Aliases []string
	// ParamEnvVar overrides DefaultParam with a custom SSM path.
	ParamEnvVar  string
	DefaultParam string
}

// Secrets used by the imagemint Lambdas.
var (
	HuggingFaceKey = Secret{
		EnvVar:       "HUGGING_FACE_API_KEY",
		Aliases:      []string{"REACT_APP_HUGGING_FACE_API_KEY"},
		ParamEnvVar:  "SSM_HUGGING_FACE_KEY_PARAM",
		DefaultParam: "/imagemint/prod/hugging-face-api-key",
	}
	NFTStorageKey = Secret{
		EnvVar:       "NFT_STORAGE_API_KEY",
		Aliases:      []string{"REACT_APP_NFT_STORAGE_API_KEY"},
		ParamEnvVar:  "SSM_NFT_STORAGE_KEY_PARAM",
		DefaultParam: "/imagemint/prod/nft-storage-api-key",
	}
)

// ParamName returns the SSM path for the secret.
func (s Secret) ParamName() string {
	return logging.EnvOrDefault(s.ParamEnvVar, s.DefaultParam)
}

// present reports whether the secret is already in the environment.
func (s Secret) present() bool {
	for _, name := range append([]string{s.EnvVar}, s.Aliases...) {
		if os.Getenv(name) != "" {
			return true
		}
	}
	return false
}

// GetParameterAPI is the SSM call used for secrets.
type GetParameterAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// AWSClients holds the core AWS SDK clients used across Lambdas.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitS3 creates an S3 client for the s3 storage backend.
func InitS3(cfg aws.Config) *s3.Client {
	return s3.NewFromConfig(cfg)
}

// LoadSecret fetches the secret from SSM Parameter Store into its
// environment variable unless it is already set.
func LoadSecret(ctx context.Context, client GetParameterAPI, secret Secret) error {
	if secret.present() {
		return nil
	}
	paramName := secret.ParamName()
	ssmStart := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to read %s from SSM parameter %s: %w", secret.EnvVar, paramName, err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil || *result.Parameter.Value == "" {
		return fmt.Errorf("SSM parameter %s is empty", paramName)
	}
	os.Setenv(secret.EnvVar, *result.Parameter.Value)
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(ssmStart)).Msg("Secret loaded from SSM")
	return nil
}

// Service is the fully wired proxy for a Lambda together with the config it
// was built from.
type Service struct {
	Config *config.Config
	Proxy  *imageproxy.Service
}

// InitService resolves secrets, loads config and builds the proxy service.
// Only the secrets the configured storage backend needs are fetched. Fatals
// on any error.
func InitService(name string, initStart time.Time) Service {
	logging.Init()
	clients := InitAWS()
	ctx := context.Background()

	log.Debug().Str("lambda", name).Msg("Resolving secrets")
	if err := LoadSecret(ctx, clients.SSM, HuggingFaceKey); err != nil {
		log.Fatal().Err(err).Msg("Failed to load Hugging Face API key")
	}
	if strings.ToLower(logging.EnvOrDefault("STORAGE_BACKEND", config.BackendNFTStorage)) == config.BackendNFTStorage {
		if err := LoadSecret(ctx, clients.SSM, NFTStorageKey); err != nil {
			log.Fatal().Err(err).Msg("Failed to load NFT.storage API key")
		}
	}

	cfg, err := config.Load(config.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	var s3Client storage.PutObjectAPI
	if cfg.UsesS3() {
		s3Client = InitS3(clients.Config)
	}
	store, err := cfg.NewStore(s3Client)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create storage backend")
	}

	startup := StartupLog(name, initStart).
		Upstream("inference", cfg.InferenceURL).
		SSMParam("huggingFaceKey", HuggingFaceKey.ParamName()).
		Config("storageBackend", cfg.StorageBackend).
		Config("upstreamTimeout", cfg.UpstreamTimeout.String()).
		Config("maxBodyBytes", fmt.Sprint(cfg.MaxBodyBytes))
	if cfg.UsesS3() {
		startup.S3Bucket("media", cfg.MediaBucket)
	} else {
		startup.Upstream("storage", cfg.NFTStorageURL).
			SSMParam("nftStorageKey", NFTStorageKey.ParamName())
	}
	startup.Log()

	return Service{
		Config: cfg,
		Proxy:  imageproxy.NewService(cfg.NewInferenceClient(), store),
	}
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
