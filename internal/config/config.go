// Package config resolves runtime settings for every imagemint entry point.
//
// Values come from, in order of precedence: environment variables (including
// anything loaded from .env files by LoadDotEnv), an optional config file,
// and built-in defaults. Secrets are validated here so no upstream is ever
// called with an empty credential.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/fpang/imagemint/internal/inference"
	"github.com/fpang/imagemint/internal/storage"
)

// Storage backends.
const (
	BackendNFTStorage = "nftstorage"
	BackendS3         = "s3"
)

// Defaults.
const (
	DefaultPort            = 3001
	DefaultUpstreamTimeout = 2 * time.Minute
	DefaultMaxBodyBytes    = 25 << 20
	DefaultAllowedOrigin   = "*"
)

// Config keys. Each is bound to the upper-case environment variable of the
// same name.
const (
	keyHuggingFaceAPIKey = "hugging_face_api_key"
	keyNFTStorageAPIKey  = "nft_storage_api_key"
	keyInferenceURL      = "inference_url"
	keyNFTStorageURL     = "nft_storage_url"
	keyStorageBackend    = "storage_backend"
	keyMediaBucket       = "media_bucket_name"
	keyUpstreamTimeout   = "upstream_timeout"
	keyMaxBodyBytes      = "max_body_bytes"
	keyAllowedOrigin     = "allowed_origin"
	keyPort              = "port"
)

// legacyEnv maps keys to the environment names used by the original web
// frontend build.
var legacyEnv = map[string]string{
	keyHuggingFaceAPIKey: "REACT_APP_HUGGING_FACE_API_KEY",
	keyNFTStorageAPIKey:  "REACT_APP_NFT_STORAGE_API_KEY",
}

// Config holds all settings for the application.
type Config struct {
	HuggingFaceAPIKey string
	NFTStorageAPIKey  string
	InferenceURL      string
	NFTStorageURL     string
	StorageBackend    string
	MediaBucket       string
	UpstreamTimeout   time.Duration
	MaxBodyBytes      int64
	AllowedOrigin     string
	Port              int
}

// Options controls where Load looks for settings.
type Options struct {
	// ConfigFile is an optional YAML/JSON/TOML file. Empty means none.
	ConfigFile string
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
// With no arguments it loads ".env" from the working directory.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("error loading %s: %w", f, err)
		}
	}
	return nil
}

// Load resolves and validates the configuration.
func Load(opts Options) (*Config, error) {
	v := viper.New()

	v.SetDefault(keyInferenceURL, inference.DefaultURL)
	v.SetDefault(keyNFTStorageURL, storage.DefaultNFTStorageURL)
	v.SetDefault(keyStorageBackend, BackendNFTStorage)
	v.SetDefault(keyUpstreamTimeout, DefaultUpstreamTimeout.String())
	v.SetDefault(keyMaxBodyBytes, DefaultMaxBodyBytes)
	v.SetDefault(keyAllowedOrigin, DefaultAllowedOrigin)
	v.SetDefault(keyPort, DefaultPort)

	for _, key := range []string{
		keyHuggingFaceAPIKey, keyNFTStorageAPIKey, keyInferenceURL, keyNFTStorageURL,
		keyStorageBackend, keyMediaBucket, keyUpstreamTimeout, keyMaxBodyBytes,
		keyAllowedOrigin, keyPort,
	} {
		names := []string{key, strings.ToUpper(key)}
		if legacy, ok := legacyEnv[key]; ok {
			names = append(names, legacy)
		}
		if err := v.BindEnv(names...); err != nil {
			return nil, fmt.Errorf("error binding %s: %w", key, err)
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	timeout, err := parseTimeout(v.GetString(keyUpstreamTimeout))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HuggingFaceAPIKey: strings.TrimSpace(v.GetString(keyHuggingFaceAPIKey)),
		NFTStorageAPIKey:  strings.TrimSpace(v.GetString(keyNFTStorageAPIKey)),
		InferenceURL:      v.GetString(keyInferenceURL),
		NFTStorageURL:     v.GetString(keyNFTStorageURL),
		StorageBackend:    strings.ToLower(v.GetString(keyStorageBackend)),
		MediaBucket:       v.GetString(keyMediaBucket),
		UpstreamTimeout:   timeout,
		MaxBodyBytes:      v.GetInt64(keyMaxBodyBytes),
		AllowedOrigin:     v.GetString(keyAllowedOrigin),
		Port:              v.GetInt(keyPort),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseTimeout reads a Go duration string such as "90s" or "2m". A bare
// number has no unit and is rejected instead of being read as nanoseconds.
func parseTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("UPSTREAM_TIMEOUT must be a duration with a unit such as 90s or 2m, got %q", raw)
	}
	return d, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.HuggingFaceAPIKey == "" {
		return errors.New("HUGGING_FACE_API_KEY is required")
	}
	switch c.StorageBackend {
	case BackendNFTStorage:
		if c.NFTStorageAPIKey == "" {
			return errors.New("NFT_STORAGE_API_KEY is required")
		}
	case BackendS3:
		if c.MediaBucket == "" {
			return errors.New("MEDIA_BUCKET_NAME is required when STORAGE_BACKEND=s3")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q (want %s or %s)", c.StorageBackend, BackendNFTStorage, BackendS3)
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive, got %s", c.UpstreamTimeout)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("MAX_BODY_BYTES must be positive, got %d", c.MaxBodyBytes)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	return nil
}

// HTTPClient returns the client used for outbound upstream calls.
func (c *Config) HTTPClient() *http.Client {
	return &http.Client{Timeout: c.UpstreamTimeout}
}

// NewInferenceClient builds the inference API client.
func (c *Config) NewInferenceClient() *inference.Client {
	return inference.NewClient(inference.Config{
		APIKey:     c.HuggingFaceAPIKey,
		URL:        c.InferenceURL,
		HTTPClient: c.HTTPClient(),
	})
}

// NewStore builds the configured storage backend. s3Client is only used,
// and then required, when StorageBackend is s3.
func (c *Config) NewStore(s3Client storage.PutObjectAPI) (storage.Store, error) {
	switch c.StorageBackend {
	case BackendS3:
		if s3Client == nil {
			return nil, errors.New("s3 storage backend requires an S3 client")
		}
		return storage.NewS3Store(s3Client, c.MediaBucket), nil
	case BackendNFTStorage:
		return storage.NewNFTStorage(c.NFTStorageAPIKey, c.NFTStorageURL, c.HTTPClient()), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
}

// UsesS3 reports whether the S3 backend is selected.
func (c *Config) UsesS3() bool {
	return c.StorageBackend == BackendS3
}
