// Package main runs imagemint as a standalone HTTP server.
//
// Endpoints:
//
//	POST /create   generate an image from {inputs, options}
//	POST /upload   store a data URI image with its name and description
//	GET  /health   liveness check
//
// Settings come from the environment, an optional .env file and an optional
// config file; see internal/config.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/imagemint/internal/config"
	"github.com/fpang/imagemint/internal/httpapi"
	"github.com/fpang/imagemint/internal/imageproxy"
	"github.com/fpang/imagemint/internal/lambdaboot"
	"github.com/fpang/imagemint/internal/logging"
	"github.com/fpang/imagemint/internal/metrics"
	"github.com/fpang/imagemint/internal/storage"
)

// CLI flags
var (
	portFlag       int
	configFlag     string
	envFileFlag    []string
	gzipFlag       bool
	emitEMFFlag    bool
	shutdownPeriod time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "imagemint-server",
	Short: "Image generation and upload proxy",
	Long: `imagemint-server proxies text-to-image generation to the Hugging Face
inference API and uploads data URI images to NFT.storage (or S3), keeping
API keys on the server.

Examples:
  imagemint-server
  imagemint-server --port 8080
  imagemint-server --config imagemint.yaml --env-file .env.local`,
	RunE:         runMain,
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().IntVarP(&portFlag, "port", "p", 0, "Port to listen on (default: PORT or 3001)")
	rootCmd.Flags().StringVarP(&configFlag, "config", "c", "", "Optional config file (yaml, json or toml)")
	rootCmd.Flags().StringSliceVar(&envFileFlag, "env-file", []string{".env"}, ".env files to load; missing files are ignored")
	rootCmd.Flags().BoolVar(&gzipFlag, "gzip", true, "Compress responses")
	rootCmd.Flags().BoolVar(&emitEMFFlag, "emf", false, "Write CloudWatch EMF metrics to stdout")
	rootCmd.Flags().DurationVar(&shutdownPeriod, "shutdown-timeout", 10*time.Second, "Grace period for in-flight requests on shutdown")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) error {
	initStart := time.Now()

	if err := config.LoadDotEnv(envFileFlag...); err != nil {
		return err
	}
	logging.Init()
	if !emitEMFFlag {
		metrics.SetOutput(nil)
	}

	cfg, err := config.Load(config.Options{ConfigFile: configFlag})
	if err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = portFlag
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	var s3Client storage.PutObjectAPI
	if cfg.UsesS3() {
		s3Client = lambdaboot.InitS3(lambdaboot.InitAWS().Config)
	}
	store, err := cfg.NewStore(s3Client)
	if err != nil {
		return err
	}
	svc := imageproxy.NewService(cfg.NewInferenceClient(), store)

	var handler http.Handler = httpapi.NewHandler(svc, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		MaxBodyBytes:  cfg.MaxBodyBytes,
	})
	if gzipFlag {
		handler = gzhttp.GzipHandler(handler)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      cfg.UpstreamTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	startup := logging.NewStartupLogger("imagemint-server").
		CommitHash(commitHash).
		BuildTime(buildTime).
		Upstream("inference", cfg.InferenceURL).
		Feature("gzip", gzipFlag).
		Feature("emf", emitEMFFlag).
		Config("port", fmt.Sprint(cfg.Port)).
		Config("storageBackend", cfg.StorageBackend).
		Config("allowedOrigin", cfg.AllowedOrigin).
		Config("upstreamTimeout", cfg.UpstreamTimeout.String()).
		InitDuration(time.Since(initStart))
	if cfg.UsesS3() {
		startup.S3Bucket("media", cfg.MediaBucket)
	} else {
		startup.Upstream("storage", cfg.NFTStorageURL)
	}
	startup.Log()

	// Graceful shutdown
	idle := make(chan struct{})
	go func() {
		defer close(idle)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownPeriod)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Shutdown did not complete cleanly")
		}
	}()

	log.Info().Msgf("Server running at http://%s:%d/", serverIP(), cfg.Port)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Server failed")
		return err
	}
	<-idle
	return nil
}

// serverIP returns the first non-loopback IPv4 address, or localhost.
func serverIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		log.Debug().Err(err).Msg("Could not list interface addresses")
		return "localhost"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "localhost"
}
