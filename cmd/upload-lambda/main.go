// Package main provides the upload Lambda. It decodes a data URI image and
// stores it, with its name and description, on NFT.storage (or S3 when
// STORAGE_BACKEND=s3).
//
// The function is mounted on a single API Gateway HTTP API route and
// answers CORS preflight itself.
package main

import (
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/imagemint/internal/lambdaapi"
	"github.com/fpang/imagemint/internal/lambdaboot"
)

var handler *lambdaapi.Handler

func init() {
	svc := lambdaboot.InitService("upload-lambda", time.Now())

	h, err := lambdaapi.NewHandler(lambdaapi.OperationUpload, svc.Proxy, lambdaapi.Options{
		AllowedOrigin: svc.Config.AllowedOrigin,
		MaxBodyBytes:  svc.Config.MaxBodyBytes,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create handler")
	}
	handler = h
}

func main() {
	lambda.Start(handler.Handle)
}
