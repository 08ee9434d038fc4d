// Package main provides the create Lambda. It forwards {inputs, options}
// to the Hugging Face inference API and returns the generated image as a
// data URI.
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
	svc := lambdaboot.InitService("create-lambda", time.Now())

	h, err := lambdaapi.NewHandler(lambdaapi.OperationCreate, svc.Proxy, lambdaapi.Options{
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
