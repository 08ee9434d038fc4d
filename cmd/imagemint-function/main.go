// Package main provides a Lambda entry point serving both proxy operations
// behind one API Gateway HTTP API (payload v2) integration.
//
// The routed handler from internal/httpapi is reused unchanged through
// httpadapter, so routes, CORS and error bodies match the standalone server.
//
// API keys are read from the environment or, when absent, from SSM
// Parameter Store at cold start:
//   - /imagemint/prod/hugging-face-api-key
//   - /imagemint/prod/nft-storage-api-key
package main

import (
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"

	"github.com/fpang/imagemint/internal/httpapi"
	"github.com/fpang/imagemint/internal/lambdaboot"
)

var adapter *httpadapter.HandlerAdapterV2

func init() {
	svc := lambdaboot.InitService("imagemint-function", time.Now())
	adapter = httpadapter.NewV2(httpapi.NewHandler(svc.Proxy, httpapi.Options{
		AllowedOrigin: svc.Config.AllowedOrigin,
		MaxBodyBytes:  svc.Config.MaxBodyBytes,
	}))
}

func main() {
	lambda.Start(adapter.ProxyWithContext)
}
