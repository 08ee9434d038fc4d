package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// projectTag is the URL-encoded S3 object tagging string for cost allocation.
const projectTag = "Project=imagemint"

// PutObjectAPI is the subset of *s3.Client used by S3Store.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store writes assets to an S3 bucket under content-derived keys:
//
//	<image digest>/image<ext>       the image
//	<doc digest>/metadata.json      {name, description, image: s3://bucket/<image digest>/image<ext>}
//
// Both digests are SHA-256: the image digest over the image bytes, the doc
// digest over the marshaled metadata document. The returned locator is
// s3://<bucket>/<doc digest>/metadata.json, so the same image stored with
// different metadata gets a new locator while the image object is shared.
// Name and description live only in metadata.json; S3 user metadata must be
// US-ASCII header values.
type S3Store struct {
	client PutObjectAPI
	bucket string
}

// NewS3Store creates an S3-backed store.
func NewS3Store(client PutObjectAPI, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

// Store uploads the image, then its metadata document.
func (s *S3Store) Store(ctx context.Context, asset Asset) (string, error) {
	sum := sha256.Sum256(asset.Data)
	digest := hex.EncodeToString(sum[:])

	imageKey := digest + "/image" + asset.Extension()

	doc, err := json.Marshal(Metadata{
		Name:        asset.Name,
		Description: asset.Description,
		Image:       s.locator(imageKey),
		Properties:  properties(asset),
	})
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	docSum := sha256.Sum256(doc)
	metaKey := hex.EncodeToString(docSum[:]) + "/metadata.json"

	objectMeta := map[string]string{}
	if w, h, ok := asset.Dimensions(); ok {
		objectMeta["width"] = strconv.Itoa(w)
		objectMeta["height"] = strconv.Itoa(h)
	}

	log.Debug().
		Str("bucket", s.bucket).
		Str("key", imageKey).
		Int("imageBytes", len(asset.Data)).
		Msg("Uploading image to S3")

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(imageKey),
		Body:        bytes.NewReader(asset.Data),
		ContentType: aws.String(asset.MIMEType),
		Metadata:    objectMeta,
		Tagging:     aws.String(projectTag),
	})
	if err != nil {
		return "", fmt.Errorf("S3 PutObject %s: %w", imageKey, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(metaKey),
		Body:        bytes.NewReader(doc),
		ContentType: aws.String("application/json"),
		Tagging:     aws.String(projectTag),
	})
	if err != nil {
		return "", fmt.Errorf("S3 PutObject %s: %w", metaKey, err)
	}

	url := s.locator(metaKey)
	log.Info().Str("url", url).Msg("Asset stored on S3")
	return url, nil
}

func (s *S3Store) locator(key string) string {
	return "s3://" + s.bucket + "/" + key
}
