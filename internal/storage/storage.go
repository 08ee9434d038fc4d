// Package storage submits images to content-addressed storage backends and
// returns the locator each backend assigns.
//
// Two backends are provided: NFTStorage (the nft.storage /store API, which
// pins the image and an ERC-1155 style metadata document on IPFS) and
// S3Store, which writes the same shape of metadata document to an S3 bucket
// under a key derived from the image's SHA-256 digest.
package storage

import (
	"bytes"
	"context"
	"image"
	"mime"
	"strings"

	// Decoders for Dimensions.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Asset is the unit handed to a Store: an image plus the descriptive
// metadata that travels with it.
type Asset struct {
	Name        string
	Description string
	MIMEType    string
	Data        []byte
}

// Store persists an Asset and returns its locator URL (e.g. ipfs://<cid>/metadata.json).
type Store interface {
	Store(ctx context.Context, asset Asset) (string, error)
}

// Metadata is the JSON document stored next to the image.
type Metadata struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Image       string              `json:"image"`
	Properties  *MetadataProperties `json:"properties,omitempty"`
}

// MetadataProperties carries optional image facts.
type MetadataProperties struct {
	MIMEType string `json:"mimeType,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// Dimensions returns the pixel size of the image if its format is one of the
// registered decoders (png, jpeg, gif, bmp, tiff, webp).
func (a Asset) Dimensions() (width, height int, ok bool) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(a.Data))
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}

// Extension returns a file extension (with dot) for the asset's MIME type.
func (a Asset) Extension() string {
	switch a.MIMEType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/svg+xml":
		return ".svg"
	}
	if exts, err := mime.ExtensionsByType(a.MIMEType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	if _, sub, found := strings.Cut(a.MIMEType, "/"); found && sub != "" {
		return "." + strings.TrimPrefix(sub, "x-")
	}
	return ".bin"
}

// properties builds the optional properties block for asset.
func properties(asset Asset) *MetadataProperties {
	props := &MetadataProperties{MIMEType: asset.MIMEType}
	if w, h, ok := asset.Dimensions(); ok {
		props.Width = w
		props.Height = h
	}
	return props
}
