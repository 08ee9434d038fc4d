package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/imagemint/internal/logging"
)

// DefaultNFTStorageURL is the nft.storage API base URL.
const DefaultNFTStorageURL = "https://api.nft.storage"

// NFTStorage stores assets through the nft.storage /store endpoint. The
// image and a metadata document referencing it are pinned on IPFS; the
// returned locator is the metadata document's ipfs:// URL.
type NFTStorage struct {
	httpClient *http.Client
	token      string
	baseURL    string
}

// NewNFTStorage creates an nft.storage client. baseURL defaults to
// DefaultNFTStorageURL and httpClient to http.DefaultClient.
func NewNFTStorage(token, baseURL string, httpClient *http.Client) *NFTStorage {
	if baseURL == "" {
		baseURL = DefaultNFTStorageURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &NFTStorage{
		httpClient: httpClient,
		token:      token,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// --- API response types ---

type storeResponse struct {
	OK    bool        `json:"ok"`
	Value *storeValue `json:"value,omitempty"`
	Error *apiErr     `json:"error,omitempty"`
}

type storeValue struct {
	IPNFT string `json:"ipnft"`
	URL   string `json:"url"`
}

type apiErr struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Store uploads asset and returns the ipfs:// URL of its metadata document.
func (s *NFTStorage) Store(ctx context.Context, asset Asset) (string, error) {
	body, contentType, err := encodeStoreForm(asset)
	if err != nil {
		return "", fmt.Errorf("encode store form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/store", body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+s.token)

	log.Debug().
		Str("name", asset.Name).
		Str("mimeType", asset.MIMEType).
		Int("imageBytes", len(asset.Data)).
		Msg("nft.storage store request")

	startTime := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	log.Debug().
		Int("statusCode", resp.StatusCode).
		Dur("duration", time.Since(startTime)).
		Msg("nft.storage store response")

	var sr storeResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return "", fmt.Errorf("parse response (status %d): %w (body: %s)", resp.StatusCode, err, logging.Truncate(string(respBody), 200))
	}

	if !sr.OK || resp.StatusCode < 200 || resp.StatusCode > 299 {
		if sr.Error != nil {
			return "", fmt.Errorf("nft.storage error (status %d): %s: %s", resp.StatusCode, sr.Error.Name, sr.Error.Message)
		}
		return "", fmt.Errorf("nft.storage error (status %d): %s", resp.StatusCode, logging.Truncate(string(respBody), 200))
	}

	if sr.Value == nil || sr.Value.URL == "" {
		return "", fmt.Errorf("unexpected response: no url returned (body: %s)", logging.Truncate(string(respBody), 200))
	}

	log.Info().Str("ipnft", sr.Value.IPNFT).Str("url", sr.Value.URL).Msg("Asset stored on nft.storage")
	return sr.Value.URL, nil
}

// encodeStoreForm builds the multipart body nft.storage expects: a "meta"
// JSON field with file-valued properties set to null, plus one file part per
// nulled property keyed by its property path.
func encodeStoreForm(asset Asset) (io.Reader, string, error) {
	meta := map[string]any{
		"name":        asset.Name,
		"description": asset.Description,
		"image":       nil,
		"properties":  properties(asset),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, "", err
	}

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	if err := w.WriteField("meta", string(metaJSON)); err != nil {
		return nil, "", err
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, "image"+asset.Extension()))
	h.Set("Content-Type", asset.MIMEType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(asset.Data); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}
