package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fpang/imagemint/internal/imageproxy"
)

// --- JSON Helpers ---

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Int("status", status).Msg("Failed to write JSON response")
	}
}

// httpError sends a JSON error response. Only clientMsg reaches the caller.
func httpError(w http.ResponseWriter, status int, clientMsg string) {
	respondJSON(w, status, imageproxy.ErrorReply{Error: clientMsg})
}

func respondReply(w http.ResponseWriter, reply imageproxy.Reply) {
	respondJSON(w, reply.Status, reply.Body)
}
