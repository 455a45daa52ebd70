// Package handlers implements the ops HTTP API: message intake, offline
// queue administration, status lookups and the draft listing.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

var (
	errArchiveDisabled = errors.New("archive is not configured")
	errArchiveFetch    = errors.New("failed to fetch archived batch")
	errUnreadableBody  = errors.New("failed to read request body")
	errBatchTooLarge   = errors.New("batch too large")
)
