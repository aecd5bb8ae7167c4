package broker

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Termix-SSH/Termix-sub004/internal/activity"
	"github.com/Termix-SSH/Termix-sub004/internal/credstore"
)

type healthResponse struct {
	Status string `json:"status"`
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ready"})
}

// handleIssueToken mints a WebSocket auth token for a client that has already
// passed bearer auth on this route.
func handleIssueToken(tokens *TokenStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := tokens.Issue(DefaultTokenTTL)
		writeJSON(w, http.StatusOK, map[string]any{
			"token":      tok,
			"expires_in": int(DefaultTokenTTL / time.Second),
		})
	}
}

// handleRecordActivity accepts one activity entry and enqueues it.
func handleRecordActivity(rec activity.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var entry activity.Entry
		if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := entry.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rec.Record(r.Context(), entry)
		w.WriteHeader(http.StatusAccepted)
	}
}

// handlePutCredential stores a credential and returns its opaque reference.
func handlePutCredential(store *credstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Kind       string `json:"kind"`
			Secret     string `json:"secret"`
			Passphrase string `json:"passphrase,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.Kind != "password" && body.Kind != "key" {
			writeError(w, http.StatusBadRequest, "kind must be password or key")
			return
		}
		if body.Secret == "" {
			writeError(w, http.StatusBadRequest, "secret required")
			return
		}
		ref, err := store.Put(credstore.Credential{
			Kind:       body.Kind,
			Secret:     body.Secret,
			Passphrase: body.Passphrase,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"ref": ref})
	}
}

// handleDeleteCredential removes a stored credential.
func handleDeleteCredential(store *credstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store.Delete(chi.URLParam(r, "ref"))
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
