package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/quillwriter/syncengine/internal/config"
	"github.com/quillwriter/syncengine/internal/syncengine"
)

// newAdminServer exposes the same read/act surface an operator CLI drives
// (cmd/syncctl): outbox contents, dead letters with retry/clear, breaker
// state, and the persistence mode switch (§4.L, §4.G, §4.N).
func newAdminServer(addr string, eng *syncengine.Engine) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/outbox", withJSON(func(w http.ResponseWriter, r *http.Request) any {
		return eng.Outbox.List()
	}))
	mux.HandleFunc("/deadletters", handleDeadLetters(eng))
	mux.HandleFunc("/deadletters/", handleDeadLetterByID(eng))
	mux.HandleFunc("/breaker", withJSON(func(w http.ResponseWriter, r *http.Request) any {
		return map[string]string{"state": eng.Breaker.State().String()}
	}))
	mux.HandleFunc("/stats", withJSON(func(w http.ResponseWriter, r *http.Request) any {
		return eng.Stats.Snapshot()
	}))
	mux.HandleFunc("/mode", handleMode(eng))

	return &http.Server{Addr: addr, Handler: mux}
}

func withJSON(fn func(w http.ResponseWriter, r *http.Request) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(fn(w, r))
	}
}

func handleDeadLetters(eng *syncengine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, eng.DeadQueue.List())
		case http.MethodDelete:
			eng.DeadQueue.Clear()
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func handleDeadLetterByID(eng *syncengine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/deadletters/"), "/retry")
		if id == "" {
			http.Error(w, "missing id", http.StatusBadRequest)
			return
		}
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/retry"):
			newID, err := eng.Manager.RetryDeadLetter(id)
			if err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			writeJSON(w, map[string]string{"outbox_id": newID})
		case r.Method == http.MethodDelete:
			if err := eng.DeadQueue.Remove(id); err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func handleMode(eng *syncengine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, map[string]string{"mode": string(eng.Mode())})
		case http.MethodPost:
			var body struct {
				Mode string `json:"mode"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			mode, ok := config.ParseMode(body.Mode)
			if !ok {
				http.Error(w, "invalid mode", http.StatusBadRequest)
				return
			}
			eng.SetMode(mode)
			writeJSON(w, map[string]string{"mode": string(mode)})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
