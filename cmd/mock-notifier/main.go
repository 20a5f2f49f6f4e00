package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/bazaarhq/payments/internal/logging"
	"github.com/bazaarhq/payments/internal/notify"
)

// A stand-in for the external notification delivery service: verifies the
// HMAC signature and logs the payload instead of sending email or push.
func main() {
	logging.Init("mock-notifier", "info", os.Getenv("APP_ENV"))

	secret := os.Getenv("NOTIFIER_SECRET")
	if secret == "" {
		slog.Error("NOTIFIER_SECRET is required")
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
			slog.Error("failed to write health response", "error", err)
		}
	})
	mux.HandleFunc("POST /notifications", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if !notify.VerifySignature(body, r.Header.Get(notify.SignatureHeader), secret) {
			slog.Warn("rejected notification with bad signature")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		slog.Info("notification received",
			"account_id", payload["account_id"],
			"title", payload["title"],
			"severity", payload["severity"],
			"category", payload["category"],
		)
		w.WriteHeader(http.StatusAccepted)
	})

	slog.Info("mock notifier started", "addr", ":8081")
	if err := http.ListenAndServe(":8081", mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
