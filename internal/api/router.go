package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("GET /v1/whatsapp/status", h.ConnectionStatus)
	mux.HandleFunc("GET /v1/whatsapp/qr", h.Credential)
	mux.HandleFunc("GET /v1/whatsapp/qr.png", h.CredentialPNG)
	mux.HandleFunc("POST /v1/whatsapp/connect", h.Connect)
	mux.HandleFunc("POST /v1/whatsapp/disconnect", h.Disconnect)
	mux.HandleFunc("POST /v1/whatsapp/reset", h.ResetAttempts)

	mux.HandleFunc("POST /v1/messages/bulk", h.SendBulk)
	mux.HandleFunc("GET /v1/messages/sent", h.ListSentMessages)

	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("whatsapp-broadcast"))
	})

	return mux
}
