package viewapi

import (
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// NewServer serves the handler on addr behind CORS, speaking HTTP/2 cleartext as well
// as HTTP/1.1
func NewServer(addr string, h *Handler) *http.Server {
	return &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(Routes(h), &http2.Server{}),
	}
}

// Routes builds the CORS-wrapped mux
func Routes(h *Handler) http.Handler {
	mux := http.NewServeMux()

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	h.RegisterRoutes(mux)
	setupHealthCheck(mux)

	return c.Handler(mux)
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}
