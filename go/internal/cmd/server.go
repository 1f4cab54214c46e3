package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mcdev12/codearena/go/internal/arena/viewapi"
)

func setupServer(cfg *Config, services *Services) *http.Server {
	server := viewapi.NewServer(fmt.Sprintf(":%s", cfg.View.Port), services.View)
	server.ReadTimeout = 10 * time.Second
	// Submissions block on grading
	server.WriteTimeout = 2 * time.Minute
	server.IdleTimeout = 120 * time.Second
	return server
}
