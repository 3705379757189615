// handler.go — APIHandler собирает доменные handlers и регистрирует
// маршруты на chi-роутере.
package handlers

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// APIHandler — единый объект, собирающий все handlers сервиса.
type APIHandler struct {
	relay  *RelayHandler
	local  *LocalHandler
	health *HealthHandler
}

// NewAPIHandler создаёт единый handler для всех endpoints.
func NewAPIHandler(relay *RelayHandler, local *LocalHandler, health *HealthHandler) *APIHandler {
	return &APIHandler{
		relay:  relay,
		local:  local,
		health: health,
	}
}

// Routes регистрирует все маршруты сервиса.
func (h *APIHandler) Routes(router chi.Router) {
	// Relay-режим
	router.Post("/upload", h.relay.Upload)
	router.Get("/session-info/{accessCode}", h.relay.SessionInfo)
	router.Get("/download/{accessCode}", h.relay.Download)
	router.Get("/check-session/{accessCode}", h.relay.CheckSession)
	router.Get("/session-data/{ownerToken}", h.relay.SessionData)
	router.Post("/endsession", h.relay.EndSession)

	// Локальный режим
	router.Route("/locshare", func(r chi.Router) {
		r.Post("/start", h.local.Start)
		r.Post("/stop", h.local.Stop)
		r.Get("/stats/{port}", h.local.Stats)
		r.Get("/check-port/{port}", h.local.CheckPort)
		r.Get("/local-ip", h.local.LocalIP)
		r.Get("/connect/{accessKey}", h.local.Connect)
	})

	// Системные endpoints
	router.Get("/health/live", h.health.HealthLive)
	router.Get("/health/ready", h.health.HealthReady)
	router.Handle("/metrics", promhttp.Handler())
}
