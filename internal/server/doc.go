// Package server exposes the session API over HTTP.
//
// Routes:
//
//	GET  /api/health
//	POST /api/sessions                      (alias POST /api/start-testing)
//	GET  /api/sessions/{id}/status          (alias GET /api/status/{id})
//	GET  /api/sessions/{id}/results         (alias GET /api/get-results/{id})
//	GET  /api/sessions/{id}/export?format=json|csv|html|pdf|zip
//	GET  /api/sessions/{id}/watch           WebSocket stream of status transitions
//	GET  /metrics
//	GET  /static/screenshots/*
package server
