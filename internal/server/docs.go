package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"
)

// MountDocs serves spec at /openapi.json and a Swagger UI at /docs.
func MountDocs(r chi.Router, title string, spec any) {
	r.Get("/openapi.json", handleOpenAPI(spec))
	r.Mount("/docs", v5emb.New(title, "/openapi.json", "/docs"))
}

func handleOpenAPI(spec any) http.HandlerFunc {
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
