package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/loqalabs/loqa-tts/internal/catalog"
)

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	handles := a.registry.List()
	resp := healthResponse{
		Status:       "ok",
		LoadedModels: make([]modelHealth, 0, len(handles)),
		DefaultVoice: a.registry.DefaultVoice(),
	}
	for _, h := range handles {
		resp.LoadedModels = append(resp.LoadedModels, modelHealth{
			Name:        h.Name,
			Type:        h.Family.String(),
			SampleRate:  h.SampleRate(),
			NumSpeakers: h.NumSpeakers(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "'limit' must be a non-negative integer")
			return
		}
		limit = n
	}
	records, err := a.history.Recent(r.Context(), r.URL.Query().Get("voice"), limit)
	if err != nil {
		a.log.Error("failed to read history", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Records: records})
}

// handleCatalog lists known nodes. ?voice= keeps healthy nodes serving that
// voice and ?tier= keeps nodes offering that tier; both may be combined.
func (a *API) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if a.catalog == nil {
		writeError(w, http.StatusNotFound, "catalog is disabled")
		return
	}
	var filters []func(catalog.NodeInfo) bool
	if voice := r.URL.Query().Get("voice"); voice != "" {
		filters = append(filters, catalog.WithVoice(voice))
	}
	if tier := r.URL.Query().Get("tier"); tier != "" {
		filters = append(filters, catalog.WithTier(tier))
	}
	var filter func(catalog.NodeInfo) bool
	if len(filters) > 0 {
		filter = func(node catalog.NodeInfo) bool {
			for _, keep := range filters {
				if !keep(node) {
					return false
				}
			}
			return true
		}
	}
	nodes := a.catalog.Nodes(filter)
	if nodes == nil {
		nodes = []catalog.NodeInfo{}
	}
	writeJSON(w, http.StatusOK, catalogResponse{Nodes: nodes, GeneratedAt: time.Now().UTC()})
}
