package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/classmate-app/classmate/internal/services"
)

type AssetHandler struct {
	assets *services.AssetService
}

func NewAssetHandler(assets *services.AssetService) *AssetHandler {
	return &AssetHandler{assets: assets}
}

// Register accepts metadata for an already-uploaded file and starts ingestion.
func (h *AssetHandler) Register(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")

	var req services.RegisterAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}

	asset, err := h.assets.Register(r.Context(), courseID, &req)
	if err != nil {
		if verr := req.Validate(); verr != nil {
			respondError(w, http.StatusBadRequest, verr.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, asset)
}

func (h *AssetHandler) List(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")

	assets, err := h.assets.List(r.Context(), courseID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, assets)
}

func (h *AssetHandler) Retry(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")

	asset, err := h.assets.Retry(r.Context(), assetID)
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	if asset == nil {
		respondError(w, http.StatusNotFound, "asset not found")
		return
	}
	respondJSON(w, http.StatusAccepted, asset)
}

func (h *AssetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")

	if err := h.assets.Delete(r.Context(), assetID); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AssetHandler) DeleteCourse(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")

	if err := h.assets.DeleteCourse(r.Context(), courseID); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
