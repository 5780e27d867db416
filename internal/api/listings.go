package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/bazar/internal/listing"
	"github.com/kalambet/bazar/internal/storage"
)

// PatchListingRequest changes a listing's status, price, or both.
type PatchListingRequest struct {
	Status *string  `json:"status" validate:"omitempty,oneof=active sold inactive"`
	Price  *float64 `json:"price" validate:"omitempty,gt=0,lte=1000000"`
}

func handleCategories(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Catalog.Categories())
	}
}

func handleListListings(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		ls, err := deps.Store.ListListings(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list listings: %v", err)
			return
		}
		if ls == nil {
			ls = []listing.Listing{}
		}
		writeJSON(w, http.StatusOK, ls)
	}
}

func handleUserListings(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid user id %q", chi.URLParam(r, "userID"))
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)
		ls, err := deps.Store.ListUserListings(userID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list listings: %v", err)
			return
		}
		if ls == nil {
			ls = []listing.Listing{}
		}
		writeJSON(w, http.StatusOK, ls)
	}
}

func handleGetListing(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l, err := deps.Store.GetListing(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "listing not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get listing: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

func handlePatchListing(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req PatchListingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Status == nil && req.Price == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "nothing to update: set status or price")
			return
		}
		if err := validate.Struct(req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid update: %v", err)
			return
		}

		l, err := applyPatch(deps.Store, id, req)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "listing not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update listing: %v", err)
			return
		}
		deps.Logger.Info("listing updated", "listing_id", id, "status", l.Status, "price", l.Price)
		writeJSON(w, http.StatusOK, l)
	}
}

func applyPatch(store storage.Store, id string, req PatchListingRequest) (listing.Listing, error) {
	var (
		l   listing.Listing
		err error
	)
	if req.Status != nil {
		st, perr := listing.ParseStatus(*req.Status)
		if perr != nil {
			return listing.Listing{}, perr
		}
		if l, err = store.UpdateListingStatus(id, st); err != nil {
			return listing.Listing{}, err
		}
	}
	if req.Price != nil {
		if l, err = store.UpdateListingPrice(id, *req.Price); err != nil {
			return listing.Listing{}, err
		}
	}
	return l, nil
}

func handleActions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, storage.MaxActions)
		entries, err := deps.Store.RecentActions(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read action log: %v", err)
			return
		}
		if entries == nil {
			entries = []storage.ActionEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}
