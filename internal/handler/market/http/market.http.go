package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gamestock/gamestock-service/internal/service/market"
)

type ItemResponse struct {
	ID              int64  `json:"id"`
	ExternalID      string `json:"external_id"`
	Name            string `json:"name"`
	PositiveReviews int64  `json:"positive_reviews"`
	TotalReviews    int64  `json:"total_reviews"`
	LastRefreshed   int64  `json:"last_refreshed"`
	CurrentPrice    string `json:"current_price"`
	PriceStale      bool   `json:"price_stale"`
}

type ItemListResponse struct {
	Items []ItemResponse `json:"items"`
}

// Handler serves the public catalog browse endpoints. No API key: these
// surface catalog data only, never account state.
type Handler struct {
	marketService *market.MarketService
}

func NewMarketHTTPHandler(marketService *market.MarketService) *Handler {
	return &Handler{marketService: marketService}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/market/v1/items", h.ListItems)
	mux.HandleFunc("/market/v1/items/quote", h.GetQuote)
}

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	limit := 0
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	keyword := strings.TrimSpace(r.URL.Query().Get("keyword"))

	var listings []market.Listing
	var err error
	if keyword != "" {
		listings, err = h.marketService.SearchItems(r.Context(), keyword, limit)
	} else {
		listings, err = h.marketService.ListItems(r.Context(), limit)
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		return
	}

	resp := ItemListResponse{Items: make([]ItemResponse, 0, len(listings))}
	for _, listing := range listings {
		resp.Items = append(resp.Items, mapListing(listing))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	itemID, err := strconv.ParseInt(r.URL.Query().Get("item_id"), 10, 64)
	if err != nil || itemID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid item_id"})
		return
	}

	listing, err := h.marketService.GetItem(r.Context(), itemID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		return
	}
	if listing == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "item not found"})
		return
	}

	writeJSON(w, http.StatusOK, mapListing(*listing))
}

func mapListing(listing market.Listing) ItemResponse {
	return ItemResponse{
		ID:              listing.Item.ID,
		ExternalID:      listing.Item.ExternalID,
		Name:            listing.Item.Name,
		PositiveReviews: listing.Item.PositiveReviews,
		TotalReviews:    listing.Item.TotalReviews,
		LastRefreshed:   listing.Item.LastRefreshed.UnixMilli(),
		CurrentPrice:    listing.Quote.Price.String(),
		PriceStale:      listing.Quote.Stale,
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
