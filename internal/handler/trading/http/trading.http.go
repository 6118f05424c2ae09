package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gamestock/gamestock-service/internal/entity"
	"github.com/gamestock/gamestock-service/internal/service/trading"
	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

type TradeRequest struct {
	ApiKey    string `json:"api_key"`
	AccountID int64  `json:"account_id"`
	ItemID    int64  `json:"item_id"`
	Shares    int64  `json:"shares"`
}

type FundRequest struct {
	ApiKey        string `json:"api_key"`
	AccountID     int64  `json:"account_id"`
	PaymentAmount string `json:"payment_amount"`
	PaymentMethod string `json:"payment_method"`
}

type AccountResponse struct {
	ID          int64  `json:"id"`
	CashBalance string `json:"cash_balance"`
}

type PositionResponse struct {
	AccountID    int64  `json:"account_id"`
	ItemID       int64  `json:"item_id"`
	Shares       int64  `json:"shares"`
	AvgCostBasis string `json:"avg_cost_basis"`
}

type LedgerEntryResponse struct {
	ID            int64  `json:"id"`
	AccountID     int64  `json:"account_id"`
	ItemID        int64  `json:"item_id"`
	Side          string `json:"side"`
	Shares        int64  `json:"shares"`
	PricePerShare string `json:"price_per_share"`
	TotalAmount   string `json:"total_amount"`
	ExecutedAt    int64  `json:"executed_at"`
}

type ExecutionResponse struct {
	Account    AccountResponse     `json:"account"`
	Position   *PositionResponse   `json:"position"`
	Entry      LedgerEntryResponse `json:"entry"`
	PriceStale bool                `json:"price_stale"`
}

type RejectionResponse struct {
	Reason    string `json:"reason"`
	Message   string `json:"message"`
	Required  string `json:"required,omitempty"`
	Available string `json:"available,omitempty"`
	Shortfall string `json:"shortfall,omitempty"`
}

type ValuationResponse struct {
	Position        PositionResponse `json:"position"`
	ItemName        string           `json:"item_name"`
	CurrentPrice    string           `json:"current_price"`
	PriceStale      bool             `json:"price_stale"`
	MarketValue     string           `json:"market_value"`
	UnrealizedPL    string           `json:"unrealized_pl"`
	UnrealizedPLPct string           `json:"unrealized_pl_percent"`
}

type PortfolioResponse struct {
	Account           AccountResponse     `json:"account"`
	Holdings          []ValuationResponse `json:"holdings"`
	TotalMarketValue  string              `json:"total_market_value"`
	TotalCostValue    string              `json:"total_cost_value"`
	TotalUnrealizedPL string              `json:"total_unrealized_pl"`
	TotalAssets       string              `json:"total_assets"`
}

type PositionListResponse struct {
	Positions []ValuationResponse `json:"positions"`
}

type LedgerResponse struct {
	Entries      []LedgerEntryResponse `json:"entries"`
	NextBeforeID *int64                `json:"next_before_id,omitempty"`
}

type FundResponse struct {
	Account       AccountResponse `json:"account"`
	TransactionID string          `json:"transaction_id"`
	PaymentAmount string          `json:"payment_amount"`
	CreditedFunds string          `json:"credited_funds"`
	Status        string          `json:"status"`
}

type Handler struct {
	tradingService *trading.TradingService
}

func NewTradingHTTPHandler(tradingService *trading.TradingService) *Handler {
	return &Handler{tradingService: tradingService}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/trading/v1/buy", h.Buy)
	mux.HandleFunc("/trading/v1/sell", h.Sell)
	mux.HandleFunc("/trading/v1/fund", h.Fund)
	mux.HandleFunc("/trading/v1/accounts", h.OpenAccount)
	mux.HandleFunc("/trading/v1/positions", h.Positions)
	mux.HandleFunc("/trading/v1/portfolio", h.Portfolio)
	mux.HandleFunc("/trading/v1/ledger", h.Ledger)
}

func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTradeRequest(w, r)
	if !ok {
		return
	}

	result, err := h.tradingService.Buy(r.Context(), entity.BuyRequest{
		AccountID: req.AccountID,
		ItemID:    req.ItemID,
		Shares:    req.Shares,
	})
	if err != nil {
		writeTradeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapExecutionResult(result))
}

func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTradeRequest(w, r)
	if !ok {
		return
	}

	result, err := h.tradingService.Sell(r.Context(), entity.SellRequest{
		AccountID: req.AccountID,
		ItemID:    req.ItemID,
		Shares:    req.Shares,
	})
	if err != nil {
		writeTradeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapExecutionResult(result))
}

func (h *Handler) Fund(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	defer r.Body.Close()

	var req FundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}

	if err := validateAPIKey(resolveAPIKey(r, req.ApiKey)); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(req.PaymentAmount))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payment_amount"})
		return
	}

	result, err := h.tradingService.Fund(r.Context(), entity.FundRequest{
		AccountID:     req.AccountID,
		PaymentAmount: amount,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		writeTradeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FundResponse{
		Account:       mapAccount(result.Account),
		TransactionID: result.Record.TransactionID,
		PaymentAmount: result.Record.PaymentAmount.String(),
		CreditedFunds: result.Record.CreditedFunds.String(),
		Status:        result.Record.Status,
	})
}

func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	if err := validateAPIKey(resolveAPIKey(r, "")); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return
	}

	account, err := h.tradingService.OpenAccount(r.Context())
	if err != nil {
		writeTradeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, mapAccount(*account))
}

// Positions serves one valued holding when item_id is given, or every
// holding of the account when it is not.
func (h *Handler) Positions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.authorizedAccountID(w, r)
	if !ok {
		return
	}

	rawItemID := r.URL.Query().Get("item_id")
	if rawItemID == "" {
		valuations, err := h.tradingService.ListPositions(r.Context(), accountID)
		if err != nil {
			writeTradeError(w, err)
			return
		}

		resp := PositionListResponse{Positions: make([]ValuationResponse, 0, len(valuations))}
		for _, valuation := range valuations {
			resp.Positions = append(resp.Positions, mapValuation(valuation))
		}

		writeJSON(w, http.StatusOK, resp)
		return
	}

	itemID, err := strconv.ParseInt(rawItemID, 10, 64)
	if err != nil || itemID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid item_id"})
		return
	}

	valuation, err := h.tradingService.GetPosition(r.Context(), accountID, itemID)
	if err != nil {
		writeTradeError(w, err)
		return
	}
	if valuation == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no holding"})
		return
	}

	writeJSON(w, http.StatusOK, mapValuation(*valuation))
}

func (h *Handler) Portfolio(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.authorizedAccountID(w, r)
	if !ok {
		return
	}

	summary, err := h.tradingService.PortfolioSummary(r.Context(), accountID)
	if err != nil {
		writeTradeError(w, err)
		return
	}

	resp := PortfolioResponse{
		Account:           mapAccount(summary.Account),
		Holdings:          make([]ValuationResponse, 0, len(summary.Holdings)),
		TotalMarketValue:  summary.TotalMarketValue.String(),
		TotalCostValue:    summary.TotalCostValue.String(),
		TotalUnrealizedPL: summary.TotalUnrealizedPL.String(),
		TotalAssets:       summary.TotalAssets.String(),
	}
	for _, holding := range summary.Holdings {
		resp.Holdings = append(resp.Holdings, mapValuation(holding))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Ledger(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.authorizedAccountID(w, r)
	if !ok {
		return
	}

	page := entity.LedgerPage{}
	if rawBefore := r.URL.Query().Get("before_id"); rawBefore != "" {
		beforeID, err := strconv.ParseInt(rawBefore, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid before_id"})
			return
		}
		page.BeforeID = null.IntFrom(beforeID)
	}
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid limit"})
			return
		}
		page.Limit = limit
	}

	entries, err := h.tradingService.ListLedger(r.Context(), accountID, page)
	if err != nil {
		writeTradeError(w, err)
		return
	}

	resp := LedgerResponse{Entries: make([]LedgerEntryResponse, 0, len(entries))}
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, mapLedgerEntry(entry))
	}
	// A partial page is the last one; handing out a cursor would only buy
	// the client an empty round trip.
	if len(entries) == page.ResolvedLimit() {
		lastID := entries[len(entries)-1].ID
		resp.NextBeforeID = &lastID
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) decodeTradeRequest(w http.ResponseWriter, r *http.Request) (*TradeRequest, bool) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return nil, false
	}

	defer r.Body.Close()

	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return nil, false
	}

	if err := validateAPIKey(resolveAPIKey(r, req.ApiKey)); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return nil, false
	}

	if req.AccountID <= 0 || req.ItemID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing required fields"})
		return nil, false
	}

	return &req, true
}

func (h *Handler) authorizedAccountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return 0, false
	}

	if err := validateAPIKey(resolveAPIKey(r, "")); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return 0, false
	}

	accountID, err := strconv.ParseInt(r.URL.Query().Get("account_id"), 10, 64)
	if err != nil || accountID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid account_id"})
		return 0, false
	}

	return accountID, true
}

// writeTradeError maps the rejection taxonomy onto HTTP statuses:
// malformed input 400, business rejections 422, transient conflicts 409,
// anything else 500.
func writeTradeError(w http.ResponseWriter, err error) {
	var rejection *entity.Rejection
	if errors.As(err, &rejection) {
		status := http.StatusUnprocessableEntity
		switch rejection.Reason {
		case entity.ReasonInvalidShares, entity.ReasonUnknownItem, entity.ReasonUnknownAccount, entity.ReasonInvalidFunding:
			status = http.StatusBadRequest
		}

		resp := RejectionResponse{
			Reason:  string(rejection.Reason),
			Message: rejection.Message,
		}
		if !rejection.Required.IsZero() || !rejection.Available.IsZero() {
			resp.Required = rejection.Required.String()
			resp.Available = rejection.Available.String()
			resp.Shortfall = rejection.Shortfall().String()
		}

		writeJSON(w, status, resp)
		return
	}

	if errors.Is(err, trading.ErrConcurrencyConflict) {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "order conflicted with concurrent activity, retry"})
		return
	}

	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
}

func mapExecutionResult(result *entity.ExecutionResult) ExecutionResponse {
	resp := ExecutionResponse{
		Account:    mapAccount(result.Account),
		Entry:      mapLedgerEntry(result.Entry),
		PriceStale: result.Quote.Stale,
	}

	if result.Position != nil {
		position := mapPosition(*result.Position)
		resp.Position = &position
	}

	return resp
}

func mapAccount(account entity.Account) AccountResponse {
	return AccountResponse{
		ID:          account.ID,
		CashBalance: account.CashBalance.String(),
	}
}

func mapPosition(position entity.Position) PositionResponse {
	return PositionResponse{
		AccountID:    position.AccountID,
		ItemID:       position.ItemID,
		Shares:       position.Shares,
		AvgCostBasis: position.AvgCostBasis.String(),
	}
}

func mapLedgerEntry(entry entity.LedgerEntry) LedgerEntryResponse {
	return LedgerEntryResponse{
		ID:            entry.ID,
		AccountID:     entry.AccountID,
		ItemID:        entry.ItemID,
		Side:          string(entry.Side),
		Shares:        entry.Shares,
		PricePerShare: entry.PricePerShare.String(),
		TotalAmount:   entry.TotalAmount.String(),
		ExecutedAt:    entry.ExecutedAt.UnixMilli(),
	}
}

func mapValuation(valuation entity.PositionValuation) ValuationResponse {
	return ValuationResponse{
		Position:        mapPosition(valuation.Position),
		ItemName:        valuation.Item.Name,
		CurrentPrice:    valuation.Quote.Price.String(),
		PriceStale:      valuation.Quote.Stale,
		MarketValue:     valuation.MarketValue.String(),
		UnrealizedPL:    valuation.UnrealizedPL.String(),
		UnrealizedPLPct: valuation.UnrealizedPLPct.String(),
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
