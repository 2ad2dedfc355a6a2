package http

import (
	"net/http"
	"time"

	"github.com/Strob0t/toolgate/internal/domain/credit"
	"github.com/Strob0t/toolgate/internal/middleware"
	"github.com/Strob0t/toolgate/internal/service"
)

// GetMyCredits handles GET /api/v1/credits for the calling user.
func (h *Handlers) GetMyCredits(w http.ResponseWriter, r *http.Request) {
	p, err := h.Credits.Pool(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListMyTransactions handles GET /api/v1/credits/transactions.
func (h *Handlers) ListMyTransactions(w http.ResponseWriter, r *http.Request) {
	h.listTransactions(w, r, middleware.UserID(r.Context()))
}

// GetCredits handles GET /api/v1/admin/credits/{userID}.
func (h *Handlers) GetCredits(w http.ResponseWriter, r *http.Request) {
	handleGet("userID", h.Credits.Pool)(w, r)
}

// ListTransactions handles GET /api/v1/admin/credits/{userID}/transactions.
func (h *Handlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	h.listTransactions(w, r, urlParam(r, "userID"))
}

// listTransactions returns ledger entries created at or after ?since
// (RFC 3339), or all of them.
func (h *Handlers) listTransactions(w http.ResponseWriter, r *http.Request, userID string) {
	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}
	if _, err := h.Credits.Pool(r.Context(), userID); err != nil {
		writeDomainError(w, err, "")
		return
	}
	txns, err := h.Records.ListCreditTransactions(r.Context(), userID, since)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if txns == nil {
		txns = []credit.Transaction{}
	}
	writeJSON(w, http.StatusOK, txns)
}

type openPoolRequest struct {
	Currency string                `json:"currency"`
	Limits   credit.SpendingLimits `json:"limits"`
}

// OpenPool handles POST /api/v1/admin/credits/{userID}.
func (h *Handlers) OpenPool(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[openPoolRequest](w, r)
	if !ok {
		return
	}
	if req.Currency == "" {
		req.Currency = "credits"
	}
	p, err := h.Credits.OpenPool(r.Context(), urlParam(r, "userID"), req.Currency, req.Limits)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type updatePoolRequest struct {
	Limits   *credit.SpendingLimits `json:"limits,omitempty"`
	Active   *bool                  `json:"active,omitempty"`
	Verified *bool                  `json:"verified,omitempty"`
}

// UpdatePool handles PATCH /api/v1/admin/credits/{userID}. Omitted fields
// are left unchanged.
func (h *Handlers) UpdatePool(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[updatePoolRequest](w, r)
	if !ok {
		return
	}
	p, err := h.Credits.UpdatePool(r.Context(), urlParam(r, "userID"), service.PoolUpdate{
		Limits:   req.Limits,
		Active:   req.Active,
		Verified: req.Verified,
	})
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type ledgerRequest struct {
	Amount      int64  `json:"amount"`
	ToolName    string `json:"tool_name,omitempty"`
	TaskID      string `json:"task_id,omitempty"`
	Description string `json:"description,omitempty"`
}

func (req *ledgerRequest) charge() service.Charge {
	return service.Charge{ToolName: req.ToolName, TaskID: req.TaskID, Description: req.Description}
}

// AddCredits handles POST /api/v1/admin/credits/{userID}/add.
func (h *Handlers) AddCredits(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[ledgerRequest](w, r)
	if !ok {
		return
	}
	if req.Description == "" {
		req.Description = "top-up"
	}
	txn, err := h.Credits.Add(r.Context(), urlParam(r, "userID"), req.Amount, req.charge())
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// RefundCredits handles POST /api/v1/admin/credits/{userID}/refund.
func (h *Handlers) RefundCredits(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[ledgerRequest](w, r)
	if !ok {
		return
	}
	if req.Description == "" {
		req.Description = "refund"
	}
	txn, err := h.Credits.Refund(r.Context(), urlParam(r, "userID"), req.Amount, req.charge())
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, txn)
}
