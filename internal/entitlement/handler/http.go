package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"matchdeck/trust/internal/billing"
	"matchdeck/trust/internal/entitlement/service"
	"matchdeck/trust/internal/server/middleware"
)

// VerifierService is the slice of the entitlement service the handler needs.
type VerifierService interface {
	Verify(ctx context.Context, userID, purchaseToken, productID string) (*service.Result, error)
	Subscription(ctx context.Context, userID string) (*service.Result, error)
}

type verifyRequest struct {
	PurchaseToken string `json:"purchaseToken"`
	ProductID     string `json:"productId"`
}

type verifyResponse struct {
	Success   bool   `json:"success"`
	Status    string `json:"status"`
	PeriodEnd string `json:"periodEnd,omitempty"`
	GraceEnd  string `json:"graceEnd,omitempty"`
}

// Entitlement serves the purchase verification endpoint.
type Entitlement struct {
	svc VerifierService
}

func NewEntitlement(svc VerifierService) *Entitlement {
	return &Entitlement{svc: svc}
}

// Verify handles POST requests carrying a purchase token and product id.
// Non-POST methods get a JSON 405. Internal failure details never reach the
// response body.
func (h *Entitlement) Verify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		middleware.WriteError(w, http.StatusUnauthorized, "missing or invalid authorization")
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.svc.Verify(r.Context(), userID, req.PurchaseToken, req.ProductID)
	if err != nil {
		h.writeVerifyError(w, err)
		return
	}

	writeResult(w, result)
}

// Subscription handles GET requests returning the caller's stored entitlement.
// It never contacts the billing authority; clients poll it between
// verifications.
func (h *Entitlement) Subscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		middleware.WriteError(w, http.StatusUnauthorized, "missing or invalid authorization")
		return
	}

	result, err := h.svc.Subscription(r.Context(), userID)
	if err != nil {
		log.Printf("entitlement subscription: %v", err)
		middleware.WriteError(w, http.StatusInternalServerError, "an unexpected error occurred")
		return
	}
	writeResult(w, result)
}

func writeResult(w http.ResponseWriter, result *service.Result) {
	resp := verifyResponse{Success: true, Status: string(result.Status)}
	if !result.PeriodEnd.IsZero() {
		resp.PeriodEnd = result.PeriodEnd.UTC().Format(time.RFC3339)
	}
	if !result.GraceEnd.IsZero() {
		resp.GraceEnd = result.GraceEnd.UTC().Format(time.RFC3339)
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

func (h *Entitlement) writeVerifyError(w http.ResponseWriter, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		middleware.WriteError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, service.ErrTokenAlreadyClaimed):
		middleware.WriteError(w, http.StatusConflict, "purchase token already claimed by another account")
	case errors.Is(err, service.ErrNotConfigured):
		log.Printf("entitlement verify: %v", err)
		middleware.WriteError(w, http.StatusInternalServerError, "server configuration error")
	case errors.Is(err, billing.ErrVerificationFailed):
		log.Printf("entitlement verify: %v", err)
		middleware.WriteError(w, http.StatusInternalServerError, "purchase verification failed")
	default:
		log.Printf("entitlement verify: %v", err)
		middleware.WriteError(w, http.StatusInternalServerError, "an unexpected error occurred")
	}
}
