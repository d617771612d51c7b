// Package sandbox is a local emulation of the vendor's B2C gateway. It answers
// in the vendor's envelope with the vendor's status and response codes, so the
// SDK can be exercised end to end without vendor credentials.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/alexbotov/mpesa/internal/control"
	"github.com/alexbotov/mpesa/internal/domain"
	"github.com/alexbotov/mpesa/internal/ledger"
	"github.com/alexbotov/mpesa/pkg/mpesa"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// maxTransactionReference is the longest input_TransactionReference accepted
const maxTransactionReference = 20

// responseDescriptions are the texts the vendor sends in output_ResponseDesc
var responseDescriptions = map[string]string{
	mpesa.CodeSuccess:                           "Request processed successfully",
	mpesa.CodeInternalError:                     "Internal Error",
	mpesa.CodeInvalidAPIKey:                     "Invalid API Key",
	mpesa.CodeDuplicateTransaction:              "Duplicate Transaction",
	mpesa.CodeInvalidShortcode:                  "Invalid Shortcode Used",
	mpesa.CodeInvalidAmount:                     "Invalid Amount Used",
	mpesa.CodeTemporaryOverload:                 "Unable to handle the request due to a temporary overloading",
	mpesa.CodeInvalidTransactionReferenceLength: "Invalid TransactionReference. Length Should Be Between 1 and 20.",
	mpesa.CodeMissingParameters:                 "Not All Parameters Provided. Please try again.",
	mpesa.CodeParameterValidationFailed:         "Parameter validations failed. Please try again.",
	mpesa.CodeUnauthorized:                      "Not authorized",
	mpesa.CodeInsufficientBalance:               "Insufficient balance",
	mpesa.CodeMSISDNInvalid:                     "MSISDN invalid.",
}

// msisdnPattern matches Mozambican M-Pesa numbers with or without the
// country code.
var msisdnPattern = regexp.MustCompile(`^(258)?8[45][0-9]{7}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("msisdn", func(fl validator.FieldLevel) bool {
		return msisdnPattern.MatchString(fl.Field().String())
	})
	return v
}

// Options holds the gateway identity the handler emulates
type Options struct {
	ServiceProviderCode string
	Currency            string
	Version             string
	Backend             string
}

// Handler contains all HTTP handlers
type Handler struct {
	opts    Options
	auth    *Authenticator
	store   ledger.Store
	control *control.Service
	hub     *Hub
	logger  *slog.Logger
}

// New creates a new sandbox handler
func New(opts Options, authn *Authenticator, store ledger.Store, ctrl *control.Service, hub *Hub, logger *slog.Logger) *Handler {
	return &Handler{
		opts:    opts,
		auth:    authn,
		store:   store,
		control: ctrl,
		hub:     hub,
		logger:  logger,
	}
}

// Response helpers

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
	})
}

// respondVendor answers in the gateway's output_ envelope
func respondVendor(w http.ResponseWriter, status int, code string, resp mpesa.PaymentResponse) {
	resp.ResponseCode = code
	resp.ResponseDesc = responseDescriptions[code]
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// === Health & Info ===

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"overloaded":  h.control.IsOverloaded(),
		"backend":     h.opts.Backend,
		"subscribers": h.hub.Count(),
	})
}

// ServerInfo handles GET /
func (h *Handler) ServerInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"name":                  "mpesa-sandbox",
		"version":               h.opts.Version,
		"description":           "M-Pesa B2C gateway sandbox",
		"service_provider_code": h.opts.ServiceProviderCode,
		"b2c_path":              mpesa.DefaultB2CPath,
	})
}

// PublicKey handles GET /public-key
func (h *Handler) PublicKey(w http.ResponseWriter, r *http.Request) {
	body, err := h.auth.PublicKeyBody()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "PUBLIC_KEY_ERROR", "Failed to encode public key")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"public_key": body})
}

// === B2C ===

// B2CPayment handles POST /ipg/v1x/b2cPayment/
func (h *Handler) B2CPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	bearer, _ := bearerToken(r.Header.Get("Authorization"))
	principal, err := h.auth.Authenticate(bearer)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			respondVendor(w, http.StatusUnauthorized, mpesa.CodeUnauthorized, mpesa.PaymentResponse{})
		} else {
			respondVendor(w, http.StatusUnauthorized, mpesa.CodeInvalidAPIKey, mpesa.PaymentResponse{})
		}
		return
	}

	if err := h.control.CheckAccess(); err != nil {
		respondVendor(w, http.StatusServiceUnavailable, mpesa.CodeTemporaryOverload, mpesa.PaymentResponse{})
		return
	}

	var input mpesa.B2CInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondVendor(w, http.StatusBadRequest, mpesa.CodeParameterValidationFailed, mpesa.PaymentResponse{})
		return
	}
	echo := mpesa.PaymentResponse{ThirdPartyReference: input.ThirdPartyReference}

	status, code, amount := h.checkInput(&input)
	if code != "" {
		h.reject(ctx, &input, amount, code)
		respondVendor(w, status, code, echo)
		return
	}

	d := &domain.Disbursement{
		ID:                   uuid.New().String(),
		ConversationID:       strings.ReplaceAll(uuid.New().String(), "-", ""),
		TransactionID:        newTransactionID(),
		TransactionReference: input.TransactionReference,
		ThirdPartyReference:  input.ThirdPartyReference,
		CustomerMSISDN:       input.CustomerMSISDN,
		ServiceProviderCode:  input.ServiceProviderCode,
		Amount:               amount,
		Status:               domain.DisbursementCompleted,
		ResponseCode:         mpesa.CodeSuccess,
		CreatedAt:            time.Now().UTC(),
	}

	remaining, err := h.store.Disburse(ctx, d)
	if err != nil {
		status, code := http.StatusInternalServerError, mpesa.CodeInternalError
		switch {
		case errors.Is(err, ledger.ErrDuplicateReference):
			status, code = http.StatusConflict, mpesa.CodeDuplicateTransaction
		case errors.Is(err, ledger.ErrInsufficientFunds):
			status, code = http.StatusUnprocessableEntity, mpesa.CodeInsufficientBalance
		case errors.Is(err, ledger.ErrAccountNotFound):
			status, code = http.StatusBadRequest, mpesa.CodeInvalidShortcode
		default:
			h.logger.ErrorContext(ctx, "failed to record disbursement", "error", err)
		}
		h.reject(ctx, &input, amount, code)
		respondVendor(w, status, code, echo)
		return
	}

	h.logger.InfoContext(ctx, "disbursement accepted",
		"third_party_reference", d.ThirdPartyReference,
		"transaction_id", d.TransactionID,
		"amount", d.Amount.String(),
		"float_remaining", remaining.String(),
		"auth_method", principal.Method)

	h.hub.Publish(domain.Event{
		Type:      domain.EventDisbursementCompleted,
		Timestamp: d.CreatedAt,
		Payload:   d,
	})

	respondVendor(w, http.StatusCreated, mpesa.CodeSuccess, mpesa.PaymentResponse{
		ConversationID:      d.ConversationID,
		TransactionID:       d.TransactionID,
		ThirdPartyReference: d.ThirdPartyReference,
	})
}

// checkInput applies the gateway's field checks in the gateway's order. It
// returns an empty code when the input is acceptable.
func (h *Handler) checkInput(in *mpesa.B2CInput) (int, string, domain.Money) {
	for _, field := range []string{in.TransactionReference, in.CustomerMSISDN, in.Amount, in.ThirdPartyReference, in.ServiceProviderCode} {
		if err := validate.Var(field, "required"); err != nil {
			return http.StatusBadRequest, mpesa.CodeMissingParameters, domain.Money{}
		}
	}
	if in.ServiceProviderCode != h.opts.ServiceProviderCode {
		return http.StatusBadRequest, mpesa.CodeInvalidShortcode, domain.Money{}
	}
	amount, err := domain.ParseMoney(in.Amount, h.opts.Currency)
	if err != nil {
		return http.StatusBadRequest, mpesa.CodeInvalidAmount, domain.Money{}
	}
	if len(in.TransactionReference) > maxTransactionReference {
		return http.StatusBadRequest, mpesa.CodeInvalidTransactionReferenceLength, amount
	}
	if err := validate.Var(in.CustomerMSISDN, "msisdn"); err != nil {
		return http.StatusBadRequest, mpesa.CodeMSISDNInvalid, amount
	}
	return 0, "", amount
}

// reject logs and publishes a refused disbursement
func (h *Handler) reject(ctx context.Context, in *mpesa.B2CInput, amount domain.Money, code string) {
	h.logger.InfoContext(ctx, "disbursement rejected",
		"third_party_reference", in.ThirdPartyReference,
		"response_code", code)

	h.hub.Publish(domain.Event{
		Type: domain.EventDisbursementRejected,
		Payload: &domain.Disbursement{
			TransactionReference: in.TransactionReference,
			ThirdPartyReference:  in.ThirdPartyReference,
			CustomerMSISDN:       in.CustomerMSISDN,
			ServiceProviderCode:  in.ServiceProviderCode,
			Amount:               amount,
			Status:               domain.DisbursementRejected,
			ResponseCode:         code,
			CreatedAt:            time.Now().UTC(),
		},
	})
}

// newTransactionID returns a 10 character gateway transaction id
func newTransactionID() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return strings.ToUpper(id[:10])
}

// === Admin ===

// ListDisbursements handles GET /admin/disbursements
func (h *Handler) ListDisbursements(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	list, err := h.store.List(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "LIST_FAILED", "Failed to list disbursements")
		return
	}
	if list == nil {
		list = []*domain.Disbursement{}
	}
	respondJSON(w, http.StatusOK, list)
}

// IssueTokenRequest is the body of POST /admin/tokens
type IssueTokenRequest struct {
	Subject string `json:"subject" validate:"required"`
	Scope   string `json:"scope" validate:"omitempty,oneof=b2c admin"`
}

// IssueToken handles POST /admin/tokens
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req IssueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Scope == "" {
		req.Scope = ScopeB2C
	}
	if err := validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	token, expiresAt, err := h.auth.IssueToken(req.Subject, req.Scope)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "TOKEN_FAILED", "Failed to issue token")
		return
	}

	h.logger.InfoContext(r.Context(), "access token issued",
		"subject", req.Subject,
		"scope", req.Scope,
		"issued_by", principalFrom(r.Context()).Subject)

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"access_token": token,
		"scope":        req.Scope,
		"expires_at":   expiresAt,
	})
}

// GatewayStatus handles GET /admin/status
func (h *Handler) GatewayStatus(w http.ResponseWriter, r *http.Request) {
	balance, err := h.store.Balance(r.Context(), h.opts.ServiceProviderCode)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "BALANCE_ERROR", "Failed to get float balance")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"control":       h.control.Status(),
		"float_balance": balance.String(),
		"currency":      balance.Currency,
	})
}

// OverloadRequest is the body of POST /admin/overload
type OverloadRequest struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason"`
}

// SetOverload handles POST /admin/overload
func (h *Handler) SetOverload(w http.ResponseWriter, r *http.Request) {
	var req OverloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	status, err := h.control.SetOverload(r.Context(), req.Enabled, req.Reason, principalFrom(r.Context()).Subject)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "CONTROL_FAILED", "Failed to change gateway state")
		return
	}

	h.hub.Publish(domain.Event{Type: domain.EventOverloadChanged, Payload: status})
	respondJSON(w, http.StatusOK, status)
}

// Events handles GET /ws/events
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	h.hub.ServeWS(w, r)
}
