package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/vmoreno/curiosa-api/internal/domain"
)

const (
	codeMethodNotAllowed   = "method_not_allowed"
	codeNotFound           = "not_found"
	codeConflict           = "conflict"
	codeInvalidState       = "invalid_state"
	codeValidation         = "validation"
	codeInvalidRequestBody = "invalid_request_body"
	codeInternalError      = "internal_error"
)

type errorResponse struct {
	Error       string       `json:"error"`
	Code        string       `json:"code"`
	FailedItems []failedItem `json:"failed_items,omitempty"`
}

type failedItem struct {
	LotID  string `json:"lot_id"`
	Reason string `json:"reason"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeErrorResponse(w, status, errorResponse{Error: msg, Code: code})
}

func writeErrorResponse(w http.ResponseWriter, status int, resp errorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(resp)
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

// writeDomainError maps the error taxonomy onto HTTP statuses. Internal
// errors are logged with full context and returned opaque.
func writeDomainError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	var conflict *domain.ReservationConflictError
	if errors.As(err, &conflict) {
		resp := errorResponse{Error: domain.ErrReservationConflict.Error(), Code: codeConflict}
		for _, f := range conflict.Failures {
			resp.FailedItems = append(resp.FailedItems, failedItem{LotID: f.LotID, Reason: f.Reason})
		}
		writeErrorResponse(w, http.StatusConflict, resp)
		return
	}

	switch domain.KindOf(err) {
	case domain.KindNotFound:
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case domain.KindConflict:
		writeError(w, http.StatusConflict, codeConflict, err.Error())
	case domain.KindInvalidState:
		writeError(w, http.StatusUnprocessableEntity, codeInvalidState, err.Error())
	case domain.KindValidation:
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	default:
		logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
