package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/solstake/ledger-engine/internal/ledger"
)

// statusFor maps a ledger error kind to an HTTP status.
func statusFor(kind error) int {
	switch kind {
	case ledger.ErrInvalidAmount, ledger.ErrUnknownTier, ledger.ErrInvalidAddress, ledger.ErrInvalidInput:
		return http.StatusBadRequest
	case ledger.ErrNotFound:
		return http.StatusNotFound
	case ledger.ErrInvalidStakeState, ledger.ErrLimitExceeded, ledger.ErrWalletNotLinked:
		return http.StatusConflict
	case ledger.ErrQuoteUnavailable:
		return http.StatusUnprocessableEntity
	case ledger.ErrProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeLedgerError logs err and answers with the status for its kind. Client
// errors carry the kind's text; server errors a fixed message.
func writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	kind := ledger.Kind(err)
	status := statusFor(kind)

	msg := "internal error"
	if status < http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		msg = strings.TrimPrefix(kind.Error(), "ledger: ")
	}

	attrs := []any{"err", err, "status", status, "path", r.URL.Path, "request_id", requestID(r)}
	if kind != nil {
		attrs = append(attrs, "kind", kind.Error())
	}
	switch {
	case status >= http.StatusInternalServerError:
		slog.Error("request failed", attrs...)
	case errors.Is(err, ledger.ErrLimitExceeded):
		slog.Warn("request rejected", attrs...)
	default:
		slog.Info("request rejected", attrs...)
	}

	writeError(w, msg, status)
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
