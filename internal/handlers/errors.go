package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/carepath/internal/models"
	pkgauth "github.com/BradenHooton/carepath/pkg/auth"
	pkghttp "github.com/BradenHooton/carepath/pkg/http"
)

// writeServiceError renders a workflow error. Typed errors carry the current
// state in details; anything unclassified is logged and hidden behind a 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var ise *models.InvalidStateError
	if errors.As(err, &ise) {
		pkghttp.WriteInvalidState(w, ise.Error(), string(ise.Current))
		return
	}

	var nae *models.NotApprovedError
	if errors.As(err, &nae) {
		pkghttp.WriteNotApproved(w, nae.Error(), string(nae.Status))
		return
	}

	var pve *pkgauth.PasswordValidationError
	if errors.As(err, &pve) {
		pkghttp.WriteWeakPassword(w, strings.Join(pve.Errors, "; "))
		return
	}

	switch {
	case errors.Is(err, models.ErrTooManyAttempts):
		pkghttp.WriteTooManyAttempts(w)
	case errors.Is(err, models.ErrInvalidCode):
		pkghttp.WriteInvalidCode(w)
	case errors.Is(err, models.ErrInvalidOrExpiredToken):
		pkghttp.WriteInvalidToken(w)
	case errors.Is(err, models.ErrEmailNotVerified):
		pkghttp.WriteEmailNotVerified(w)
	case errors.Is(err, models.ErrMissingReason):
		pkghttp.WriteMissingReason(w, "A rejection reason is required")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "Administrator access required")
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Authentication required")
	default:
		writeByKind(w, r, logger, err)
	}
}

func writeByKind(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch models.KindOf(err) {
	case models.KindValidation:
		pkghttp.WriteBadRequest(w, err.Error())
	case models.KindConflict:
		pkghttp.WriteConflict(w, err.Error())
	case models.KindNotFound:
		pkghttp.WriteNotFound(w, "Registration request not found")
	case models.KindUnavailable:
		pkghttp.WriteUnavailable(w, "Service temporarily unavailable. Please retry.")
	default:
		logger.Error("unhandled registration error",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
