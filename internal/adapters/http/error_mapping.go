package httpadapter

import (
	"net/http"

	"github.com/kirillkom/file-organiser/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrTenantBusy):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrSchedulerStopped),
		domain.IsKind(err, domain.ErrStorage),
		domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
