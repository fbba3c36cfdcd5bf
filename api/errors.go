package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/osmcha/osmcha/errs"
)

// kindStatus maps error kinds to HTTP status codes. Conflict maps to
// 403, not 409; clients depend on it.
var kindStatus = map[errs.Kind]int{
	errs.KindValidation:       http.StatusBadRequest,
	errs.KindNotFound:         http.StatusNotFound,
	errs.KindNotPresent:       http.StatusNotFound,
	errs.KindOwnChangeset:     http.StatusForbidden,
	errs.KindAlreadyChecked:   http.StatusForbidden,
	errs.KindUnchecked:        http.StatusForbidden,
	errs.KindPermissionDenied: http.StatusForbidden,
	errs.KindConflict:         http.StatusForbidden,
	errs.KindRateLimited:      http.StatusTooManyRequests,
	errs.KindNetwork:          http.StatusBadGateway,
	errs.KindFormat:           http.StatusBadGateway,
	errs.KindCommentPost:      http.StatusBadRequest,
}

func apiError(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	body := gin.H{"detail": err.Error()}
	if kind != "" {
		body["code"] = string(kind)
	}
	if status == http.StatusTooManyRequests {
		c.Header("Retry-After", "60")
	}
	c.AbortWithStatusJSON(status, body)
}
