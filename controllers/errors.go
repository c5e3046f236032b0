package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/engage/services"
	"github.com/cppla/engage/utils"
)

// respondError maps workflow errors onto the JSON error envelope.
func respondError(ctx *gin.Context, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		utils.Error(ctx, http.StatusBadRequest, 40020, verr.Error())
	case errors.Is(err, services.ErrValidation):
		utils.Error(ctx, http.StatusBadRequest, 40020, err.Error())
	case errors.Is(err, services.ErrCommentsClosed):
		utils.Error(ctx, http.StatusForbidden, 40320, "comments are closed")
	case errors.Is(err, services.ErrAccessDenied):
		utils.Error(ctx, http.StatusForbidden, 40300, "access denied")
	case errors.Is(err, services.ErrBlatantSpam):
		utils.Error(ctx, http.StatusUnprocessableEntity, 42200, "comment rejected")
	default:
		utils.Sugar.Errorw("request failed", "path", ctx.FullPath(), "error", err)
		utils.Error(ctx, http.StatusInternalServerError, 50000, "internal error")
	}
}

func paramID(ctx *gin.Context, name string) (uint, bool) {
	n, err := strconv.ParseUint(strings.TrimSpace(ctx.Param(name)), 10, 64)
	if err != nil || n == 0 {
		utils.Error(ctx, http.StatusBadRequest, 40050, "invalid "+name)
		return 0, false
	}
	return uint(n), true
}

func queryInt(ctx *gin.Context, name string, def int) int {
	if v := strings.TrimSpace(ctx.Query(name)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
