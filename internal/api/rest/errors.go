package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenTransportCore/internal/machine"
	"github.com/KevinKickass/OpenTransportCore/internal/station"
	"github.com/KevinKickass/OpenTransportCore/internal/types"
)

// respondError maps station and machine errors to HTTP responses.
func (s *Server) respondError(c *gin.Context, message string, err error) {
	status, code := http.StatusInternalServerError, types.CodeInternal

	switch {
	case errors.Is(err, station.ErrUnknownDevice):
		status, code = http.StatusNotFound, types.CodeUnknownDevice
	case errors.Is(err, station.ErrWrongKind),
		errors.Is(err, station.ErrUnknownRole),
		errors.Is(err, station.ErrInvalidPosition),
		errors.Is(err, station.ErrInvalidSpeed),
		errors.Is(err, station.ErrBitOutOfRange):
		status, code = http.StatusBadRequest, types.CodeBadRequest
	case errors.Is(err, station.ErrTransportUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusServiceUnavailable, types.CodeTransport
	case errors.Is(err, machine.ErrUnknownCommand):
		status, code = http.StatusBadRequest, types.CodeMachineRequest
	case errors.Is(err, machine.ErrInvalidState):
		status, code = http.StatusConflict, types.CodeMachineState
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error(message, zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, types.NewErrorResponse(code, message, err.Error()))
}

func badRequest(c *gin.Context, message string, err error) {
	c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, message, err.Error()))
}
