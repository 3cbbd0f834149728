package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenTransportCore/internal/machine"
	"github.com/KevinKickass/OpenTransportCore/internal/types"
)

// machineInterlock rejects actuation while the machine is in emergency stop.
// Stop routes stay open, they only bring outputs to rest.
func (s *Server) machineInterlock() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := s.lm.MachineController().GetStatus()
		if status.State == machine.StateEmergency {
			c.AbortWithStatusJSON(http.StatusConflict, types.NewErrorResponse(types.CodeMachineState,
				"Machine is in emergency stop", "reset the machine before operating devices"))
			return
		}
		c.Next()
	}
}

// GET /api/v1/machine/status
func (s *Server) getMachineStatus(c *gin.Context) {
	status := s.lm.MachineController().GetStatus()
	c.JSON(http.StatusOK, status)
}

// POST /api/v1/machine/command
func (s *Server) executeMachineCommand(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeMachineRequest, "Invalid request body", err.Error()))
		return
	}

	cmd := machine.Command(req.Command)

	if err := s.lm.MachineController().ExecuteCommand(c.Request.Context(), cmd); err != nil {
		s.logger.Warn("Machine command failed",
			zap.String("command", req.Command),
			zap.Error(err))
		s.respondError(c, "Command execution failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Command executed",
		"command": req.Command,
		"status":  s.lm.MachineController().GetStatus(),
	})
}
