package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/OpenTransportCore/internal/storage"
	"github.com/KevinKickass/OpenTransportCore/internal/types"
)

// GET /api/v1/events?device=A&kind=sensor&since=RFC3339&limit=100
func (s *Server) listEvents(c *gin.Context) {
	journal := s.lm.Journal()
	if journal == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.CodeJournal, "Event journal disabled", nil))
		return
	}

	filter := storage.JournalFilter{
		Device: c.Query("device"),
		Kind:   c.Query("kind"),
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			badRequest(c, "Invalid since parameter", err)
			return
		}
		filter.Since = t
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			badRequest(c, "Invalid limit parameter", err)
			return
		}
		filter.Limit = n
	}

	entries, err := journal.RecentEvents(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.CodeJournal, "Failed to query journal", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": entries,
		"count":  len(entries),
	})
}
