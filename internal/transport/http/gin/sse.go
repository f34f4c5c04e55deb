package httpgin

import (
	"io"

	"github.com/gin-gonic/gin"
	"github.com/seathold/seathold/internal/service"
)

// @Summary  Stream block changes (SSE)
// @Param    id       path  int  true  "Event ID"
// @Param    blockID  path  int  true  "Block ID"
// @Produce  text/event-stream
// @Success  200 {string} string "snapshot event, then change events"
// @Router   /events/{id}/blocks/{blockID}/stream [get]
func handleStreamBlock(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		blockID, ok := parseInt64Param(c, "blockID")
		if !ok {
			return
		}

		ch, cancel, err := svcs.Feed.Subscribe(c.Request.Context(), eventID, blockID)
		if err != nil {
			respondErr(c, err)
			return
		}
		defer cancel()

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		c.Stream(func(w io.Writer) bool {
			select {
			case msg, open := <-ch:
				if !open {
					return false
				}
				c.SSEvent(msg.Kind, msg.Seats)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	}
}
