package httpgin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	redisrepo "github.com/seathold/seathold/internal/repository/redis"
	"github.com/seathold/seathold/internal/service"
	"github.com/seathold/seathold/internal/service/allocation"
	"github.com/seathold/seathold/internal/service/snapshot"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func NewRouter(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	limiter *redisrepo.SlidingWindowLimiter,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Public API
	r.POST("/events/:id/seats/:seatID/hold", handleHoldSeat(svcs, idem, limiter))
	r.POST("/events/:id/seats/:seatID/release", handleReleaseSeat(svcs))
	r.POST("/events/:id/confirm", handleConfirmSeats(svcs))

	r.GET("/events/:id/blocks/:blockID/seats", handleBlockSeats(svcs))
	r.GET("/events/:id/blocks/:blockID/stream", handleStreamBlock(svcs))

	r.GET("/bookings/:id/allocations", handleBookingAllocations(svcs))

	// Admin-API
	admin := r.Group("/admin")
	{
		admin.POST("/events/:id/open", handleOpenBooking(svcs))
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  Hold a seat (idempotent)
// @Param    id      path  int  true  "Event ID"
// @Param    seatID  path  int  true  "Seat ID"
// @Param    req     body  HoldSeatRequest true "payload"
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201 {object} HoldSeatResponse
// @Failure  400 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "seat taken / idem in progress"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /events/{id}/seats/{seatID}/hold [post]
func handleHoldSeat(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	limiter *redisrepo.SlidingWindowLimiter,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		seatID, ok := parseInt64Param(c, "seatID")
		if !ok {
			return
		}
		var req HoldSeatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		if limiter != nil {
			allowed, _, retryAfter, err := limiter.Allow(c.Request.Context(), "ip:"+c.ClientIP())
			if err != nil {
				respondErr(c, err)
				return
			}
			if !allowed {
				c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
				c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited"})
				return
			}
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemHold(eventID, seatID, idemKey)

			if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
				c.Header("Idempotency-Key", idemKey)
				c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
				return
			}

			locked, err := idem.AcquireLock(c.Request.Context(), idemStorageKey, 60*time.Second)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
					c.Header("Idempotency-Key", idemKey)
					c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
				return
			}
		}

		err := svcs.Allocation.Hold(c.Request.Context(), eventID, seatID, req.HolderID)
		if err != nil {
			if idemStorageKey != "" && idem != nil {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		resp := HoldSeatResponse{EventID: eventID, SeatID: seatID}

		if idemStorageKey != "" && idem != nil {
			b, _ := json.Marshal(resp)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

// @Summary  Release a held seat
// @Param    id      path  int  true  "Event ID"
// @Param    seatID  path  int  true  "Seat ID"
// @Param    req     body  ReleaseSeatRequest true "payload"
// @Success  204
// @Failure  403 {object} ErrorResponse "held by someone else"
// @Failure  404 {object} ErrorResponse
// @Router   /events/{id}/seats/{seatID}/release [post]
func handleReleaseSeat(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		seatID, ok := parseInt64Param(c, "seatID")
		if !ok {
			return
		}
		var req ReleaseSeatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		if err := svcs.Allocation.Release(c.Request.Context(), eventID, seatID, req.HolderID); err != nil {
			respondErr(c, err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// @Summary  Confirm held seats into a booking
// @Param    id   path  int  true  "Event ID"
// @Param    req  body  ConfirmSeatsRequest true "payload"
// @Success  201 {object} ConfirmSeatsResponse
// @Failure  409 {object} ErrorResponse "no seats left to confirm"
// @Router   /events/{id}/confirm [post]
func handleConfirmSeats(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req ConfirmSeatsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		confirmed, bookingID, err := svcs.Allocation.Confirm(
			c.Request.Context(),
			eventID,
			req.SeatIDs,
			req.HolderID,
		)
		if err != nil {
			respondErr(c, err)
			return
		}

		seatIDs := make([]int64, 0, len(confirmed))
		for _, a := range confirmed {
			seatIDs = append(seatIDs, a.SeatID)
		}

		c.JSON(http.StatusCreated, ConfirmSeatsResponse{
			BookingID: bookingID.String(),
			SeatIDs:   seatIDs,
		})
	}
}

// @Summary  Block seat statuses
// @Param    id       path   int     true  "Event ID"
// @Param    blockID  path   int     true  "Block ID"
// @Param    strategy query  string  false "direct | collapse | shared | local"
// @Param    schema   query  string  false "denorm | join"
// @Success  200 {array}  domain.SeatStatus
// @Failure  400 {object} ErrorResponse
// @Failure  504 {object} ErrorResponse "store read timed out"
// @Router   /events/{id}/blocks/{blockID}/seats [get]
func handleBlockSeats(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		blockID, ok := parseInt64Param(c, "blockID")
		if !ok {
			return
		}

		strategy, err := snapshot.ParseStrategy(c.Query("strategy"))
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		schema, err := snapshot.ParseSchema(c.Query("schema"))
		if err != nil {
			badRequest(c, err.Error())
			return
		}

		snap, err := svcs.Snapshot.GetSnapshot(c.Request.Context(), eventID, blockID, strategy, schema)
		if err != nil {
			respondErr(c, err)
			return
		}

		writeJSONWithCache(c, http.StatusOK, snap, "public, max-age=1")
	}
}

// @Summary  Booking allocations
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  200 {array}  domain.Allocation
// @Failure  404 {object} ErrorResponse
// @Router   /bookings/{id}/allocations [get]
func handleBookingAllocations(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			badRequest(c, "invalid booking id")
			return
		}

		allocs, err := svcs.Allocation.AllocationsForBooking(c.Request.Context(), bookingID)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, allocs)
	}
}

// @Summary  Open booking and seed seat allocations
// @Param    id  path  int  true  "Event ID"
// @Success  201 {object} OpenBookingResponse
// @Failure  404 {object} ErrorResponse
// @Router   /admin/events/{id}/open [post]
func handleOpenBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		inserted, err := svcs.Allocation.OpenBooking(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, OpenBookingResponse{
			EventID:       eventID,
			SeatsInserted: inserted,
		})
	}
}

// --- Helpers ---

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	switch {
	// allocation service
	case errors.Is(err, allocation.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
	case errors.Is(err, allocation.ErrSeatNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "seat not found"})
	case errors.Is(err, allocation.ErrAllocationNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "allocation not found"})
	case errors.Is(err, allocation.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "booking not found"})
	case errors.Is(err, allocation.ErrBookingClosed):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "booking closed"})
	case errors.Is(err, allocation.ErrAlreadyHeld):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "seat already held"})
	case errors.Is(err, allocation.ErrAlreadyOccupied):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "seat already occupied"})
	case errors.Is(err, allocation.ErrHoldConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "hold conflict"})
	case errors.Is(err, allocation.ErrNothingToConfirm):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "no seats left to confirm"})
	case errors.Is(err, allocation.ErrUnauthorizedRelease):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "seat held by someone else"})
	// snapshot service
	case errors.Is(err, snapshot.ErrSnapshotTimeout):
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{Error: "snapshot timed out"})
	case errors.Is(err, snapshot.ErrUnknownStrategy), errors.Is(err, snapshot.ErrUnknownSchema):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
