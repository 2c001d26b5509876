package http

import (
	"errors"
	"net/http"
	"time"

	"golang-updown-settler/internal/entity"
	"golang-updown-settler/internal/settler/dto"
	"golang-updown-settler/internal/settler/service"
	"golang-updown-settler/pkg/logger"
	"golang-updown-settler/pkg/redislock"
	"golang-updown-settler/pkg/tradingcal"
	"golang-updown-settler/pkg/utils"

	"github.com/labstack/echo/v4"
)

// SettlementHandler handles HTTP requests for settlement passes.
type SettlementHandler struct {
	settlementService service.SettlementService
	logger            *logger.Logger
}

// NewSettlementHandler creates a new SettlementHandler.
func NewSettlementHandler(settlementService service.SettlementService, logger *logger.Logger) *SettlementHandler {
	return &SettlementHandler{settlementService: settlementService, logger: logger}
}

// RegisterRoutes registers the settlement routes to the Echo group.
func (h *SettlementHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/run", h.RunSettlement)
	g.POST("/retry", h.RetrySettlement)
	g.GET("/runs", h.ListRuns)
	g.GET("/:day", h.GetSettlement)
}

// RunSettlement godoc
// @Summary Run a settlement pass
// @Description Runs a full settlement pass for a trading day. With no trading_day the day is resolved from the current instant; a past day is a backfill under the same guarantees.
// @Tags settlements
// @Accept  json
// @Produce  json
// @Param   request  body    dto.RunSettlementRequest   true    "Pass to run"
// @Success 200 {object} dto.SettlementDayResult
// @Failure 400 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Router /settlements/run [post]
func (h *SettlementHandler) RunSettlement(c echo.Context) error {
	var req dto.RunSettlementRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request payload"})
	}

	req.TriggeredBy = entity.RunTriggerManual
	req.AsOf = time.Now().UTC()

	result, err := h.settlementService.RunSettlement(c.Request().Context(), &req)
	if err != nil {
		return h.settlementError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// RetrySettlement godoc
// @Summary Retry a settlement pass
// @Description Re-runs settlement for a trading day, restricted to the unresolved symbols (or the given subset).
// @Tags settlements
// @Accept  json
// @Produce  json
// @Param   request  body    dto.RetrySettlementRequest   true    "Pass to retry"
// @Success 200 {object} dto.SettlementDayResult
// @Failure 400 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Router /settlements/retry [post]
func (h *SettlementHandler) RetrySettlement(c echo.Context) error {
	var req dto.RetrySettlementRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request payload"})
	}
	if req.TradingDay == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "trading_day is required"})
	}

	result, err := h.settlementService.RetrySettlement(c.Request().Context(), &req)
	if err != nil {
		return h.settlementError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// GetSettlement godoc
// @Summary Get settlement records for a day
// @Description Returns the settlement records of a trading day. Reads of an already-settled day are cheap and side-effect-free.
// @Tags settlements
// @Produce  json
// @Param   day  path    string true    "Trading day (YYYY-MM-DD)"
// @Success 200 {array} entity.SettlementRecord
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /settlements/{day} [get]
func (h *SettlementHandler) GetSettlement(c echo.Context) error {
	day, err := utils.ParseDay(c.Param("day"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid trading day"})
	}

	records, err := h.settlementService.GetSettlement(c.Request().Context(), day)
	if err != nil {
		h.logger.Error("Failed to get settlement records", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Failed to get settlement records"})
	}
	return c.JSON(http.StatusOK, records)
}

// ListRuns godoc
// @Summary List settlement runs
// @Description Returns recent settlement run audit rows, optionally for one trading day.
// @Tags settlements
// @Produce  json
// @Param   trading_day  query   string false    "Trading day (YYYY-MM-DD)"
// @Success 200 {array} entity.SettlementRun
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /settlements/runs [get]
func (h *SettlementHandler) ListRuns(c echo.Context) error {
	var day *time.Time
	if q := c.QueryParam("trading_day"); q != "" {
		parsed, err := utils.ParseDay(q)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid trading day"})
		}
		day = &parsed
	}

	runs, err := h.settlementService.ListRuns(c.Request().Context(), day)
	if err != nil {
		h.logger.Error("Failed to list settlement runs", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Failed to list settlement runs"})
	}
	return c.JSON(http.StatusOK, runs)
}

func (h *SettlementHandler) settlementError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, redislock.ErrLockHeld):
		return c.JSON(http.StatusConflict, echo.Map{"error": "settlement already running for this day"})
	case errors.Is(err, service.ErrNotTradingDay):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrMissingAsOf):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, tradingcal.ErrMissingCalendarData):
		h.logger.Error("Calendar configuration missing", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "calendar configuration missing"})
	default:
		h.logger.Error("Settlement pass failed", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
}
