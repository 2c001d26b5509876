package http

import (
	"net/http"
	"strconv"

	"golang-updown-settler/internal/settler/service"
	"golang-updown-settler/pkg/logger"

	"github.com/labstack/echo/v4"
)

// LedgerHandler handles HTTP requests for point balances and history.
type LedgerHandler struct {
	ledgerService service.LedgerService
	logger        *logger.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(ledgerService service.LedgerService, logger *logger.Logger) *LedgerHandler {
	return &LedgerHandler{ledgerService: ledgerService, logger: logger}
}

// RegisterUserRoutes registers the per-user ledger routes.
func (h *LedgerHandler) RegisterUserRoutes(g *echo.Group) {
	g.GET("/:id/balance", h.GetBalance)
	g.GET("/:id/ledger", h.GetLedger)
}

// RegisterLedgerRoutes registers the ledger-wide routes.
func (h *LedgerHandler) RegisterLedgerRoutes(g *echo.Group) {
	g.GET("/integrity", h.VerifyIntegrity)
}

// GetBalance godoc
// @Summary Get a user's point balance
// @Description Returns the balanceAfter of the user's latest ledger entry, or zero.
// @Tags ledger
// @Produce  json
// @Param   id  path    int true    "User ID"
// @Success 200 {object} dto.BalanceResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /users/{id}/balance [get]
func (h *LedgerHandler) GetBalance(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid user ID"})
	}

	balance, err := h.ledgerService.GetBalance(c.Request().Context(), uint(id))
	if err != nil {
		h.logger.Error("Failed to get balance", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Failed to get balance"})
	}
	return c.JSON(http.StatusOK, balance)
}

// GetLedger godoc
// @Summary Get a user's ledger history
// @Description Returns one page of the user's ledger entries, newest first.
// @Tags ledger
// @Produce  json
// @Param   id  path    int true    "User ID"
// @Param   page  query   int false    "Page number (1-based)"
// @Success 200 {object} dto.LedgerPageResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /users/{id}/ledger [get]
func (h *LedgerHandler) GetLedger(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid user ID"})
	}

	page := 1
	if q := c.QueryParam("page"); q != "" {
		page, err = strconv.Atoi(q)
		if err != nil || page < 1 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid page"})
		}
	}

	history, err := h.ledgerService.GetLedger(c.Request().Context(), uint(id), page)
	if err != nil {
		h.logger.Error("Failed to get ledger history", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Failed to get ledger history"})
	}
	return c.JSON(http.StatusOK, history)
}

// VerifyIntegrity godoc
// @Summary Verify ledger integrity
// @Description Recomputes each user's delta sum and compares it with the recorded balance. Mismatches are reported, never auto-corrected.
// @Tags ledger
// @Produce  json
// @Param   user_id  query   int false    "Restrict the check to one user"
// @Success 200 {object} dto.IntegrityReport
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /ledger/integrity [get]
func (h *LedgerHandler) VerifyIntegrity(c echo.Context) error {
	var userID *uint
	if q := c.QueryParam("user_id"); q != "" {
		id, err := strconv.ParseUint(q, 10, 32)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid user ID"})
		}
		uid := uint(id)
		userID = &uid
	}

	report, err := h.ledgerService.VerifyIntegrity(c.Request().Context(), userID)
	if err != nil {
		h.logger.Error("Failed to verify ledger integrity", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Failed to verify ledger integrity"})
	}
	return c.JSON(http.StatusOK, report)
}
