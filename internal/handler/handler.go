package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"arcadepay/internal/catalog"
	"arcadepay/internal/ledger"
	"arcadepay/internal/service"
	"arcadepay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Handler maps HTTP requests onto the ledger, registry, admin and catalog.
type Handler struct {
	ledger        *ledger.Ledger
	registry      *service.CardRegistry
	admin         *service.AdminService
	catalog       *catalog.Catalog
	enforcePrices bool
	log           logrus.FieldLogger
}

type Options struct {
	// EnforcePrices makes /play charge the catalog price and reject unknown games.
	EnforcePrices bool
	Logger        logrus.FieldLogger
}

func NewHandler(l *ledger.Ledger, registry *service.CardRegistry, admin *service.AdminService, cat *catalog.Catalog, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Handler{
		ledger:        l,
		registry:      registry,
		admin:         admin,
		catalog:       cat,
		enforcePrices: opts.EnforcePrices,
		log:           opts.Logger,
	}
}

// ListCards GET /api/cards
func (h *Handler) ListCards(c *gin.Context) {
	cards, err := h.registry.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, cards)
}

type CreateCardRequest struct {
	Holder string `json:"holder" binding:"required"`
	Number string `json:"number" binding:"required"`
	// InitialBalance may be a JSON number or string; anything unparsable counts as zero.
	InitialBalance json.RawMessage `json:"initialBalance"`
}

// CreateCard POST /api/cards
func (h *Handler) CreateCard(c *gin.Context) {
	var req CreateCardRequest
	if !h.bind(c, &req) {
		return
	}

	card, err := h.ledger.CreateCard(c.Request.Context(), req.Holder, req.Number, lenientDecimal(req.InitialBalance))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, card)
}

// GetCard GET /api/cards/:id
func (h *Handler) GetCard(c *gin.Context) {
	id, ok := cardID(c)
	if !ok {
		return
	}
	card, err := h.registry.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, card)
}

// ListTransactions GET /api/cards/:id/transactions?limit=
func (h *Handler) ListTransactions(c *gin.Context) {
	id, ok := cardID(c)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			response.ParamError(c, "limit must be an integer")
			return
		}
		limit = n
	}

	txns, err := h.ledger.History(c.Request.Context(), id, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, txns)
}

type RechargeRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note" binding:"max=256"`
}

type BalanceResponse struct {
	CardID  int64           `json:"card_id"`
	Balance decimal.Decimal `json:"balance"`
}

// Recharge POST /api/cards/:id/recharge
func (h *Handler) Recharge(c *gin.Context) {
	id, ok := cardID(c)
	if !ok {
		return
	}
	var req RechargeRequest
	if !h.bind(c, &req) {
		return
	}

	balance, err := h.ledger.Recharge(c.Request.Context(), id, req.Amount, req.Note)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, BalanceResponse{CardID: id, Balance: balance})
}

type PlayRequest struct {
	GameID string           `json:"gameId" binding:"required,max=64"`
	Cost   *decimal.Decimal `json:"cost"`
}

// Play POST /api/cards/:id/play
func (h *Handler) Play(c *gin.Context) {
	id, ok := cardID(c)
	if !ok {
		return
	}
	var req PlayRequest
	if !h.bind(c, &req) {
		return
	}

	cost, err := h.playCost(req)
	if err != nil {
		h.fail(c, err)
		return
	}

	balance, err := h.ledger.Debit(c.Request.Context(), id, cost, req.GameID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, BalanceResponse{CardID: id, Balance: balance})
}

// playCost resolves the amount to charge. Without price enforcement the
// client's cost is trusted, as the arcade front end always sends it.
func (h *Handler) playCost(req PlayRequest) (decimal.Decimal, error) {
	if !h.enforcePrices {
		if req.Cost == nil {
			return decimal.Zero, ledger.ErrInvalidAmount
		}
		return *req.Cost, nil
	}

	item, err := h.catalog.Get(req.GameID)
	if err != nil {
		return decimal.Zero, err
	}
	if req.Cost != nil && !req.Cost.Equal(item.Cost) {
		return decimal.Zero, errPriceMismatch
	}
	return item.Cost, nil
}

// DeleteCard DELETE /api/cards/:id
func (h *Handler) DeleteCard(c *gin.Context) {
	id, ok := cardID(c)
	if !ok {
		return
	}
	if err := h.ledger.DeleteCard(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"card_id": id, "deleted": true})
}

// ResetAll POST /api/reset-all
func (h *Handler) ResetAll(c *gin.Context) {
	if err := h.admin.ResetAll(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"reset": true})
}

// ListGames GET /api/games
func (h *Handler) ListGames(c *gin.Context) {
	response.Success(c, h.catalog.List())
}

var errPriceMismatch = errors.New("cost does not match the catalog price")

// fail maps an error to its HTTP status and business code.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeInvalidInput, err.Error())
	case errors.Is(err, catalog.ErrUnknownItem), errors.Is(err, errPriceMismatch):
		response.Error(c, http.StatusBadRequest, response.CodeInvalidInput, err.Error())
	case errors.Is(err, ledger.ErrCardNotFound):
		response.Error(c, http.StatusNotFound, response.CodeCardNotFound, err.Error())
	case errors.Is(err, ledger.ErrDuplicateCardNumber):
		response.Error(c, http.StatusConflict, response.CodeDuplicateCardNumber, err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance):
		response.Error(c, http.StatusUnprocessableEntity, response.CodeInsufficientBalance, err.Error())
	case errors.Is(err, service.ErrResetDisabled):
		response.Error(c, http.StatusForbidden, response.CodeResetDisabled, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		response.Error(c, http.StatusServiceUnavailable, response.CodeStoreFailure, "request canceled")
	default:
		requestLogger(c, h.log).WithError(err).Error("request failed")
		// the outcome of a failed commit is unknown to the client
		response.ServerError(c, "internal error, the operation may or may not have been applied")
	}
}

type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// bind decodes the JSON body; on failure it writes a 400 with per-field details.
func (h *Handler) bind(c *gin.Context, req interface{}) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, FieldError{Field: fe.Field(), Rule: fe.Tag()})
		}
		response.ErrorWithData(c, http.StatusBadRequest, response.CodeInvalidInput, "invalid request", details)
		return false
	}
	response.ParamError(c, "invalid request body: "+err.Error())
	return false
}

func cardID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "card id must be a positive integer")
		return 0, false
	}
	return id, true
}

func lenientDecimal(raw json.RawMessage) decimal.Decimal {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}
