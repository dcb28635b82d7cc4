package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"raffle/internal/logger"
	"raffle/internal/lottery"
	"raffle/internal/token"
)

var log = logger.Named("api")

// Engine is everything the HTTP surface needs from the lottery engine.
type Engine interface {
	BuyTickets(ctx context.Context, req lottery.BuyRequest) (*lottery.OrderReceipt, error)
	AddIncentives(ctx context.Context, req lottery.IncentiveRequest) (*lottery.IncentivePackage, error)
	ClaimRewards(ctx context.Context, wallet string) (*lottery.TransferSet, error)
	FlushPayouts(ctx context.Context) ([]lottery.TransferSet, error)
	CloseRound(ctx context.Context, wallet string) (*lottery.Round, error)
	Activate(ctx context.Context, owner string) error
	Cancel(ctx context.Context, owner string) error

	GetLottery() lottery.Lottery
	GetRound(q lottery.RoundQuery) (*lottery.Round, error)
	GetClaims() []lottery.Claim
	GetIncentives(index *uint32) ([]lottery.IncentivePackage, error)
	GetBalances() (lottery.Balances, error)
	GetPayouts() []lottery.TransferSet
}

// Depositor records contract tokens custody received off the engine's path.
type Depositor interface {
	Deposit(ctx context.Context, owner string, coin token.Coin) error
}

type HTTPHandler struct {
	engine   Engine
	deposits Depositor
}

// NewHTTPHandler serves /deposits only when deposits is set.
func NewHTTPHandler(engine Engine, deposits Depositor) *HTTPHandler {
	return &HTTPHandler{engine: engine, deposits: deposits}
}

// WalletRequest carries the caller of owner and keeper operations.
type WalletRequest struct {
	Wallet string `json:"wallet" binding:"required"`
}

// DepositRequest is the lottery owner attesting that Wallet sent Coin to custody.
type DepositRequest struct {
	Owner  string     `json:"owner" binding:"required"`
	Wallet string     `json:"wallet" binding:"required"`
	Coin   token.Coin `json:"coin"`
}

func (h *HTTPHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/tickets", h.BuyTickets)
	router.POST("/incentives", h.AddIncentives)
	router.POST("/claims/:wallet", h.ClaimRewards)
	router.POST("/rounds/close", h.CloseRound)
	router.POST("/activate", h.Activate)
	router.POST("/cancel", h.Cancel)
	router.POST("/payouts", h.FlushPayouts)
	if h.deposits != nil {
		router.POST("/deposits", h.Deposit)
	}

	router.GET("/lottery", h.GetLottery)
	router.GET("/rounds", h.GetRound)
	router.GET("/rounds/:index", h.GetRound)
	router.GET("/claims", h.GetClaims)
	router.GET("/incentives", h.GetIncentives)
	router.GET("/balances", h.GetBalances)
	router.GET("/payouts", h.GetPayouts)
}

// NewRouter builds a gin engine serving every route.
func NewRouter(engine Engine, deposits Depositor) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	NewHTTPHandler(engine, deposits).RegisterRoutes(router)
	return router
}

func (h *HTTPHandler) BuyTickets(c *gin.Context) {
	var req lottery.BuyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	receipt, err := h.engine.BuyTickets(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (h *HTTPHandler) AddIncentives(c *gin.Context) {
	var req lottery.IncentiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pkg, err := h.engine.AddIncentives(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pkg)
}

func (h *HTTPHandler) ClaimRewards(c *gin.Context) {
	set, err := h.engine.ClaimRewards(c.Request.Context(), c.Param("wallet"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, set)
}

// FlushPayouts retries queued transfer sets; 502 when custody still fails.
func (h *HTTPHandler) FlushPayouts(c *gin.Context) {
	pending, err := h.engine.FlushPayouts(c.Request.Context())
	if err != nil {
		log.Warn("payouts still pending", zap.Int("sets", len(pending)), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "pending": pending})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": pending})
}

func (h *HTTPHandler) Deposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Owner != h.engine.GetLottery().Owner {
		fail(c, xerrors.Errorf("deposit attested by %s: %w", req.Owner, lottery.ErrUnauthorized))
		return
	}
	if req.Coin.Amount == 0 {
		fail(c, xerrors.Errorf("deposit: %w", lottery.ErrInvalidAmount))
		return
	}

	if err := h.deposits.Deposit(c.Request.Context(), req.Wallet, req.Coin); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req.Coin)
}

func (h *HTTPHandler) CloseRound(c *gin.Context) {
	var req WalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	round, err := h.engine.CloseRound(c.Request.Context(), req.Wallet)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, round)
}

func (h *HTTPHandler) Activate(c *gin.Context) {
	h.ownerAction(c, h.engine.Activate)
}

func (h *HTTPHandler) Cancel(c *gin.Context) {
	h.ownerAction(c, h.engine.Cancel)
}

func (h *HTTPHandler) ownerAction(c *gin.Context, action func(context.Context, string) error) {
	var req WalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := action(c.Request.Context(), req.Wallet); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.engine.GetLottery())
}

func (h *HTTPHandler) GetLottery(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.GetLottery())
}

// GetRound serves the current round, or the one in the path. Query flags
// winners, players and orders select the collections to include.
func (h *HTTPHandler) GetRound(c *gin.Context) {
	q := lottery.RoundQuery{
		Winners: c.Query("winners") == "true",
		Players: c.Query("players") == "true",
		Orders:  c.Query("orders") == "true",
	}
	if raw := c.Param("index"); raw != "" {
		index, ok := parseIndex(c, raw)
		if !ok {
			return
		}
		q.Index = &index
	}

	round, err := h.engine.GetRound(q)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, round)
}

func (h *HTTPHandler) GetClaims(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.GetClaims())
}

func (h *HTTPHandler) GetIncentives(c *gin.Context) {
	var index *uint32
	if raw := c.Query("round"); raw != "" {
		i, ok := parseIndex(c, raw)
		if !ok {
			return
		}
		index = &i
	}

	packages, err := h.engine.GetIncentives(index)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, packages)
}

func (h *HTTPHandler) GetBalances(c *gin.Context) {
	balances, err := h.engine.GetBalances()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, balances)
}

func (h *HTTPHandler) GetPayouts(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.GetPayouts())
}

func parseIndex(c *gin.Context, raw string) (uint32, bool) {
	index, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid round index " + strconv.Quote(raw)})
		return 0, false
	}
	return uint32(index), true
}

func fail(c *gin.Context, err error) {
	status := Status(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// Status maps engine errors to HTTP status codes.
func Status(err error) int {
	switch {
	case errors.Is(err, lottery.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, lottery.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, lottery.ErrNothingToClaim):
		return http.StatusNotFound
	case errors.Is(err, lottery.ErrInvalidRound):
		return http.StatusConflict
	case errors.Is(err, lottery.ErrInvalidAmount),
		errors.Is(err, lottery.ErrInvalidConfig),
		errors.Is(err, lottery.ErrUnknownToken),
		errors.Is(err, lottery.ErrWalletLimitExceeded):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
