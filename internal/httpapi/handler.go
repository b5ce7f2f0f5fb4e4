package httpapi

import (
	"net/http"
	"time"

	"cookshare-payouts/pkg/config"
	"cookshare-payouts/pkg/db/pagination"
	"cookshare-payouts/pkg/errutil"
	"cookshare-payouts/pkg/middleware"
	"cookshare-payouts/services/commission"
	"cookshare-payouts/services/creator"
	"cookshare-payouts/services/engagement"
	"cookshare-payouts/services/payout"
	"cookshare-payouts/services/revenue"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi", fx.Provide(ProvideHandler))

type Handler struct {
	creators    *creator.Service
	engagements *engagement.Service
	revenues    *revenue.Service
	commissions *commission.Service
	payouts     *payout.Service
	allocator   *payout.Allocator
}

type Params struct {
	fx.In
	Config      *config.Config
	Creators    *creator.Service
	Engagements *engagement.Service
	Revenues    *revenue.Service
	Commissions *commission.Service
	Payouts     *payout.Service
	Allocator   *payout.Allocator
}

// ProvideHandler builds the gin router for the ingestion and payout API.
func ProvideHandler(p Params) http.Handler {
	h := &Handler{
		creators:    p.Creators,
		engagements: p.Engagements,
		revenues:    p.Revenues,
		commissions: p.Commissions,
		payouts:     p.Payouts,
		allocator:   p.Allocator,
	}

	if p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	{
		v1.POST("/creators", h.upsertCreator)
		v1.GET("/creators/:id", h.getCreator)

		v1.POST("/engagement", h.recordEngagement)
		v1.POST("/revenue/transactions", h.ingestRevenue)

		v1.POST("/commissions", h.recordCommission)
		v1.POST("/commissions/:orderID/refund", h.refundCommission)

		v1.POST("/payouts/allocations", h.runAllocation)
		v1.POST("/payouts/:id/retry", h.retryPayout)
		v1.GET("/payouts", h.listPayouts)
		v1.GET("/payouts/:id", h.getPayout)
	}

	return r
}

type upsertCreatorRequest struct {
	CreatorID         string `json:"creator_id" binding:"required"`
	Handle            string `json:"handle"`
	Tier              string `json:"tier" binding:"required"`
	RESMultiplierBP   int64  `json:"res_multiplier_bp"`
	PayoutDestination string `json:"payout_destination"`
}

func (h *Handler) upsertCreator(c *gin.Context) {
	var req upsertCreatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	profile, err := h.creators.Upsert(c.Request.Context(), &creator.Profile{
		CreatorID:         req.CreatorID,
		Handle:            req.Handle,
		Tier:              creator.Tier(req.Tier),
		RESMultiplierBP:   req.RESMultiplierBP,
		PayoutDestination: req.PayoutDestination,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) getCreator(c *gin.Context) {
	profile, err := h.creators.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

type recordEngagementRequest struct {
	RecipeID       string    `json:"recipe_id" binding:"required"`
	CreatorID      string    `json:"creator_id" binding:"required"`
	Day            time.Time `json:"day" binding:"required"`
	Saves          int64     `json:"saves"`
	Cooks          int64     `json:"cooks"`
	Shares         int64     `json:"shares"`
	Ratings        int64     `json:"ratings"`
	ExclusiveViews int64     `json:"exclusive_views"`
}

func (h *Handler) recordEngagement(c *gin.Context) {
	var req recordEngagementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	record, err := h.engagements.Record(c.Request.Context(), engagement.RecordInput{
		RecipeID:  req.RecipeID,
		CreatorID: req.CreatorID,
		Day:       req.Day,
		Metrics: engagement.Metrics{
			Saves:          req.Saves,
			Cooks:          req.Cooks,
			Shares:         req.Shares,
			Ratings:        req.Ratings,
			ExclusiveViews: req.ExclusiveViews,
		},
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, record)
}

type ingestRevenueRequest struct {
	ExternalID  string    `json:"external_id" binding:"required"`
	GrossAmount int64     `json:"gross_amount" binding:"required"`
	OccurredAt  time.Time `json:"occurred_at" binding:"required"`
	IsRenewal   bool      `json:"is_renewal"`
}

func (h *Handler) ingestRevenue(c *gin.Context) {
	var req ingestRevenueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	tx, err := h.revenues.Ingest(c.Request.Context(), revenue.IngestInput{
		ExternalID:  req.ExternalID,
		GrossAmount: req.GrossAmount,
		OccurredAt:  req.OccurredAt,
		IsRenewal:   req.IsRenewal,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

type recordCommissionRequest struct {
	CreatorID string    `json:"creator_id" binding:"required"`
	OrderID   string    `json:"order_id" binding:"required"`
	Amount    int64     `json:"amount" binding:"required"`
	Status    string    `json:"status"`
	PaidAt    time.Time `json:"paid_at" binding:"required"`
}

func (h *Handler) recordCommission(c *gin.Context) {
	var req recordCommissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	record, err := h.commissions.Record(c.Request.Context(), commission.RecordInput{
		CreatorID: req.CreatorID,
		OrderID:   req.OrderID,
		Amount:    req.Amount,
		Status:    commission.Status(req.Status),
		PaidAt:    req.PaidAt,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *Handler) refundCommission(c *gin.Context) {
	record, err := h.commissions.MarkRefunded(c.Request.Context(), c.Param("orderID"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, record)
}

type runAllocationRequest struct {
	PeriodStart time.Time `json:"period_start" binding:"required"`
	PeriodEnd   time.Time `json:"period_end" binding:"required"`
}

func (h *Handler) runAllocation(c *gin.Context) {
	var req runAllocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	batch, err := h.allocator.RunAllocation(c.Request.Context(), req.PeriodStart, req.PeriodEnd)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payouts": batch})
}

func (h *Handler) retryPayout(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		c.Error(errutil.BadRequest("invalid payout id"))
		return
	}

	po, err := h.payouts.Retry(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, po)
}

func (h *Handler) listPayouts(c *gin.Context) {
	var pg pagination.Pagination
	if err := c.ShouldBindQuery(&pg); err != nil {
		c.Error(errutil.BadRequest("invalid pagination parameters", errutil.WithErr(err)))
		return
	}

	var (
		payouts []*payout.Payout
		info    *pagination.PageInfo
		err     error
	)
	switch {
	case c.Query("period") != "":
		payouts, info, err = h.payouts.ListByPeriod(c.Request.Context(), c.Query("period"), pg)
	case c.Query("creator_id") != "":
		payouts, info, err = h.payouts.ListByCreator(c.Request.Context(), c.Query("creator_id"), pg)
	default:
		c.Error(errutil.BadRequest("period or creator_id query parameter is required"))
		return
	}
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payouts": payouts, "page_info": info})
}

func (h *Handler) getPayout(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		c.Error(errutil.BadRequest("invalid payout id"))
		return
	}

	po, err := h.payouts.Get(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, po)
}
