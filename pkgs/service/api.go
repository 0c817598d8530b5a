package service

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/bikera/location-consensus-validator/pkgs/clustering"
	"github.com/bikera/location-consensus-validator/pkgs/consensus"
	"github.com/bikera/location-consensus-validator/pkgs/ledger"
	"github.com/bikera/location-consensus-validator/pkgs/validator"
)

// API exposes the core pipeline operations over HTTP
type API struct {
	validator  *validator.IntervalValidator
	aggregator *consensus.Aggregator
	ledger     *ledger.Ledger
	authToken  string
}

// NewAPI creates the HTTP service wrapping the pipeline components
func NewAPI(v *validator.IntervalValidator, a *consensus.Aggregator, l *ledger.Ledger, authToken string) *API {
	return &API{
		validator:  v,
		aggregator: a,
		ledger:     l,
		authToken:  authToken,
	}
}

// Router builds the gin engine with all routes registered
func (api *API) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", api.Health)

	v1 := router.Group("/api/v1")
	if api.authToken != "" {
		v1.Use(api.authMiddleware())
	}
	{
		v1.POST("/validate", api.ValidateBatch)
		v1.POST("/consensus", api.SubmitConsensus)
		v1.GET("/blocks/latest", api.LatestBlocks)
		v1.GET("/blocks", api.BlockRange)
	}

	return router
}

// Run serves the API on the given host/port. Blocks; run in a goroutine.
func (api *API) Run(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Infof("API listening on %s", addr)
	return api.Router().Run(addr)
}

func (api *API) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token != "Bearer "+api.authToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// Health reports liveness and ledger height
func (api *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"ledger_height": api.ledger.Len(),
	})
}

// validateRequest accepts either the single-interval shape or the batch shape
type validateRequest struct {
	IntervalID       uint64                    `json:"interval_id"`
	Submissions      []clustering.Submission   `json:"submissions"`
	IntervalIDs      []uint64                  `json:"interval_ids"`
	SubmissionsBatch [][]clustering.Submission `json:"submissions_batch"`
	Signature        string                    `json:"signature"`
}

// ValidateBatch runs validation and clustering for one or more intervals.
// Read-only: no shared state is touched.
func (api *API) ValidateBatch(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}

	// Single interval is a batch of size one
	if len(req.IntervalIDs) == 0 {
		result := api.validator.Validate(req.IntervalID, req.Submissions, req.Signature)
		c.JSON(http.StatusOK, result)
		return
	}

	result := api.validator.ValidateBatch(&validator.BatchValidationRequest{
		IntervalIDs:      req.IntervalIDs,
		SubmissionsBatch: req.SubmissionsBatch,
		Signature:        req.Signature,
	})
	c.JSON(http.StatusOK, result)
}

// consensusRequest carries one collector's interval result
type consensusRequest struct {
	IntervalID       uint64                   `json:"interval_id"`
	ValidationResult validator.IntervalResult `json:"validation_result"`
	CollectorID      string                   `json:"collector_id"`
}

// SubmitConsensus accepts a collector's interval result and finalizes the
// interval when quorum is reached
func (api *API) SubmitConsensus(c *gin.Context) {
	var req consensusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}

	if req.CollectorID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "collector_id is required"})
		return
	}

	outcome, err := api.aggregator.Submit(req.IntervalID, req.ValidationResult, req.CollectorID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, consensus.ErrDuplicateCollector), errors.Is(err, consensus.ErrInvalidResult):
			status = http.StatusConflict
		case errors.Is(err, consensus.ErrNoConsensusData), errors.Is(err, consensus.ErrNoWinningResult):
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, outcome)
}

// LatestBlocks returns the last count blocks, oldest first
func (api *API) LatestBlocks(c *gin.Context) {
	count, err := strconv.ParseUint(c.DefaultQuery("count", "10"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid count"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"blocks": api.ledger.Latest(count),
		"height": api.ledger.Len(),
	})
}

// BlockRange returns blocks in [start, start+limit), clamped to the ledger
func (api *API) BlockRange(c *gin.Context) {
	start, err := strconv.ParseUint(c.DefaultQuery("start", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start"})
		return
	}

	limit, err := strconv.ParseUint(c.DefaultQuery("limit", "50"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"blocks": api.ledger.GetRange(start, limit),
		"height": api.ledger.Len(),
	})
}
