package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/quantloop/enginecore/internal/backtest"
	"github.com/quantloop/enginecore/internal/engineerr"
	"github.com/quantloop/enginecore/internal/performance"
	"github.com/quantloop/enginecore/internal/storage"
)

// BacktestHandler serves the stored-result reporting routes and the one
// synchronous run route, per SPEC_FULL.md §4.14.
type BacktestHandler struct {
	results *storage.BacktestResultStore
	recipes *storage.RecipeStore
	candles *storage.CandleStore
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ListBacktests handles GET /api/v1/backtests.
func (h *BacktestHandler) ListBacktests(c *gin.Context) {
	limit := queryInt(c, "limit", defaultListLimit, maxListLimit)
	offset := queryInt(c, "offset", 0, 1<<30)

	records, err := h.results.List(c.Request.Context(), limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("api: list backtests failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list backtests"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"backtests": records, "limit": limit, "offset": offset})
}

// GetBacktest handles GET /api/v1/backtests/:id, returning the full JSON
// report shape (spec §4.5).
func (h *BacktestHandler) GetBacktest(c *gin.Context) {
	rec, err := h.results.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", rec.ReportJSON)
}

// GetBacktestText handles GET /api/v1/backtests/:id/report.txt.
func (h *BacktestHandler) GetBacktestText(c *gin.Context) {
	rec, err := h.results.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	metrics := performance.Analyze(&rec.Result)
	text := performance.GenerateTextReport(&rec.Result, metrics)
	c.String(http.StatusOK, text)
}

// RunBacktestRequest is the body of POST /api/v1/backtests: a reference to a
// stored recipe plus the candle range and cost-model knobs to run it with.
type RunBacktestRequest struct {
	RecipeName        string  `json:"recipe_name" binding:"required"`
	StartTimeSec      int64   `json:"start_time_sec" binding:"required"`
	EndTimeSec        int64   `json:"end_time_sec" binding:"required"`
	CommissionPercent float64 `json:"commission_percent"`
	SlippagePercent   float64 `json:"slippage_percent"`
}

// RunBacktest handles POST /api/v1/backtests: loads the named recipe,
// fetches its candle range from storage, runs the simulator synchronously,
// persists the result, and returns the JSON report.
func (h *BacktestHandler) RunBacktest(c *gin.Context) {
	var req RunBacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if req.EndTimeSec <= req.StartTimeSec {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_time_sec must be after start_time_sec"})
		return
	}

	ctx := c.Request.Context()

	r, err := h.recipes.Get(ctx, req.RecipeName)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	candles, err := h.candles.Range(ctx, r.Market.Exchange, r.Market.Symbol, r.Market.Timeframe, req.StartTimeSec, req.EndTimeSec)
	if err != nil {
		log.Error().Err(err).Msg("api: fetch candle range failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch candle range"})
		return
	}
	if len(candles) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": engineerr.ErrInsufficientData.Error()})
		return
	}

	sim := backtest.NewSimulator(backtest.Config{
		InitialCapital:    r.Capital.Initial,
		CommissionPercent: req.CommissionPercent,
		SlippagePercent:   req.SlippagePercent,
		UseStopLoss:       r.RiskManagement.StopLossPercent > 0,
		UseTakeProfit:     r.RiskManagement.TakeProfitPercent > 0,
		MaxOpenPositions:  r.RiskManagement.MaxOpenPositions,
	})

	result, err := sim.Run(r, candles)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	metrics := performance.Analyze(result)
	reportJSON, err := performance.GenerateJSONReport(result, metrics)
	if err != nil {
		log.Error().Err(err).Msg("api: generate json report failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate report"})
		return
	}

	rec := &storage.BacktestRecord{
		RecipeName: r.Name,
		Symbol:     r.Market.Symbol,
		Result:     *result,
		ReportJSON: reportJSON,
	}
	id, err := h.results.Save(ctx, rec)
	if err != nil {
		log.Error().Err(err).Msg("api: persist backtest result failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist backtest result"})
		return
	}

	c.Data(http.StatusCreated, "application/json", reportJSON)
	log.Info().Str("id", id).Str("recipe", r.Name).Int("candles", len(candles)).Msg("api: ran backtest")
}

func queryInt(c *gin.Context, name string, def, max int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
