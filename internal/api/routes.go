package api

import "github.com/gin-gonic/gin"

// setupRoutes wires the reporting API's routes per SPEC_FULL.md §4.14: all
// GET routes are unauthenticated; the POST route is the only one gated by
// RequireJWT.
func setupRoutes(router *gin.Engine, backtests *BacktestHandler, recipes *RecipeHandler, jwtSecret string) {
	v1 := router.Group("/api/v1")
	{
		v1.GET("/backtests", backtests.ListBacktests)
		v1.GET("/backtests/:id", backtests.GetBacktest)
		v1.GET("/backtests/:id/report.txt", backtests.GetBacktestText)
		v1.POST("/backtests", RequireJWT(jwtSecret), backtests.RunBacktest)

		v1.GET("/recipes/:name", recipes.GetRecipe)
	}
}
