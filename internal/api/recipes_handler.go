package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quantloop/enginecore/internal/storage"
)

// RecipeHandler serves GET /api/v1/recipes/:name.
type RecipeHandler struct {
	recipes *storage.RecipeStore
}

// GetRecipe fetches the stored recipe definition by name.
func (h *RecipeHandler) GetRecipe(c *gin.Context) {
	r, err := h.recipes.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, r)
}
