package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/newswright/app/cfg"
	"github.com/lysyi3m/newswright/app/database"
)

type Handler struct {
	store     database.ArticleRepository
	feedCount int
}

func NewHandler(store database.ArticleRepository, feedCount int) *Handler {
	return &Handler{
		store:     store,
		feedCount: feedCount,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"version":   cfg.GetVersion(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) GetStats(c *gin.Context) {
	counts, err := h.store.CountByState()
	if err != nil {
		slog.Error("Database error", "operation", "count_by_state", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	total := 0
	byState := make(map[string]int, len(counts))
	for state, count := range counts {
		byState[string(state)] = count
		total += count
	}

	c.JSON(http.StatusOK, gin.H{
		"feeds":    h.feedCount,
		"articles": total,
		"by_state": byState,
	})
}
