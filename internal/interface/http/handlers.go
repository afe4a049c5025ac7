package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/guildkit/guild-leveling/internal/domain/shared"
	"github.com/guildkit/guild-leveling/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type handlers struct {
	leveling Leveling
	now      func() time.Time
	logger   *logger.Logger
}

// fail renders err. Expected outcomes are not logged as failures.
func (h *handlers) fail(c *gin.Context, op string, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			logger.Operation(op),
			logger.String("request_id", c.GetString(ctxRequestID)),
			logger.Err(err),
		)
	}
	abortWithError(c, status, code, err.Error())
}

func (h *handlers) guildParam(c *gin.Context) (shared.GuildID, bool) {
	id, err := shared.ParseGuildID(c.Param("guild"))
	if err != nil {
		h.fail(c, "parse", err)
		return 0, false
	}
	return id, true
}

func (h *handlers) memberParams(c *gin.Context) (shared.GuildID, shared.UserID, bool) {
	guildID, ok := h.guildParam(c)
	if !ok {
		return 0, 0, false
	}
	userID, err := shared.ParseUserID(c.Param("user"))
	if err != nil {
		h.fail(c, "parse", err)
		return 0, 0, false
	}
	return guildID, userID, true
}

func (h *handlers) health(c *gin.Context) {
	if err := h.leveling.Ping(c.Request.Context()); err != nil {
		h.logger.Warn("health check failed", logger.Err(err))
		abortWithError(c, http.StatusServiceUnavailable, "unhealthy", err.Error())
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}

// ─────────────────────────────────────────────────────────────────────────────
// activity
// ─────────────────────────────────────────────────────────────────────────────

func (h *handlers) awardMessage(c *gin.Context) {
	guildID, userID, ok := h.memberParams(c)
	if !ok {
		return
	}

	var req MessageRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
	}

	content := MessageContent{HasImage: req.HasImage, Length: req.Length, HasLink: req.HasLink}
	outcome, err := h.leveling.AwardMessageXP(c.Request.Context(), guildID, userID, content, h.now())
	if err != nil {
		h.fail(c, "AwardMessageXP", err)
		return
	}
	if outcome == nil {
		c.Status(http.StatusNoContent)
		return
	}
	writeJSON(c, http.StatusOK, outcome)
}

func (h *handlers) recordCommand(c *gin.Context) {
	guildID, userID, ok := h.memberParams(c)
	if !ok {
		return
	}
	outcome, err := h.leveling.RecordCommand(c.Request.Context(), guildID, userID, h.now())
	if err != nil {
		h.fail(c, "RecordCommand", err)
		return
	}
	writeJSON(c, http.StatusOK, outcome)
}

func (h *handlers) claimDaily(c *gin.Context) {
	guildID, userID, ok := h.memberParams(c)
	if !ok {
		return
	}
	outcome, err := h.leveling.ClaimDaily(c.Request.Context(), guildID, userID, h.now())
	if err != nil {
		h.fail(c, "ClaimDaily", err)
		return
	}
	writeJSON(c, http.StatusOK, outcome)
}

func (h *handlers) awardXP(c *gin.Context) {
	guildID, userID, ok := h.memberParams(c)
	if !ok {
		return
	}
	var req AwardXPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	outcome, err := h.leveling.AwardXP(c.Request.Context(), guildID, userID, req.Amount, req.Reason, h.now())
	if err != nil {
		h.fail(c, "AwardXP", err)
		return
	}
	writeJSON(c, http.StatusOK, outcome)
}

// ─────────────────────────────────────────────────────────────────────────────
// reads
// ─────────────────────────────────────────────────────────────────────────────

func (h *handlers) profile(c *gin.Context) {
	guildID, userID, ok := h.memberParams(c)
	if !ok {
		return
	}
	profile, err := h.leveling.GetProfile(c.Request.Context(), guildID, userID)
	if err != nil {
		h.fail(c, "GetProfile", err)
		return
	}
	writeJSON(c, http.StatusOK, profile)
}

func (h *handlers) achievements(c *gin.Context) {
	guildID, userID, ok := h.memberParams(c)
	if !ok {
		return
	}
	unlocked, locked, err := h.leveling.GetAchievements(c.Request.Context(), guildID, userID)
	if err != nil {
		h.fail(c, "GetAchievements", err)
		return
	}
	if unlocked == nil {
		unlocked = []Achievement{}
	}
	if locked == nil {
		locked = []Achievement{}
	}
	writeJSON(c, http.StatusOK, AchievementsResponse{Unlocked: unlocked, Locked: locked})
}

func (h *handlers) nextAchievement(c *gin.Context) {
	guildID, userID, ok := h.memberParams(c)
	if !ok {
		return
	}
	next, err := h.leveling.GetNextAchievement(c.Request.Context(), guildID, userID)
	if err != nil {
		h.fail(c, "GetNextAchievement", err)
		return
	}
	if next == nil {
		abortWithError(c, http.StatusNotFound, "not_found", "all achievements unlocked")
		return
	}
	writeJSON(c, http.StatusOK, next)
}

func (h *handlers) stats(c *gin.Context) {
	guildID, userID, ok := h.memberParams(c)
	if !ok {
		return
	}
	var window time.Duration
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			abortWithError(c, http.StatusBadRequest, "invalid_request", "window must be a positive duration such as 168h")
			return
		}
		window = d
	}
	stats, err := h.leveling.GetXPStats(c.Request.Context(), guildID, userID, window, h.now())
	if err != nil {
		h.fail(c, "GetXPStats", err)
		return
	}
	writeJSON(c, http.StatusOK, stats)
}

func (h *handlers) history(c *gin.Context) {
	guildID, userID, ok := h.memberParams(c)
	if !ok {
		return
	}
	events, err := h.leveling.GetXPHistory(c.Request.Context(), guildID, userID)
	if err != nil {
		h.fail(c, "GetXPHistory", err)
		return
	}
	if events == nil {
		events = []XPEvent{}
	}
	writeJSON(c, http.StatusOK, events)
}

func (h *handlers) leaderboard(c *gin.Context) {
	guildID, ok := h.guildParam(c)
	if !ok {
		return
	}
	page, err1 := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, err2 := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if err1 != nil || err2 != nil {
		abortWithError(c, http.StatusBadRequest, "invalid_request", "page and page_size must be integers")
		return
	}
	board, err := h.leveling.GetLeaderboard(c.Request.Context(), guildID, page, pageSize)
	if err != nil {
		h.fail(c, "GetLeaderboard", err)
		return
	}
	writeJSON(c, http.StatusOK, board)
}

func (h *handlers) dailyGoal(c *gin.Context) {
	guildID, ok := h.guildParam(c)
	if !ok {
		return
	}
	goal, err := h.leveling.GetDailyGoal(c.Request.Context(), guildID, h.now())
	if err != nil {
		h.fail(c, "GetDailyGoal", err)
		return
	}
	writeJSON(c, http.StatusOK, goal)
}

func (h *handlers) listGuilds(c *gin.Context) {
	guilds, err := h.leveling.ListGuilds(c.Request.Context())
	if err != nil {
		h.fail(c, "ListGuilds", err)
		return
	}
	if guilds == nil {
		guilds = []GuildID{}
	}
	writeJSON(c, http.StatusOK, guilds)
}
