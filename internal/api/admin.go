package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/TeneoProtocolAI/agent-network/internal/core/domain"
)

const adminSubject = "admin"

// ErrUnauthorized is returned for missing, malformed or non-admin tokens.
var ErrUnauthorized = errors.New("unauthorized")

// IssueAdminToken signs an HS256 admin token with secret. A zero ttl issues a
// token without expiry.
func IssueAdminToken(secret string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("admin secret is empty")
	}
	claims := jwt.RegisteredClaims{
		Subject:  adminSubject,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// VerifyAdminToken checks signature, algorithm, expiry and subject.
func VerifyAdminToken(secret, token string) error {
	_, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithSubject(adminSubject),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return nil
}

func requireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrUnauthorized.Error()})
			return
		}
		if err := VerifyAdminToken(secret, strings.TrimSpace(token)); err != nil {
			log.Warn().Err(err).Str("ip", c.ClientIP()).Msg("rejected admin token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrUnauthorized.Error()})
			return
		}
		c.Next()
	}
}

// GET /api/admin/goal
func (s *Server) getGoal(c *gin.Context) {
	goal, err := s.opts.Store.GetGoal(c.Request.Context())
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "no goal set"})
	case err != nil:
		log.Error().Err(err).Msg("read goal")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "goal unavailable"})
	default:
		c.JSON(http.StatusOK, goal)
	}
}

// PUT /api/admin/goal
func (s *Server) putGoal(c *gin.Context) {
	var goal domain.NetworkGoal
	if err := c.ShouldBindJSON(&goal); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if goal.ID == "" {
		goal.ID = uuid.NewString()
	}
	if goal.StartedAt == 0 {
		goal.StartedAt = s.opts.Now().UnixMilli()
	}
	if err := goal.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.opts.Store.PutGoal(c.Request.Context(), &goal); err != nil {
		log.Error().Err(err).Msg("store goal")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "goal not stored"})
		return
	}
	log.Info().Str("goal", goal.ID).Str("metric", goal.Metric).Float64("weight", goal.Weight).Msg("goal updated")
	c.JSON(http.StatusOK, goal)
}

// DELETE /api/admin/goal
func (s *Server) deleteGoal(c *gin.Context) {
	if err := s.opts.Store.DeleteGoal(c.Request.Context()); err != nil {
		log.Error().Err(err).Msg("delete goal")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "goal not cleared"})
		return
	}
	log.Info().Msg("goal cleared")
	c.JSON(http.StatusOK, gin.H{"status": "Goal cleared"})
}
