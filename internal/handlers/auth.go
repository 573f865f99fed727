package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/callrelay/internal/middleware"
	"github.com/mossy-p/callrelay/internal/models"
	"github.com/sirupsen/logrus"
)

const tokenTTL = 24 * time.Hour

// Login issues a token binding the requested identity.
// Identities come from the wallet layer, which already proved ownership.
func Login(jwtSecret string, logger *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}

		token, err := middleware.IssueToken(jwtSecret, req.Identity, tokenTTL)
		if err != nil {
			logger.WithError(err).Error("failed to sign token")
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate token",
			})
			return
		}

		logger.WithField("identity", req.Identity).Debug("issued token")
		c.JSON(http.StatusOK, models.LoginResponse{
			Token:    token,
			Identity: req.Identity,
		})
	}
}
