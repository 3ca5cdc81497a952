package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/revisit-backend/internal/services"
)

type AuthHandler struct {
	authService services.AuthService
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (ah *AuthHandler) Login(c *gin.Context) {
	var req struct {
		InstitutionCode string `json:"institution_code"`
		Password        string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := ah.authService.LoginInstitution(c.Request.Context(), services.LoginAttempt{
		InstitutionCode: req.InstitutionCode,
		Password:        req.Password,
		IPAddress:       c.ClientIP(),
		UserAgent:       c.Request.UserAgent(),
	})
	switch {
	case errors.Is(err, services.ErrInvalidCredentials), errors.Is(err, services.ErrInstitutionInactive):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":     result.Token,
		"expires_in":       int(ah.authService.AccessTTL().Seconds()),
		"institution_code": result.InstitutionCode,
		"institution_name": result.InstitutionName,
	})
}
