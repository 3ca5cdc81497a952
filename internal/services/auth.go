// Package services holds application services that sit above the data
// layer: institution access control today.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/yungbote/revisit-backend/internal/domain"
	"github.com/yungbote/revisit-backend/internal/platform/logger"
)

// ErrInvalidCredentials covers both unknown institution codes and wrong
// passwords so a caller cannot probe which codes exist.
var ErrInvalidCredentials = errors.New("invalid institution code or access password")

// ErrInstitutionInactive rejects logins for institutions that exist but are
// not ACTIVE.
var ErrInstitutionInactive = errors.New("institution is not active")

// JWTClaims is the access-token payload. Subject carries the institution
// UUID; the code rides along for log correlation without a DB lookup.
type JWTClaims struct {
	InstitutionCode string `json:"institution_code"`
	jwt.RegisteredClaims
}

// LoginAttempt is the request-side context recorded in the login log.
type LoginAttempt struct {
	InstitutionCode string
	Password        string
	IPAddress       string
	UserAgent       string
}

// LoginResult is a successful institution login.
type LoginResult struct {
	Token           string    `json:"token"`
	ExpiresAt       time.Time `json:"expires_at"`
	InstitutionCode string    `json:"institution_code"`
	InstitutionName string    `json:"institution_name"`
}

type AuthService interface {
	// LoginInstitution verifies the access password for an institution and
	// issues a signed access token. Every attempt, failed or not, lands in
	// institution_login_log.
	LoginInstitution(ctx context.Context, attempt LoginAttempt) (*LoginResult, error)
	// ParseToken validates a token string and returns its claims.
	ParseToken(tokenString string) (*JWTClaims, error)
	AccessTTL() time.Duration
}

type authService struct {
	db           *gorm.DB
	log          *logger.Logger
	jwtSecretKey string
	accessTTL    time.Duration
}

func NewAuthService(db *gorm.DB, log *logger.Logger, jwtSecretKey string, accessTTL time.Duration) AuthService {
	return &authService{
		db:           db,
		log:          log.With("service", "AuthService"),
		jwtSecretKey: jwtSecretKey,
		accessTTL:    accessTTL,
	}
}

func (as *authService) AccessTTL() time.Duration { return as.accessTTL }

func (as *authService) LoginInstitution(ctx context.Context, attempt LoginAttempt) (*LoginResult, error) {
	var inst domain.Institution
	err := as.db.WithContext(ctx).
		Where("institution_code = ?", attempt.InstitutionCode).
		First(&inst).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		as.recordAttempt(ctx, attempt, false)
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, fmt.Errorf("load institution: %w", err)
	}

	if inst.Status != "" && inst.Status != "ACTIVE" {
		as.recordAttempt(ctx, attempt, false)
		return nil, ErrInstitutionInactive
	}
	if inst.AccessPasswordHash == "" {
		as.recordAttempt(ctx, attempt, false)
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(inst.AccessPasswordHash), []byte(attempt.Password)) != nil {
		as.recordAttempt(ctx, attempt, false)
		return nil, ErrInvalidCredentials
	}

	expiresAt := time.Now().Add(as.accessTTL)
	claims := JWTClaims{
		InstitutionCode: inst.InstitutionCode,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   inst.InstitutionID.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(as.jwtSecretKey))
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	as.recordAttempt(ctx, attempt, true)
	as.log.Info("institution login", "institution_code", inst.InstitutionCode)
	return &LoginResult{
		Token:           token,
		ExpiresAt:       expiresAt,
		InstitutionCode: inst.InstitutionCode,
		InstitutionName: inst.Name,
	}, nil
}

func (as *authService) ParseToken(tokenString string) (*JWTClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(as.jwtSecretKey), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := parsed.Claims.(*JWTClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid or expired token")
	}
	return claims, nil
}

// recordAttempt appends one login-log row. Log writes never block a login
// outcome; a failed insert is only warned about.
func (as *authService) recordAttempt(ctx context.Context, attempt LoginAttempt, success bool) {
	row := domain.InstitutionLoginLog{
		InstitutionCode: attempt.InstitutionCode,
		LoginTime:       time.Now(),
		Success:         success,
		IPAddress:       attempt.IPAddress,
		UserAgent:       attempt.UserAgent,
	}
	if err := as.db.WithContext(ctx).Create(&row).Error; err != nil {
		as.log.Warn("login log write failed", "institution_code", attempt.InstitutionCode, "error", err.Error())
	}
}

// HashAccessPassword is how provisioning tooling derives the stored hash.
func HashAccessPassword(password string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
