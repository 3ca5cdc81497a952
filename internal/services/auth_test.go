package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/revisit-backend/internal/data/testutil"
	"github.com/yungbote/revisit-backend/internal/domain"
	"github.com/yungbote/revisit-backend/internal/services"
)

const authTestCode = "ZZ-AUTH-001"

func newAuthFixture(t *testing.T) (*gorm.DB, services.AuthService) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)

	hash, err := services.HashAccessPassword("open sesame")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	inst := domain.Institution{
		InstitutionCode:    authTestCode,
		Name:               "Auth Test Clinic",
		Status:             "ACTIVE",
		AccessPasswordHash: hash,
	}
	if err := db.Create(&inst).Error; err != nil {
		t.Fatalf("seed institution: %v", err)
	}
	t.Cleanup(func() {
		db.Where("institution_code = ?", authTestCode).Delete(&domain.InstitutionLoginLog{})
		db.Where("institution_code = ?", authTestCode).Delete(&domain.Institution{})
	})

	return db, services.NewAuthService(db, log, "test-secret", time.Hour)
}

func loginLogCount(t *testing.T, db *gorm.DB, success bool) int64 {
	t.Helper()
	var n int64
	err := db.Model(&domain.InstitutionLoginLog{}).
		Where("institution_code = ? AND success = ?", authTestCode, success).
		Count(&n).Error
	if err != nil {
		t.Fatalf("count login log: %v", err)
	}
	return n
}

func TestLoginIssuesTokenAndLogsAttempt(t *testing.T) {
	db, auth := newAuthFixture(t)
	ctx := context.Background()

	result, err := auth.LoginInstitution(ctx, services.LoginAttempt{
		InstitutionCode: authTestCode,
		Password:        "open sesame",
		IPAddress:       "10.0.0.1",
		UserAgent:       "revisit-test",
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.Token == "" {
		t.Fatalf("expected a signed token")
	}
	if result.InstitutionCode != authTestCode {
		t.Fatalf("unexpected institution code %q", result.InstitutionCode)
	}
	if !result.ExpiresAt.After(time.Now()) {
		t.Fatalf("token already expired: %v", result.ExpiresAt)
	}

	claims, err := auth.ParseToken(result.Token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.InstitutionCode != authTestCode {
		t.Fatalf("claims carry %q, expected %q", claims.InstitutionCode, authTestCode)
	}

	if n := loginLogCount(t, db, true); n != 1 {
		t.Fatalf("expected 1 successful login-log row, got %d", n)
	}
}

func TestLoginWrongPasswordFailsAndLogs(t *testing.T) {
	db, auth := newAuthFixture(t)

	_, err := auth.LoginInstitution(context.Background(), services.LoginAttempt{
		InstitutionCode: authTestCode,
		Password:        "not it",
	})
	if !errors.Is(err, services.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	if n := loginLogCount(t, db, false); n != 1 {
		t.Fatalf("expected 1 failed login-log row, got %d", n)
	}
}

func TestLoginUnknownInstitutionFails(t *testing.T) {
	_, auth := newAuthFixture(t)

	_, err := auth.LoginInstitution(context.Background(), services.LoginAttempt{
		InstitutionCode: "ZZ-AUTH-NOPE",
		Password:        "open sesame",
	})
	if !errors.Is(err, services.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginInactiveInstitutionRejected(t *testing.T) {
	db, auth := newAuthFixture(t)

	err := db.Model(&domain.Institution{}).
		Where("institution_code = ?", authTestCode).
		Update("status", "SUSPENDED").Error
	if err != nil {
		t.Fatalf("suspend institution: %v", err)
	}

	_, lErr := auth.LoginInstitution(context.Background(), services.LoginAttempt{
		InstitutionCode: authTestCode,
		Password:        "open sesame",
	})
	if !errors.Is(lErr, services.ErrInstitutionInactive) {
		t.Fatalf("expected ErrInstitutionInactive, got %v", lErr)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	db, auth := newAuthFixture(t)

	result, err := auth.LoginInstitution(context.Background(), services.LoginAttempt{
		InstitutionCode: authTestCode,
		Password:        "open sesame",
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	other := services.NewAuthService(db, testutil.Logger(t), "different-secret", time.Hour)
	if _, err := other.ParseToken(result.Token); err == nil {
		t.Fatalf("token signed with another secret must not parse")
	}
}
