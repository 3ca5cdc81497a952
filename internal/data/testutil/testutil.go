package testutil

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/revisit-backend/internal/domain"
	"github.com/yungbote/revisit-backend/internal/platform/logger"
)

var errMissingDSN = errors.New("missing TEST_POSTGRES_DSN")

var (
	dbOnce sync.Once
	db     *gorm.DB
	dbErr  error

	logOnce sync.Once
	logg    *logger.Logger
	logErr  error
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	dbOnce.Do(func() {
		dsn := os.Getenv("TEST_POSTGRES_DSN")
		if dsn == "" {
			dbErr = errMissingDSN
			return
		}

		var err error
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
			Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
		})
		if err != nil {
			dbErr = err
			return
		}

		if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "pgcrypto";`).Error; err != nil {
			dbErr = err
			return
		}

		if err := autoMigrateShared(db); err != nil {
			dbErr = err
			return
		}
	})

	if errors.Is(dbErr, errMissingDSN) {
		tb.Skip("set TEST_POSTGRES_DSN to run store integration tests")
	}
	if dbErr != nil {
		tb.Fatalf("failed to init test db: %v", dbErr)
	}
	return db
}

// DropTenantTables removes a tenant's partitioned tables so provisioning
// tests start from a clean slate. Registered as a cleanup by callers.
func DropTenantTables(tb testing.TB, db *gorm.DB, tables []string) {
	tb.Helper()
	for i := len(tables) - 1; i >= 0; i-- {
		if err := db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", tables[i])).Error; err != nil {
			tb.Fatalf("drop table %s: %v", tables[i], err)
		}
	}
}

func autoMigrateShared(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.NaturalPerson{},
		&domain.Institution{},
		&domain.InstitutionLoginLog{},
		&domain.Doctor{},
		&domain.Project{},
		&domain.Product{},
		&domain.CatalogRelation{},
	)
}
