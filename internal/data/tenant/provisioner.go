package tenant

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/revisit-backend/internal/identity"
	"github.com/yungbote/revisit-backend/internal/pkg/syncerr"
	"github.com/yungbote/revisit-backend/internal/platform/logger"
)

// Provisioner guarantees a tenant's partitioned table set exists before any
// tenant-scoped write touches it.
type Provisioner interface {
	// Ensure creates the tenant's full table set if it does not exist and
	// returns the table names to address it by. Safe to call on every
	// write; after the first success per process it is a cache hit.
	Ensure(ctx context.Context, tenantCode string) (identity.TenantTableSet, error)
	// Tables derives the table set without touching the database. Callers
	// that only read may use it when they know provisioning already ran.
	Tables(tenantCode string) identity.TenantTableSet
}

type provisioner struct {
	db    *gorm.DB
	log   *logger.Logger
	cache *Cache
}

func NewProvisioner(db *gorm.DB, log *logger.Logger, cache *Cache) Provisioner {
	return &provisioner{
		db:    db,
		log:   log.With("service", "TenantProvisioner"),
		cache: cache,
	}
}

func (p *provisioner) Tables(tenantCode string) identity.TenantTableSet {
	return identity.NewTenantTableSet(tenantCode)
}

func (p *provisioner) Ensure(ctx context.Context, tenantCode string) (identity.TenantTableSet, error) {
	tables := identity.NewTenantTableSet(tenantCode)
	if p.cache.Provisioned(tenantCode) {
		return tables, nil
	}

	steps := []struct {
		name string
		run  func(context.Context, identity.TenantTableSet) error
	}{
		{"placeholder_institution", p.ensurePlaceholderInstitution},
		{"customer_table", p.createCustomerTable},
		{"catalog_binding_tables", p.createCatalogBindingTables},
		{"consumption_table", p.createConsumptionTable},
		{"reminder_tables", p.createReminderTables},
		{"enrichment_tables", p.createEnrichmentTables},
		{"referrer_foreign_key", p.addReferrerForeignKey},
	}
	for _, step := range steps {
		if err := step.run(ctx, tables); err != nil {
			p.log.Error(
				"tenant provisioning failed",
				"tenant_code", tenantCode,
				"step", step.name,
				"error", err.Error(),
			)
			return identity.TenantTableSet{}, &syncerr.ProvisioningError{
				TenantCode: tenantCode,
				Step:       step.name,
				Cause:      err,
			}
		}
	}

	// Marked only after every step succeeds; a partial failure leaves the
	// tenant uncached so the next reference retries the whole pass.
	p.cache.MarkProvisioned(tenantCode)
	p.log.Info("tenant provisioned", "tenant_code", tenantCode, "tables", len(tables.All()))
	return tables, nil
}

// ensurePlaceholderInstitution inserts a stub catalog row so the tenant
// tables' institution foreign keys resolve even when the roster import has
// not run yet. A real institution upsert later fills in the name and status.
func (p *provisioner) ensurePlaceholderInstitution(ctx context.Context, tables identity.TenantTableSet) error {
	return p.db.WithContext(ctx).Exec(`
		INSERT INTO institution (institution_code, name, status)
		VALUES (?, ?, 'ACTIVE')
		ON CONFLICT (institution_code) DO NOTHING
	`, tables.TenantCode, tables.TenantCode).Error
}

func (p *provisioner) createCustomerTable(ctx context.Context, tables identity.TenantTableSet) error {
	t := tables.Customers
	if err := p.db.WithContext(ctx).Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			institution_customer_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			institution_id UUID NOT NULL REFERENCES institution(institution_id),
			person_id UUID NOT NULL REFERENCES natural_person(person_id),

			customer_code VARCHAR(100) UNIQUE NOT NULL,
			vip_level VARCHAR(50) DEFAULT 'NORMAL',
			status VARCHAR(20) DEFAULT 'ACTIVE',

			first_visit_date DATE,
			last_visit_date DATE,
			consumption_count INT DEFAULT 0,
			total_consumption DECIMAL(12,2) DEFAULT 0,

			referrer_id UUID,
			doctor_id UUID REFERENCES doctor(doctor_id),

			deleted_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,

			UNIQUE(institution_id, person_id),
			UNIQUE(institution_id, customer_code),

			CONSTRAINT check_status
				CHECK (status IN ('ACTIVE', 'DORMANT', 'CHURNED', 'SUSPENDED'))
		)
	`, t)).Error; err != nil {
		return err
	}
	for _, col := range []string{"person_id", "customer_code", "referrer_id", "vip_level", "status", "last_visit_date", "total_consumption"} {
		if err := p.createIndex(ctx, t, col); err != nil {
			return err
		}
	}
	return nil
}

func (p *provisioner) createCatalogBindingTables(ctx context.Context, tables identity.TenantTableSet) error {
	if err := p.db.WithContext(ctx).Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			institution_project_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			institution_id UUID NOT NULL REFERENCES institution(institution_id),
			project_id UUID NOT NULL REFERENCES project(project_id),

			price DECIMAL(10,2) NOT NULL,
			is_available BOOLEAN DEFAULT TRUE,
			available_from DATE,
			available_to DATE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,

			UNIQUE(institution_id, project_id)
		)
	`, tables.ProjectBindings)).Error; err != nil {
		return err
	}
	if err := p.createIndex(ctx, tables.ProjectBindings, "is_available"); err != nil {
		return err
	}

	if err := p.db.WithContext(ctx).Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			institution_product_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			institution_id UUID NOT NULL REFERENCES institution(institution_id),
			product_id UUID NOT NULL REFERENCES product(product_id),

			stock INT DEFAULT 0,
			price DECIMAL(10,2) NOT NULL,
			is_available BOOLEAN DEFAULT TRUE,
			available_from DATE,
			available_to DATE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,

			UNIQUE(institution_id, product_id)
		)
	`, tables.ProductBindings)).Error; err != nil {
		return err
	}
	if err := p.createIndex(ctx, tables.ProductBindings, "is_available"); err != nil {
		return err
	}

	if err := p.db.WithContext(ctx).Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			institution_doctor_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			institution_id UUID NOT NULL REFERENCES institution(institution_id),
			doctor_id UUID NOT NULL REFERENCES doctor(doctor_id),

			department VARCHAR(100),
			status VARCHAR(20) DEFAULT 'ACTIVE',
			start_date DATE NOT NULL,
			end_date DATE,

			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,

			UNIQUE(institution_id, doctor_id)
		)
	`, tables.DoctorBindings)).Error; err != nil {
		return err
	}
	for _, col := range []string{"department", "status"} {
		if err := p.createIndex(ctx, tables.DoctorBindings, col); err != nil {
			return err
		}
	}
	return nil
}

func (p *provisioner) createConsumptionTable(ctx context.Context, tables identity.TenantTableSet) error {
	if err := p.db.WithContext(ctx).Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			consumption_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),

			institution_id UUID NOT NULL REFERENCES institution(institution_id),
			institution_customer_id UUID NOT NULL REFERENCES %s(institution_customer_id),
			institution_project_id UUID REFERENCES %s(institution_project_id),
			institution_product_id UUID REFERENCES %s(institution_product_id),
			institution_doctor_id UUID REFERENCES %s(institution_doctor_id),

			order_number VARCHAR(50) UNIQUE NOT NULL,
			order_date DATE NOT NULL,
			order_time TIME,
			order_type VARCHAR(20),

			current_times INT DEFAULT 1,
			total_times INT DEFAULT 1,

			total_amount DECIMAL(12,2) NOT NULL,
			discount_amount DECIMAL(12,2) DEFAULT 0,
			actual_amount DECIMAL(12,2) NOT NULL,
			payment_method VARCHAR(20),
			payment_status VARCHAR(20) DEFAULT 'PAID',

			is_refund BOOLEAN DEFAULT FALSE,
			refund_amount DECIMAL(12,2),
			refund_reason TEXT,

			notes TEXT,

			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,

			CONSTRAINT check_total_amount CHECK (total_amount >= 0),
			CONSTRAINT check_actual_amount CHECK (actual_amount >= 0)
		)
	`, tables.ConsumptionRecords, tables.Customers, tables.ProjectBindings, tables.ProductBindings, tables.DoctorBindings)).Error; err != nil {
		return err
	}
	for _, col := range []string{"institution_customer_id", "order_date"} {
		if err := p.createIndex(ctx, tables.ConsumptionRecords, col); err != nil {
			return err
		}
	}
	return nil
}

func (p *provisioner) createReminderTables(ctx context.Context, tables identity.TenantTableSet) error {
	if err := p.db.WithContext(ctx).Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			birthday_reminder_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			institution_id UUID NOT NULL REFERENCES institution(institution_id),
			institution_customer_id UUID NOT NULL REFERENCES %s(institution_customer_id),

			birth_month INT NOT NULL,
			birth_day INT NOT NULL,

			reminder_type VARCHAR(20),
			reminder_date DATE NOT NULL,
			reminder_status VARCHAR(20) DEFAULT 'PENDING',
			complete_date DATE,

			notes TEXT,

			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,

			UNIQUE(institution_id, institution_customer_id, reminder_date),

			CONSTRAINT check_birth_month CHECK (birth_month >= 1 AND birth_month <= 12),
			CONSTRAINT check_birth_day CHECK (birth_day >= 1 AND birth_day <= 31),
			CONSTRAINT check_reminder_status CHECK (reminder_status IN ('PENDING', 'DEFERRED', 'COMPLETED'))
		)
	`, tables.BirthdayReminders, tables.Customers)).Error; err != nil {
		return err
	}
	if err := p.createIndex(ctx, tables.BirthdayReminders, "reminder_date"); err != nil {
		return err
	}

	if err := p.db.WithContext(ctx).Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			reminder_record_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			institution_id UUID NOT NULL REFERENCES institution(institution_id),
			institution_customer_id UUID NOT NULL REFERENCES %s(institution_customer_id),

			reminder_type VARCHAR(30) NOT NULL,
			reminder_date DATE,
			reminder_status VARCHAR(20) DEFAULT 'COMPLETED',
			complete_date DATE,

			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`, tables.ReminderHistory, tables.Customers)).Error; err != nil {
		return err
	}
	for _, col := range []string{"institution_customer_id", "reminder_date"} {
		if err := p.createIndex(ctx, tables.ReminderHistory, col); err != nil {
			return err
		}
	}
	return nil
}

func (p *provisioner) createEnrichmentTables(ctx context.Context, tables identity.TenantTableSet) error {
	if err := p.db.WithContext(ctx).Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			personality_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			institution_customer_id UUID NOT NULL REFERENCES %s(institution_customer_id) UNIQUE,

			personality_summary TEXT,
			last_analysis_date DATE,
			confidence_score DECIMAL(3,2),
			version INT DEFAULT 1,

			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,

			CONSTRAINT check_confidence_score CHECK (confidence_score >= 0 AND confidence_score <= 1)
		)
	`, tables.Personalities, tables.Customers)).Error; err != nil {
		return err
	}

	return p.db.WithContext(ctx).Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			nickname_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			institution_customer_id UUID NOT NULL REFERENCES %s(institution_customer_id),

			nickname VARCHAR(50) NOT NULL,
			nickname_type VARCHAR(20),

			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,

			UNIQUE(institution_customer_id, nickname),

			CONSTRAINT check_nickname_type CHECK (nickname_type IN ('STAFF_GIVEN', 'CLIENT_PREFERRED'))
		)
	`, tables.Nicknames, tables.Customers)).Error
}

// addReferrerForeignKey runs as a separate step after the customer table
// exists because the constraint is self-referencing. Wrapped in a
// duplicate_object guard so re-provisioning stays a no-op.
func (p *provisioner) addReferrerForeignKey(ctx context.Context, tables identity.TenantTableSet) error {
	t := tables.Customers
	return p.db.WithContext(ctx).Exec(fmt.Sprintf(`
		DO $$
		BEGIN
			ALTER TABLE %s
				ADD CONSTRAINT fk_%s_referrer
				FOREIGN KEY (referrer_id)
				REFERENCES %s(institution_customer_id)
				ON DELETE SET NULL;
		EXCEPTION
			WHEN duplicate_object THEN NULL;
		END $$;
	`, t, t, t)).Error
}

func (p *provisioner) createIndex(ctx context.Context, table, column string) error {
	return p.db.WithContext(ctx).Exec(fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s)",
		table, column, table, column,
	)).Error
}
