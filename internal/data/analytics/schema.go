package analytics

import (
	"context"
	"fmt"
)

// ExpectedTables is the declared analytical schema. Reconciliation treats
// any other table in the database as an orphan from a previous schema
// revision.
var ExpectedTables = []string{
	"dim_institution",
	"dim_doctor",
	"dim_project",
	"dim_product",
	"dim_customer",
	"fact_consumption",
	"fact_reminder",
}

// EnsureSchema creates the dimension and fact tables. ReplacingMergeTree
// keyed on updated_at makes re-sync overwrite dimensions in place;
// facts are append-mostly and partitioned by month.
func (a *Adapter) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS %[1]s.dim_institution (
			institution_id String,
			institution_code String,
			name String,
			alias String DEFAULT '',
			type String DEFAULT '',
			status String DEFAULT 'ACTIVE',
			updated_at DateTime DEFAULT now()
		) ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY institution_id`,

		`CREATE TABLE IF NOT EXISTS %[1]s.dim_doctor (
			doctor_id String,
			doctor_code String,
			name String,
			gender String DEFAULT '',
			institution_code String DEFAULT '',
			title String DEFAULT '',
			specialty Array(String) DEFAULT [],
			updated_at DateTime DEFAULT now()
		) ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY doctor_id`,

		`CREATE TABLE IF NOT EXISTS %[1]s.dim_project (
			project_id String,
			project_code String,
			name String,
			category String DEFAULT '',
			body_part String DEFAULT '',
			risk_level Int8 DEFAULT 0,
			updated_at DateTime DEFAULT now()
		) ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY project_id`,

		`CREATE TABLE IF NOT EXISTS %[1]s.dim_product (
			product_id String,
			product_code String,
			name String,
			brand String DEFAULT '',
			category String DEFAULT '',
			body_part String DEFAULT '',
			effect_level Int8 DEFAULT 0,
			updated_at DateTime DEFAULT now()
		) ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY product_id`,

		`CREATE TABLE IF NOT EXISTS %[1]s.dim_customer (
			institution_customer_id String,
			person_id String,
			customer_code String,
			name String DEFAULT '',
			phone String,
			gender String DEFAULT '',
			birthday Nullable(Date),
			institution_id String,
			institution_code String,
			vip_level String DEFAULT 'NORMAL',
			status String DEFAULT 'ACTIVE',
			is_deleted UInt8 DEFAULT 0,
			updated_at DateTime DEFAULT now()
		) ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY (institution_code, institution_customer_id)`,

		`CREATE TABLE IF NOT EXISTS %[1]s.fact_consumption (
			consumption_id String,
			order_number String,
			order_date Date,
			institution_id String,
			institution_code String,
			institution_customer_id String,
			customer_code String,
			project_code String DEFAULT '',
			product_code String DEFAULT '',
			doctor_code String DEFAULT '',
			order_type String DEFAULT '',
			current_times Int32 DEFAULT 1,
			total_times Int32 DEFAULT 1,
			total_amount Decimal(12, 2),
			discount_amount Decimal(12, 2) DEFAULT 0,
			actual_amount Decimal(12, 2),
			payment_method String DEFAULT '',
			payment_status String DEFAULT 'PAID',
			is_refund UInt8 DEFAULT 0,
			updated_at DateTime DEFAULT now()
		) ENGINE = ReplacingMergeTree(updated_at)
		PARTITION BY toYYYYMM(order_date)
		ORDER BY (institution_code, order_date, consumption_id)`,

		`CREATE TABLE IF NOT EXISTS %[1]s.fact_reminder (
			reminder_id String,
			reminder_type String,
			reminder_date Date,
			complete_date Nullable(Date),
			institution_id String,
			institution_code String,
			institution_customer_id String,
			customer_code String,
			reminder_status String DEFAULT 'PENDING',
			updated_at DateTime DEFAULT now()
		) ENGINE = ReplacingMergeTree(updated_at)
		PARTITION BY toYYYYMM(reminder_date)
		ORDER BY (institution_code, reminder_date, reminder_id)`,
	}

	for _, stmt := range ddl {
		if err := a.client.Conn.Exec(ctx, fmt.Sprintf(stmt, a.client.Database)); err != nil {
			return err
		}
	}
	a.log.Info("analytics schema ensured", "database", a.client.Database, "tables", len(ddl))
	return nil
}

// ListTables returns every table currently present in the analytical
// database.
func (a *Adapter) ListTables(ctx context.Context) ([]string, error) {
	rows, err := a.client.Conn.Query(ctx,
		"SELECT name FROM system.tables WHERE database = ? ORDER BY name",
		a.client.Database,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Orphans reports tables that exist but are not part of the declared
// schema.
func (a *Adapter) Orphans(ctx context.Context) ([]string, error) {
	existing, err := a.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	expected := make(map[string]struct{}, len(ExpectedTables))
	for _, name := range ExpectedTables {
		expected[name] = struct{}{}
	}
	var orphans []string
	for _, name := range existing {
		if _, ok := expected[name]; !ok {
			orphans = append(orphans, name)
		}
	}
	return orphans, nil
}

func (a *Adapter) Drop(ctx context.Context, name string) error {
	return a.client.Conn.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s.%s", a.client.Database, name))
}
