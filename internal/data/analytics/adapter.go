// Package analytics mirrors entities into ClickHouse as dimension and fact
// rows for OLAP queries. Wide-table design: facts carry the natural codes of
// their dimensions so most reports need no JOIN back to Postgres.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/yungbote/revisit-backend/internal/domain"
	"github.com/yungbote/revisit-backend/internal/platform/chdb"
	"github.com/yungbote/revisit-backend/internal/platform/logger"
)

const adapterName = "analytics"

type Adapter struct {
	log    *logger.Logger
	client *chdb.Client
}

func NewAdapter(log *logger.Logger, client *chdb.Client) *Adapter {
	return &Adapter{
		log:    log.With("adapter", "AnalyticsAdapter"),
		client: client,
	}
}

func (a *Adapter) Name() string { return adapterName }

func (a *Adapter) Apply(ctx context.Context, rec domain.Record, receipt domain.Receipt) error {
	db := a.client.Database
	switch r := rec.(type) {
	case *domain.InstitutionRecord:
		return a.client.Conn.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s.dim_institution
				(institution_id, institution_code, name, alias, type, status, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, now())
		`, db), receipt.PrimaryID.String(), r.InstitutionCode, r.Name, r.Alias, r.Type, statusOr(r.Status))

	case *domain.DoctorRecord:
		return a.client.Conn.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s.dim_doctor
				(doctor_id, doctor_code, name, gender, institution_code, title, specialty, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, now())
		`, db), receipt.PrimaryID.String(), r.DoctorCode, r.Name, r.Gender, r.InstitutionCode, r.Title, r.Specialty)

	case *domain.ProjectRecord:
		return a.client.Conn.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s.dim_project
				(project_id, project_code, name, category, body_part, risk_level, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, now())
		`, db), receipt.PrimaryID.String(), r.ProjectCode, r.Name, r.Category, r.BodyPart, int8(r.RiskLevel))

	case *domain.ProductRecord:
		return a.client.Conn.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s.dim_product
				(product_id, product_code, name, brand, category, body_part, effect_level, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, now())
		`, db), receipt.PrimaryID.String(), r.ProductCode, r.Name, r.Brand, r.Category, r.BodyPart, int8(r.EffectLevel))

	case *domain.RelationRecord:
		// Catalog relations have no analytical shape; traversal lives in
		// the graph store.
		return nil

	case *domain.CustomerRecord:
		birthday, err := nullableDate(r.Person.Birthday)
		if err != nil {
			return err
		}
		return a.client.Conn.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s.dim_customer
				(institution_customer_id, person_id, customer_code, name, phone, gender, birthday,
				 institution_id, institution_code, vip_level, status, is_deleted, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, now())
		`, db), receipt.PrimaryID.String(), receipt.PersonID.String(), r.CustomerCode,
			r.Person.Name, r.Person.Phone, r.Person.Gender, birthday,
			receipt.InstitutionID.String(), r.InstitutionCode,
			vipOr(r.VIPLevel), statusOr(r.Status))

	case *domain.ConsumptionRecordInput:
		orderDate, err := time.Parse("2006-01-02", r.OrderDate)
		if err != nil {
			return fmt.Errorf("invalid order_date %q: %w", r.OrderDate, err)
		}
		return a.client.Conn.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s.fact_consumption
				(consumption_id, order_number, order_date,
				 institution_id, institution_code, institution_customer_id, customer_code,
				 project_code, product_code, doctor_code,
				 order_type, current_times, total_times,
				 total_amount, discount_amount, actual_amount,
				 payment_method, payment_status, is_refund, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, now())
		`, db), receipt.PrimaryID.String(), r.OrderNumber, orderDate,
			receipt.InstitutionID.String(), r.InstitutionCode,
			receipt.CustomerID.String(), r.CustomerCode,
			r.ProjectCode, r.ProductCode, r.DoctorCode,
			r.OrderType, int32(max(r.CurrentTimes, 1)), int32(max(r.TotalTimes, 1)),
			r.TotalAmount, r.DiscountAmount, r.ActualAmount,
			r.PaymentMethod, statusOrPaid(r.PaymentStatus), boolToUInt8(r.IsRefund))

	default:
		return nil
	}
}

// Remove tombstones a customer dimension row. ReplacingMergeTree folds the
// tombstone over earlier versions at merge time; queries filter on
// is_deleted.
func (a *Adapter) Remove(ctx context.Context, rec domain.Record, receipt domain.Receipt) error {
	r, ok := rec.(*domain.CustomerRecord)
	if !ok {
		return nil
	}
	return a.client.Conn.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.dim_customer
			(institution_customer_id, person_id, customer_code, phone,
			 institution_id, institution_code, status, is_deleted, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'CHURNED', 1, now())
	`, a.client.Database), receipt.PrimaryID.String(), receipt.PersonID.String(),
		r.CustomerCode, r.Person.Phone,
		receipt.InstitutionID.String(), r.InstitutionCode)
}

// Count returns the latest-version row count for a kind, scoped to one
// tenant where the schema carries an institution_code.
func (a *Adapter) Count(ctx context.Context, kind domain.Kind, tenantCode string) (int64, error) {
	db := a.client.Database
	var query string
	var args []any
	switch kind {
	case domain.KindInstitution:
		query = fmt.Sprintf("SELECT count() FROM %s.dim_institution FINAL", db)
	case domain.KindDoctor:
		query = fmt.Sprintf("SELECT count() FROM %s.dim_doctor FINAL", db)
	case domain.KindProject:
		query = fmt.Sprintf("SELECT count() FROM %s.dim_project FINAL", db)
	case domain.KindProduct:
		query = fmt.Sprintf("SELECT count() FROM %s.dim_product FINAL", db)
	case domain.KindCustomer:
		query = fmt.Sprintf("SELECT count() FROM %s.dim_customer FINAL WHERE is_deleted = 0", db)
		if tenantCode != "" {
			query += " AND institution_code = ?"
			args = append(args, tenantCode)
		}
	case domain.KindConsumption:
		query = fmt.Sprintf("SELECT count() FROM %s.fact_consumption FINAL", db)
		if tenantCode != "" {
			query += " WHERE institution_code = ?"
			args = append(args, tenantCode)
		}
	default:
		return 0, fmt.Errorf("no analytics table for kind %s", kind)
	}

	var n uint64
	if err := a.client.Conn.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return int64(n), nil
}

// InsertReminderFact records one reminder state for trend reporting.
func (a *Adapter) InsertReminderFact(ctx context.Context, f ReminderFact) error {
	var completeDate *time.Time
	if !f.CompleteDate.IsZero() {
		completeDate = &f.CompleteDate
	}
	return a.client.Conn.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.fact_reminder
			(reminder_id, reminder_type, reminder_date, complete_date,
			 institution_id, institution_code, institution_customer_id, customer_code,
			 reminder_status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, now())
	`, a.client.Database), f.ReminderID, f.ReminderType, f.ReminderDate, completeDate,
		f.InstitutionID, f.InstitutionCode, f.CustomerID, f.CustomerCode, f.Status)
}

type ReminderFact struct {
	ReminderID      string
	ReminderType    string
	ReminderDate    time.Time
	CompleteDate    time.Time
	InstitutionID   string
	InstitutionCode string
	CustomerID      string
	CustomerCode    string
	Status          string
}

func nullableDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return &t, nil
}

func statusOr(s string) string {
	if s == "" {
		return "ACTIVE"
	}
	return s
}

func statusOrPaid(s string) string {
	if s == "" {
		return "PAID"
	}
	return s
}

func vipOr(s string) string {
	if s == "" {
		return "NORMAL"
	}
	return s
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
