package reminders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/revisit-backend/internal/data/analytics"
	"github.com/yungbote/revisit-backend/internal/data/primary"
	"github.com/yungbote/revisit-backend/internal/data/tenant"
	"github.com/yungbote/revisit-backend/internal/identity"
	"github.com/yungbote/revisit-backend/internal/pkg/syncerr"
	"github.com/yungbote/revisit-backend/internal/platform/logger"
)

const reminderTypeBirthday = "BIRTHDAY"

// Reminder is one row of a tenant's birthday_reminder table, joined with the
// customer code for addressability.
type Reminder struct {
	ID            uuid.UUID  `gorm:"column:birthday_reminder_id" json:"id"`
	InstitutionID uuid.UUID  `gorm:"column:institution_id" json:"institution_id"`
	CustomerID    uuid.UUID  `gorm:"column:institution_customer_id" json:"customer_id"`
	CustomerCode  string     `gorm:"column:customer_code" json:"customer_code"`
	BirthMonth    int        `gorm:"column:birth_month" json:"birth_month"`
	BirthDay      int        `gorm:"column:birth_day" json:"birth_day"`
	Type          string     `gorm:"column:reminder_type" json:"reminder_type"`
	Date          time.Time  `gorm:"column:reminder_date" json:"reminder_date"`
	Status        Status     `gorm:"column:reminder_status" json:"reminder_status"`
	CompleteDate  *time.Time `gorm:"column:complete_date" json:"complete_date,omitempty"`
	Notes         string     `gorm:"column:notes" json:"notes,omitempty"`
}

// FactSink receives completed-reminder facts for trend reporting. Optional;
// the analytics adapter satisfies it.
type FactSink interface {
	InsertReminderFact(ctx context.Context, f analytics.ReminderFact) error
}

type Service struct {
	db    *gorm.DB
	log   *logger.Logger
	prov  tenant.Provisioner
	store primary.Store
	facts FactSink
}

type Option func(*Service)

// WithFactSink mirrors completed reminders into the analytics store,
// best-effort.
func WithFactSink(sink FactSink) Option {
	return func(s *Service) { s.facts = sink }
}

func NewService(db *gorm.DB, log *logger.Logger, prov tenant.Provisioner, store primary.Store, opts ...Option) *Service {
	s := &Service{
		db:    db,
		log:   log.With("service", "ReminderService"),
		prov:  prov,
		store: store,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DeriveBirthdayReminders scans the next daysAhead days of birthdays and
// seeds a PENDING reminder per customer, keyed to the birthday occurrence
// date. Existing reminders are left alone: derivation never regresses a
// state an operator already advanced. Returns the number created.
func (s *Service) DeriveBirthdayReminders(ctx context.Context, tenantCode string, daysAhead int) (int, error) {
	tables, err := s.prov.Ensure(ctx, tenantCode)
	if err != nil {
		return 0, err
	}
	institutionID, err := s.institutionID(ctx, tenantCode)
	if err != nil {
		return 0, err
	}

	customers, err := s.store.UpcomingBirthdays(ctx, tenantCode, daysAhead)
	if err != nil {
		return 0, err
	}

	today := truncateToDay(time.Now())
	created := 0
	for _, c := range customers {
		if c.Birthday == nil {
			continue
		}
		reminderDate := today.AddDate(0, 0, c.DaysUntilBirthday)
		res := s.db.WithContext(ctx).Exec(fmt.Sprintf(`
			INSERT INTO %s
				(institution_id, institution_customer_id, birth_month, birth_day,
				 reminder_type, reminder_date, reminder_status)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (institution_id, institution_customer_id, reminder_date) DO NOTHING
		`, tables.BirthdayReminders),
			institutionID, c.CustomerID, int(c.Birthday.Month()), c.Birthday.Day(),
			reminderTypeBirthday, reminderDate, StatusPending)
		if res.Error != nil {
			return created, fmt.Errorf("derive reminder for %s: %w", c.CustomerCode, res.Error)
		}
		created += int(res.RowsAffected)
	}

	s.log.Info("derived birthday reminders",
		"tenant_code", tenantCode,
		"days_ahead", daysAhead,
		"candidates", len(customers),
		"created", created,
	)
	return created, nil
}

// List returns a tenant's reminders within [from, to], optionally narrowed
// to one status, ordered by date then state.
func (s *Service) List(ctx context.Context, tenantCode string, from, to time.Time, status Status) ([]Reminder, error) {
	tables, err := s.prov.Ensure(ctx, tenantCode)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT
			br.birthday_reminder_id,
			br.institution_id,
			br.institution_customer_id,
			ic.customer_code,
			br.birth_month,
			br.birth_day,
			br.reminder_type,
			br.reminder_date,
			br.reminder_status,
			br.complete_date,
			COALESCE(br.notes, '') AS notes
		FROM %s br
		JOIN %s ic ON br.institution_customer_id = ic.institution_customer_id
		WHERE br.reminder_date >= ? AND br.reminder_date <= ?
	`, tables.BirthdayReminders, tables.Customers)
	args := []any{truncateToDay(from), truncateToDay(to)}
	if status != "" {
		if _, err := ParseStatus(string(status)); err != nil {
			return nil, err
		}
		query += " AND br.reminder_status = ?"
		args = append(args, status)
	}
	query += `
		ORDER BY br.reminder_date,
			CASE br.reminder_status
				WHEN 'PENDING' THEN 0
				WHEN 'DEFERRED' THEN 1
				ELSE 2
			END
	`

	var rows []Reminder
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Statuses returns the reminder state per customer code for one date.
// Customers without a row that day are absent from the map; callers treat
// them as PENDING.
func (s *Service) Statuses(ctx context.Context, tenantCode string, reminderDate time.Time, customerCodes []string) (map[string]Status, error) {
	tables, err := s.prov.Ensure(ctx, tenantCode)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT ic.customer_code, br.reminder_status
		FROM %s br
		JOIN %s ic ON br.institution_customer_id = ic.institution_customer_id
		WHERE br.reminder_date = ?
	`, tables.BirthdayReminders, tables.Customers)
	args := []any{truncateToDay(reminderDate)}
	if len(customerCodes) > 0 {
		query += " AND ic.customer_code IN ?"
		args = append(args, customerCodes)
	}

	var rows []struct {
		CustomerCode   string `gorm:"column:customer_code"`
		ReminderStatus string `gorm:"column:reminder_status"`
	}
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]Status, len(rows))
	for _, row := range rows {
		out[row.CustomerCode] = Status(row.ReminderStatus)
	}
	return out, nil
}

// SetStatus moves one customer's reminder for reminderDate to next,
// upserting the row if derivation has not created it yet (an absent row
// counts as PENDING). Completion stamps complete_date and archives the
// reminder into the history table; completed reminders cannot be reopened.
func (s *Service) SetStatus(ctx context.Context, tenantCode, customerCode string, reminderDate time.Time, next Status) (*Reminder, error) {
	if _, err := ParseStatus(string(next)); err != nil {
		return nil, err
	}
	tables, err := s.prov.Ensure(ctx, tenantCode)
	if err != nil {
		return nil, err
	}
	reminderDate = truncateToDay(reminderDate)

	var out Reminder
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cust, err := s.resolveCustomer(tx, tables, customerCode)
		if err != nil {
			return err
		}

		current := StatusPending
		var currentRaw string
		err = tx.Raw(fmt.Sprintf(`
			SELECT reminder_status FROM %s
			WHERE institution_id = ? AND institution_customer_id = ? AND reminder_date = ?
			FOR UPDATE
		`, tables.BirthdayReminders), cust.InstitutionID, cust.CustomerID, reminderDate).Scan(&currentRaw).Error
		if err != nil {
			return err
		}
		if currentRaw != "" {
			current = Status(currentRaw)
		}
		if !current.CanTransition(next) {
			return &TransitionError{From: current, To: next}
		}

		birthMonth, birthDay := int(reminderDate.Month()), reminderDate.Day()
		if cust.Birthday != nil {
			birthMonth, birthDay = int(cust.Birthday.Month()), cust.Birthday.Day()
		}
		var completeDate any
		if next == StatusCompleted {
			completeDate = truncateToDay(time.Now())
		}

		// Completion keeps its first complete_date across idempotent rewrites.
		err = tx.Raw(fmt.Sprintf(`
			INSERT INTO %s
				(institution_id, institution_customer_id, birth_month, birth_day,
				 reminder_type, reminder_date, reminder_status, complete_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (institution_id, institution_customer_id, reminder_date) DO UPDATE SET
				reminder_status = EXCLUDED.reminder_status,
				complete_date = COALESCE(%s.complete_date, EXCLUDED.complete_date),
				updated_at = CURRENT_TIMESTAMP
			RETURNING birthday_reminder_id, institution_id, institution_customer_id,
				birth_month, birth_day, reminder_type, reminder_date, reminder_status,
				complete_date, COALESCE(notes, '') AS notes
		`, tables.BirthdayReminders, tables.BirthdayReminders),
			cust.InstitutionID, cust.CustomerID, birthMonth, birthDay,
			reminderTypeBirthday, reminderDate, next, completeDate).Scan(&out).Error
		if err != nil {
			return err
		}
		out.CustomerCode = customerCode

		if next == StatusCompleted && current != StatusCompleted {
			return s.archiveCompleted(tx, tables, out)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Status == StatusCompleted && s.facts != nil {
		s.emitFact(ctx, tenantCode, out)
	}

	s.log.Info("reminder status updated",
		"tenant_code", tenantCode,
		"customer_code", customerCode,
		"reminder_date", out.Date.Format("2006-01-02"),
		"status", out.Status,
	)
	return &out, nil
}

// archiveCompleted copies the reminder into the append-only history table.
// One history row per completion event.
func (s *Service) archiveCompleted(tx *gorm.DB, tables identity.TenantTableSet, r Reminder) error {
	return tx.Exec(fmt.Sprintf(`
		INSERT INTO %s
			(institution_id, institution_customer_id, reminder_type,
			 reminder_date, reminder_status, complete_date)
		VALUES (?, ?, ?, ?, ?, ?)
	`, tables.ReminderHistory),
		r.InstitutionID, r.CustomerID, r.Type, r.Date, StatusCompleted, r.CompleteDate).Error
}

func (s *Service) emitFact(ctx context.Context, tenantCode string, r Reminder) {
	fact := analytics.ReminderFact{
		ReminderID:      r.ID.String(),
		ReminderType:    r.Type,
		ReminderDate:    r.Date,
		InstitutionID:   r.InstitutionID.String(),
		InstitutionCode: tenantCode,
		CustomerID:      r.CustomerID.String(),
		CustomerCode:    r.CustomerCode,
		Status:          string(r.Status),
	}
	if r.CompleteDate != nil {
		fact.CompleteDate = *r.CompleteDate
	}
	if err := s.facts.InsertReminderFact(ctx, fact); err != nil {
		s.log.Warn("reminder fact write failed",
			"tenant_code", tenantCode,
			"customer_code", r.CustomerCode,
			"error", err,
		)
	}
}

type resolvedCustomer struct {
	CustomerID    uuid.UUID  `gorm:"column:institution_customer_id"`
	InstitutionID uuid.UUID  `gorm:"column:institution_id"`
	Birthday      *time.Time `gorm:"column:birthday"`
}

func (s *Service) resolveCustomer(tx *gorm.DB, tables identity.TenantTableSet, customerCode string) (resolvedCustomer, error) {
	var rows []resolvedCustomer
	err := tx.Raw(fmt.Sprintf(`
		SELECT ic.institution_customer_id, ic.institution_id, np.birthday
		FROM %s ic
		JOIN natural_person np ON ic.person_id = np.person_id
		WHERE ic.customer_code = ? AND ic.deleted_at IS NULL
	`, tables.Customers), customerCode).Scan(&rows).Error
	if err != nil {
		return resolvedCustomer{}, err
	}
	if len(rows) == 0 {
		return resolvedCustomer{}, &syncerr.ReferenceResolutionError{Kind: "customer", Code: customerCode}
	}
	return rows[0], nil
}

func (s *Service) institutionID(ctx context.Context, tenantCode string) (uuid.UUID, error) {
	var id string
	err := s.db.WithContext(ctx).Raw(
		"SELECT institution_id::text FROM institution WHERE institution_code = ?", tenantCode,
	).Scan(&id).Error
	if err != nil {
		return uuid.Nil, err
	}
	if id == "" {
		return uuid.Nil, &syncerr.ReferenceResolutionError{Kind: "institution", Code: tenantCode}
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("institution id for %s: %w", tenantCode, err)
	}
	return parsed, nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// IsTerminal reports whether err is a rejected reopen of a completed
// reminder, for callers mapping failures onto responses.
func IsTerminal(err error) bool {
	var te *TransitionError
	return errors.As(err, &te) && te.From == StatusCompleted
}
