// Package primary implements the canonical create-or-merge operations
// against the authoritative Postgres store. All entity lifecycle flows
// through here; secondary stores are derived from the receipts it returns.
package primary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/yungbote/revisit-backend/internal/data/tenant"
	"github.com/yungbote/revisit-backend/internal/domain"
	"github.com/yungbote/revisit-backend/internal/pkg/syncerr"
	"github.com/yungbote/revisit-backend/internal/platform/logger"
)

// Store is the primary-store upsert layer: one operation per entity kind,
// all following resolve-by-natural-key, merge, return-identifier.
type Store interface {
	// Upsert routes a canonical record to its kind-specific merge. Tenant
	// provisioning is ensured first for tenant-scoped kinds.
	Upsert(ctx context.Context, rec domain.Record) (domain.Receipt, error)
	// Remove soft-deletes a tenant-scoped customer and returns the receipt
	// needed to tombstone its secondary representations. Only customers
	// support removal.
	Remove(ctx context.Context, rec domain.Record) (domain.Receipt, error)

	// Export reads every canonical record back out in feed dependency
	// order, for replaying the dataset into secondary stores.
	Export(ctx context.Context, tenantCode string) ([]domain.Record, error)

	UpcomingBirthdays(ctx context.Context, tenantCode string, daysAhead int) ([]BirthdayCustomer, error)
	ConsumptionHistory(ctx context.Context, tenantCode string, customerID uuid.UUID, limit int) ([]ConsumptionEntry, error)
	RelatedCatalogItems(ctx context.Context, sourceType, sourceCode string) ([]RelatedItem, error)
	TenantCodes(ctx context.Context) ([]string, error)
	Counts(ctx context.Context, tenantCode string) (map[domain.Kind]int64, error)
}

type store struct {
	db     *gorm.DB
	log    *logger.Logger
	prov   tenant.Provisioner
	roster []string
}

// NewStore builds the upsert layer. roster is the list of active tenant
// codes; catalog upserts create a binding row for every tenant on it.
func NewStore(db *gorm.DB, log *logger.Logger, prov tenant.Provisioner, roster []string) Store {
	return &store{
		db:     db,
		log:    log.With("service", "PrimaryStore"),
		prov:   prov,
		roster: roster,
	}
}

func (s *store) Upsert(ctx context.Context, rec domain.Record) (domain.Receipt, error) {
	switch r := rec.(type) {
	case *domain.InstitutionRecord:
		return s.upsertInstitution(ctx, r)
	case *domain.DoctorRecord:
		return s.upsertDoctor(ctx, r)
	case *domain.ProjectRecord:
		return s.upsertProject(ctx, r)
	case *domain.ProductRecord:
		return s.upsertProduct(ctx, r)
	case *domain.RelationRecord:
		return s.upsertRelation(ctx, r)
	case *domain.CustomerRecord:
		return s.upsertCustomer(ctx, r)
	case *domain.ConsumptionRecordInput:
		return s.insertConsumption(ctx, r)
	default:
		return domain.Receipt{}, &syncerr.PrimaryWriteError{
			Kind:  string(rec.RecordKind()),
			Key:   rec.NaturalKey(),
			Cause: fmt.Errorf("unsupported record type %T", rec),
		}
	}
}

func (s *store) upsertInstitution(ctx context.Context, r *domain.InstitutionRecord) (domain.Receipt, error) {
	status := r.Status
	if status == "" {
		status = "ACTIVE"
	}
	var id string
	err := s.db.WithContext(ctx).Raw(`
		INSERT INTO institution (institution_code, name, alias, type, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (institution_code) DO UPDATE SET
			name = EXCLUDED.name,
			alias = EXCLUDED.alias,
			type = EXCLUDED.type,
			status = EXCLUDED.status,
			updated_at = CURRENT_TIMESTAMP
		RETURNING institution_id::text
	`, r.InstitutionCode, r.Name, nullStr(r.Alias), nullStr(r.Type), status).Scan(&id).Error
	if err != nil {
		return domain.Receipt{}, s.writeErr(r, err)
	}
	pid, err := uuid.Parse(id)
	if err != nil {
		return domain.Receipt{}, s.writeErr(r, err)
	}
	return domain.Receipt{PrimaryID: pid, InstitutionID: pid}, nil
}

func (s *store) upsertDoctor(ctx context.Context, r *domain.DoctorRecord) (domain.Receipt, error) {
	specialty := r.Specialty
	if specialty == nil {
		specialty = []string{}
	}
	var id string
	err := s.db.WithContext(ctx).Raw(`
		INSERT INTO doctor (doctor_code, name, gender, phone, institution_code, title, specialty, introduction)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (doctor_code) DO UPDATE SET
			name = EXCLUDED.name,
			gender = EXCLUDED.gender,
			phone = EXCLUDED.phone,
			institution_code = EXCLUDED.institution_code,
			title = EXCLUDED.title,
			specialty = EXCLUDED.specialty,
			introduction = EXCLUDED.introduction,
			updated_at = CURRENT_TIMESTAMP
		RETURNING doctor_id::text
	`, r.DoctorCode, r.Name, nullStr(r.Gender), nullStr(r.Phone),
		nullStr(r.InstitutionCode), nullStr(r.Title),
		pq.StringArray(specialty), nullStr(r.Introduction)).Scan(&id).Error
	if err != nil {
		return domain.Receipt{}, s.writeErr(r, err)
	}
	pid, err := uuid.Parse(id)
	if err != nil {
		return domain.Receipt{}, s.writeErr(r, err)
	}

	receipt := domain.Receipt{PrimaryID: pid}
	if r.InstitutionCode != "" {
		instID, err := s.bindDoctor(ctx, r.InstitutionCode, pid)
		if err != nil {
			return domain.Receipt{}, err
		}
		receipt.InstitutionID = instID
	}
	return receipt, nil
}

// bindDoctor creates the tenant-local practice row linking a doctor to an
// institution. Idempotent: re-binding an existing pair is a no-op.
func (s *store) bindDoctor(ctx context.Context, tenantCode string, doctorID uuid.UUID) (uuid.UUID, error) {
	tables, err := s.prov.Ensure(ctx, tenantCode)
	if err != nil {
		return uuid.Nil, err
	}
	instID, err := s.institutionID(ctx, tenantCode)
	if err != nil {
		return uuid.Nil, err
	}
	err = s.db.WithContext(ctx).Exec(fmt.Sprintf(`
		INSERT INTO %s (institution_id, doctor_id, status, start_date)
		VALUES (?, ?, 'ACTIVE', CURRENT_DATE)
		ON CONFLICT (institution_id, doctor_id) DO NOTHING
	`, tables.DoctorBindings), instID, doctorID).Error
	if err != nil {
		return uuid.Nil, &syncerr.PrimaryWriteError{
			Kind:  string(domain.KindDoctor),
			Key:   doctorID.String(),
			Cause: syncerr.ClassifyPostgres(err),
		}
	}
	return instID, nil
}

func (s *store) upsertProject(ctx context.Context, r *domain.ProjectRecord) (domain.Receipt, error) {
	var id string
	err := s.db.WithContext(ctx).Raw(`
		INSERT INTO project (project_code, name, category, body_part, risk_level, indications, contraindications, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_code) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			body_part = EXCLUDED.body_part,
			risk_level = EXCLUDED.risk_level,
			indications = EXCLUDED.indications,
			contraindications = EXCLUDED.contraindications,
			description = EXCLUDED.description,
			updated_at = CURRENT_TIMESTAMP
		RETURNING project_id::text
	`, r.ProjectCode, r.Name, nullStr(r.Category), nullStr(r.BodyPart),
		nullInt(r.RiskLevel), nullStr(r.Indications),
		nullStr(r.Contraindications), nullStr(r.Description)).Scan(&id).Error
	if err != nil {
		return domain.Receipt{}, s.writeErr(r, err)
	}
	pid, err := uuid.Parse(id)
	if err != nil {
		return domain.Receipt{}, s.writeErr(r, err)
	}
	if err := s.bindCatalogItem(ctx, "project", pid, r.Price); err != nil {
		return domain.Receipt{}, err
	}
	return domain.Receipt{PrimaryID: pid}, nil
}

func (s *store) upsertProduct(ctx context.Context, r *domain.ProductRecord) (domain.Receipt, error) {
	var id string
	err := s.db.WithContext(ctx).Raw(`
		INSERT INTO product (product_code, name, brand, category, body_part, unit, effect_level, indications, contraindications, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (product_code) DO UPDATE SET
			name = EXCLUDED.name,
			brand = EXCLUDED.brand,
			category = EXCLUDED.category,
			body_part = EXCLUDED.body_part,
			unit = EXCLUDED.unit,
			effect_level = EXCLUDED.effect_level,
			indications = EXCLUDED.indications,
			contraindications = EXCLUDED.contraindications,
			description = EXCLUDED.description,
			updated_at = CURRENT_TIMESTAMP
		RETURNING product_id::text
	`, r.ProductCode, r.Name, nullStr(r.Brand), nullStr(r.Category),
		nullStr(r.BodyPart), nullStr(r.Unit), nullInt(r.EffectLevel),
		nullStr(r.Indications), nullStr(r.Contraindications),
		nullStr(r.Description)).Scan(&id).Error
	if err != nil {
		return domain.Receipt{}, s.writeErr(r, err)
	}
	pid, err := uuid.Parse(id)
	if err != nil {
		return domain.Receipt{}, s.writeErr(r, err)
	}
	if err := s.bindCatalogItem(ctx, "product", pid, r.Price); err != nil {
		return domain.Receipt{}, err
	}
	return domain.Receipt{PrimaryID: pid}, nil
}

// bindCatalogItem creates a tenant-local binding row (price, availability)
// for every tenant on the roster. The catalog is shared but offerings are
// tenant-specific: a catalog item with no binding cannot be referenced by a
// consumption record.
func (s *store) bindCatalogItem(ctx context.Context, kind string, itemID uuid.UUID, price *float64) error {
	bindingPrice := 0.0
	if price != nil {
		bindingPrice = *price
	}
	for _, tenantCode := range s.roster {
		tables, err := s.prov.Ensure(ctx, tenantCode)
		if err != nil {
			return err
		}
		instID, err := s.institutionID(ctx, tenantCode)
		if err != nil {
			return err
		}

		var sql string
		switch kind {
		case "project":
			sql = fmt.Sprintf(`
				INSERT INTO %s (institution_id, project_id, price, is_available)
				VALUES (?, ?, ?, true)
				ON CONFLICT (institution_id, project_id) DO NOTHING
			`, tables.ProjectBindings)
		case "product":
			sql = fmt.Sprintf(`
				INSERT INTO %s (institution_id, product_id, price, is_available)
				VALUES (?, ?, ?, true)
				ON CONFLICT (institution_id, product_id) DO NOTHING
			`, tables.ProductBindings)
		}
		if err := s.db.WithContext(ctx).Exec(sql, instID, itemID, bindingPrice).Error; err != nil {
			return &syncerr.PrimaryWriteError{Kind: kind, Key: itemID.String(), Cause: syncerr.ClassifyPostgres(err)}
		}
	}
	return nil
}

func (s *store) upsertRelation(ctx context.Context, r *domain.RelationRecord) (domain.Receipt, error) {
	if !domain.ValidRelationEndpointType(r.SourceType) || !domain.ValidRelationEndpointType(r.TargetType) {
		return domain.Receipt{}, s.writeErr(r, fmt.Errorf("%w: endpoint types %s/%s", syncerr.ErrInvalidArgument, r.SourceType, r.TargetType))
	}
	if !domain.ValidRelationType(r.RelationType) {
		return domain.Receipt{}, s.writeErr(r, fmt.Errorf("%w: relation type %s", syncerr.ErrInvalidArgument, r.RelationType))
	}
	if r.RelationLevel < 1 || r.RelationLevel > 5 {
		return domain.Receipt{}, s.writeErr(r, fmt.Errorf("%w: relation level %d", syncerr.ErrInvalidArgument, r.RelationLevel))
	}

	sourceID, err := s.catalogItemID(ctx, r.SourceType, r.SourceCode)
	if err != nil {
		return domain.Receipt{}, err
	}
	targetID, err := s.catalogItemID(ctx, r.TargetType, r.TargetCode)
	if err != nil {
		return domain.Receipt{}, err
	}
	if r.SourceType == r.TargetType && sourceID == targetID {
		return domain.Receipt{}, s.writeErr(r, fmt.Errorf("%w: self-relation", syncerr.ErrInvalidArgument))
	}

	var id string
	err = s.db.WithContext(ctx).Raw(`
		INSERT INTO catalog_relation
			(source_type, source_id, target_type, target_id, relation_type, relation_level, is_bidirectional, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_type, source_id, target_type, target_id, relation_type) DO UPDATE SET
			relation_level = EXCLUDED.relation_level,
			is_bidirectional = EXCLUDED.is_bidirectional,
			description = EXCLUDED.description,
			updated_at = CURRENT_TIMESTAMP
		RETURNING relation_id::text
	`, r.SourceType, sourceID, r.TargetType, targetID,
		r.RelationType, r.RelationLevel, r.Bidirectional, nullStr(r.Description)).Scan(&id).Error
	if err != nil {
		return domain.Receipt{}, s.writeErr(r, err)
	}
	pid, err := uuid.Parse(id)
	if err != nil {
		return domain.Receipt{}, s.writeErr(r, err)
	}
	return domain.Receipt{PrimaryID: pid}, nil
}

func (s *store) upsertCustomer(ctx context.Context, r *domain.CustomerRecord) (domain.Receipt, error) {
	tables, err := s.prov.Ensure(ctx, r.InstitutionCode)
	if err != nil {
		return domain.Receipt{}, err
	}
	if r.Person.Phone == "" {
		return domain.Receipt{}, s.writeErr(r, fmt.Errorf("%w: person phone required", syncerr.ErrInvalidArgument))
	}

	birthday, err := parseDate(r.Person.Birthday)
	if err != nil {
		return domain.Receipt{}, s.writeErr(r, err)
	}
	firstVisit, err := parseDate(r.FirstVisitDate)
	if err != nil {
		return domain.Receipt{}, s.writeErr(r, err)
	}
	lastVisit, err := parseDate(r.LastVisitDate)
	if err != nil {
		return domain.Receipt{}, s.writeErr(r, err)
	}

	var receipt domain.Receipt
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Phone is the natural identity of the person: a conflicting row
		// is the same human seen through another tenant, so identity
		// fields merge take-new-unless-null.
		var personID string
		if err := tx.Raw(`
			INSERT INTO natural_person (customer_code, name, phone, gender, birthday)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (phone) DO UPDATE SET
				name = COALESCE(EXCLUDED.name, natural_person.name),
				gender = COALESCE(EXCLUDED.gender, natural_person.gender),
				birthday = COALESCE(EXCLUDED.birthday, natural_person.birthday),
				updated_at = CURRENT_TIMESTAMP
			RETURNING person_id::text
		`, r.CustomerCode, nullStr(r.Person.Name), r.Person.Phone,
			nullStr(r.Person.Gender), birthday).Scan(&personID).Error; err != nil {
			return err
		}

		instID, err := institutionIDTx(tx, r.InstitutionCode)
		if err != nil {
			return err
		}

		var doctorID any
		if r.DoctorCode != "" {
			var id string
			if err := tx.Raw(
				"SELECT doctor_id::text FROM doctor WHERE doctor_code = ?", r.DoctorCode,
			).Scan(&id).Error; err != nil {
				return err
			}
			if id != "" {
				doctorID = id
			}
		}

		// A referrer that has not been imported yet is left null rather
		// than rejected; the link backfills on the next sync.
		var referrerID any
		if r.ReferrerCode != "" {
			var id string
			if err := tx.Raw(fmt.Sprintf(
				"SELECT institution_customer_id::text FROM %s WHERE customer_code = ?", tables.Customers,
			), r.ReferrerCode).Scan(&id).Error; err != nil {
				return err
			}
			if id != "" {
				referrerID = id
			}
		}

		vipLevel := r.VIPLevel
		if vipLevel == "" {
			vipLevel = "NORMAL"
		}
		status := r.Status
		if status == "" {
			status = "ACTIVE"
		}

		var customerID string
		if err := tx.Raw(fmt.Sprintf(`
			INSERT INTO %s
				(institution_id, person_id, customer_code, vip_level, status,
				 first_visit_date, last_visit_date, referrer_id, doctor_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (institution_id, person_id) DO UPDATE SET
				vip_level = EXCLUDED.vip_level,
				status = EXCLUDED.status,
				first_visit_date = COALESCE(%s.first_visit_date, EXCLUDED.first_visit_date),
				last_visit_date = COALESCE(EXCLUDED.last_visit_date, %s.last_visit_date),
				referrer_id = COALESCE(EXCLUDED.referrer_id, %s.referrer_id),
				doctor_id = COALESCE(EXCLUDED.doctor_id, %s.doctor_id),
				updated_at = CURRENT_TIMESTAMP
			RETURNING institution_customer_id::text
		`, tables.Customers, tables.Customers, tables.Customers, tables.Customers, tables.Customers),
			instID, personID, r.CustomerCode, vipLevel, status,
			firstVisit, lastVisit, referrerID, doctorID).Scan(&customerID).Error; err != nil {
			return err
		}

		receipt.PrimaryID = uuid.MustParse(customerID)
		receipt.PersonID = uuid.MustParse(personID)
		receipt.InstitutionID = instID
		return nil
	})
	if err != nil {
		return domain.Receipt{}, s.writeErr(r, err)
	}
	return receipt, nil
}

func (s *store) insertConsumption(ctx context.Context, r *domain.ConsumptionRecordInput) (domain.Receipt, error) {
	tables, err := s.prov.Ensure(ctx, r.InstitutionCode)
	if err != nil {
		return domain.Receipt{}, err
	}
	orderDate, err := parseDate(r.OrderDate)
	if err != nil {
		return domain.Receipt{}, s.writeErr(r, err)
	}
	if orderDate == nil {
		return domain.Receipt{}, s.writeErr(r, fmt.Errorf("%w: order_date required", syncerr.ErrInvalidArgument))
	}
	orderTime, err := parseTime(r.OrderTime)
	if err != nil {
		return domain.Receipt{}, s.writeErr(r, err)
	}

	var receipt domain.Receipt
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		instID, err := institutionIDTx(tx, r.InstitutionCode)
		if err != nil {
			return err
		}

		var customerID string
		if err := tx.Raw(fmt.Sprintf(
			"SELECT institution_customer_id::text FROM %s WHERE customer_code = ? AND deleted_at IS NULL",
			tables.Customers,
		), r.CustomerCode).Scan(&customerID).Error; err != nil {
			return err
		}
		if customerID == "" {
			return &syncerr.ReferenceResolutionError{Kind: "customer", Code: r.CustomerCode}
		}

		// Transactional data must not be silently partial: a supplied
		// catalog code that resolves to no tenant binding is fatal.
		var projectBinding any
		if r.ProjectCode != "" {
			var id string
			if err := tx.Raw(fmt.Sprintf(`
				SELECT ip.institution_project_id::text
				FROM %s ip
				JOIN project p ON ip.project_id = p.project_id
				WHERE p.project_code = ? AND ip.institution_id = ?
			`, tables.ProjectBindings), r.ProjectCode, instID).Scan(&id).Error; err != nil {
				return err
			}
			if id == "" {
				return &syncerr.ReferenceResolutionError{Kind: "project binding", Code: r.ProjectCode}
			}
			projectBinding = id
		}

		var productBinding any
		if r.ProductCode != "" {
			var id string
			if err := tx.Raw(fmt.Sprintf(`
				SELECT ipr.institution_product_id::text
				FROM %s ipr
				JOIN product pr ON ipr.product_id = pr.product_id
				WHERE pr.product_code = ? AND ipr.institution_id = ?
			`, tables.ProductBindings), r.ProductCode, instID).Scan(&id).Error; err != nil {
				return err
			}
			if id == "" {
				return &syncerr.ReferenceResolutionError{Kind: "product binding", Code: r.ProductCode}
			}
			productBinding = id
		}

		var doctorBinding any
		if r.DoctorCode != "" {
			var id string
			if err := tx.Raw(fmt.Sprintf(`
				SELECT idr.institution_doctor_id::text
				FROM %s idr
				JOIN doctor d ON idr.doctor_id = d.doctor_id
				WHERE d.doctor_code = ? AND idr.institution_id = ?
			`, tables.DoctorBindings), r.DoctorCode, instID).Scan(&id).Error; err != nil {
				return err
			}
			if id == "" {
				return &syncerr.ReferenceResolutionError{Kind: "doctor binding", Code: r.DoctorCode}
			}
			doctorBinding = id
		}

		currentTimes := r.CurrentTimes
		if currentTimes == 0 {
			currentTimes = 1
		}
		totalTimes := r.TotalTimes
		if totalTimes == 0 {
			totalTimes = 1
		}
		paymentStatus := r.PaymentStatus
		if paymentStatus == "" {
			paymentStatus = "PAID"
		}

		var consumptionID string
		var inserted bool
		if err := tx.Raw(fmt.Sprintf(`
			INSERT INTO %s
				(order_number, institution_id, institution_customer_id,
				 institution_project_id, institution_product_id, institution_doctor_id,
				 order_date, order_time, order_type,
				 current_times, total_times,
				 total_amount, discount_amount, actual_amount,
				 payment_method, payment_status, is_refund, notes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (order_number) DO UPDATE SET
				institution_project_id = COALESCE(EXCLUDED.institution_project_id, %s.institution_project_id),
				institution_product_id = COALESCE(EXCLUDED.institution_product_id, %s.institution_product_id),
				institution_doctor_id = COALESCE(EXCLUDED.institution_doctor_id, %s.institution_doctor_id),
				updated_at = CURRENT_TIMESTAMP
			RETURNING consumption_id::text, (xmax = 0) AS inserted
		`, tables.ConsumptionRecords, tables.ConsumptionRecords, tables.ConsumptionRecords, tables.ConsumptionRecords),
			r.OrderNumber, instID, customerID,
			projectBinding, productBinding, doctorBinding,
			orderDate, orderTime, nullStr(r.OrderType),
			currentTimes, totalTimes,
			r.TotalAmount, r.DiscountAmount, r.ActualAmount,
			nullStr(r.PaymentMethod), paymentStatus, r.IsRefund, nullStr(r.Notes)).
			Row().Scan(&consumptionID, &inserted); err != nil {
			return err
		}

		// Running totals move only on first insert of an order, so
		// replaying the same order number cannot double-count. Refunds do
		// not decrease lifetime spend; the flag is kept for reporting.
		if inserted {
			if err := tx.Exec(fmt.Sprintf(`
				UPDATE %s SET
					consumption_count = consumption_count + 1,
					total_consumption = total_consumption + ?,
					last_visit_date = ?,
					updated_at = CURRENT_TIMESTAMP
				WHERE institution_customer_id = ?
			`, tables.Customers), r.ActualAmount, orderDate, customerID).Error; err != nil {
				return err
			}
		}

		receipt.PrimaryID = uuid.MustParse(consumptionID)
		receipt.CustomerID = uuid.MustParse(customerID)
		receipt.InstitutionID = instID
		return nil
	})
	if err != nil {
		var refErr *syncerr.ReferenceResolutionError
		if errors.As(err, &refErr) {
			return domain.Receipt{}, refErr
		}
		return domain.Receipt{}, s.writeErr(r, err)
	}
	return receipt, nil
}

func (s *store) Remove(ctx context.Context, rec domain.Record) (domain.Receipt, error) {
	r, ok := rec.(*domain.CustomerRecord)
	if !ok {
		return domain.Receipt{}, &syncerr.PrimaryWriteError{
			Kind:  string(rec.RecordKind()),
			Key:   rec.NaturalKey(),
			Cause: fmt.Errorf("%w: removal only supported for customers", syncerr.ErrInvalidArgument),
		}
	}
	tables, err := s.prov.Ensure(ctx, r.InstitutionCode)
	if err != nil {
		return domain.Receipt{}, err
	}

	var row struct {
		InstitutionCustomerID string
		PersonID              string
		InstitutionID         string
	}
	err = s.db.WithContext(ctx).Raw(fmt.Sprintf(`
		UPDATE %s SET
			deleted_at = CURRENT_TIMESTAMP,
			status = 'CHURNED',
			updated_at = CURRENT_TIMESTAMP
		WHERE customer_code = ? AND deleted_at IS NULL
		RETURNING institution_customer_id::text, person_id::text, institution_id::text
	`, tables.Customers), r.CustomerCode).Scan(&row).Error
	if err != nil {
		return domain.Receipt{}, s.writeErr(r, err)
	}
	if row.InstitutionCustomerID == "" {
		return domain.Receipt{}, &syncerr.ReferenceResolutionError{Kind: "customer", Code: r.CustomerCode}
	}
	return domain.Receipt{
		PrimaryID:     uuid.MustParse(row.InstitutionCustomerID),
		PersonID:      uuid.MustParse(row.PersonID),
		InstitutionID: uuid.MustParse(row.InstitutionID),
	}, nil
}

func (s *store) institutionID(ctx context.Context, tenantCode string) (uuid.UUID, error) {
	return institutionIDTx(s.db.WithContext(ctx), tenantCode)
}

func institutionIDTx(tx *gorm.DB, tenantCode string) (uuid.UUID, error) {
	var id string
	if err := tx.Raw(
		"SELECT institution_id::text FROM institution WHERE institution_code = ?", tenantCode,
	).Scan(&id).Error; err != nil {
		return uuid.Nil, err
	}
	if id == "" {
		return uuid.Nil, &syncerr.ReferenceResolutionError{Kind: "institution", Code: tenantCode}
	}
	return uuid.Parse(id)
}

func (s *store) catalogItemID(ctx context.Context, endpointType, code string) (uuid.UUID, error) {
	var sql string
	switch endpointType {
	case domain.RelationSourceProject:
		sql = "SELECT project_id::text FROM project WHERE project_code = ?"
	case domain.RelationSourceProduct:
		sql = "SELECT product_id::text FROM product WHERE product_code = ?"
	}
	var id string
	if err := s.db.WithContext(ctx).Raw(sql, code).Scan(&id).Error; err != nil {
		return uuid.Nil, err
	}
	if id == "" {
		return uuid.Nil, &syncerr.ReferenceResolutionError{Kind: endpointType, Code: code}
	}
	return uuid.Parse(id)
}

func (s *store) writeErr(rec domain.Record, err error) error {
	s.log.Error(
		"primary write failed",
		"kind", string(rec.RecordKind()),
		"key", rec.NaturalKey(),
		"error", err.Error(),
	)
	return &syncerr.PrimaryWriteError{
		Kind:  string(rec.RecordKind()),
		Key:   rec.NaturalKey(),
		Cause: syncerr.ClassifyPostgres(err),
	}
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return &t, nil
}

func parseTime(s string) (*string, error) {
	if s == "" {
		return nil, nil
	}
	if _, err := time.Parse("15:04:05", s); err != nil {
		return nil, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return &s, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(i int) any {
	if i == 0 {
		return nil
	}
	return i
}
