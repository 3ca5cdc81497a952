package primary

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/revisit-backend/internal/domain"
)

// BirthdayCustomer is one row of the upcoming-birthday scan, joined across
// the tenant customer table and the shared person registry.
type BirthdayCustomer struct {
	CustomerID        uuid.UUID  `gorm:"column:institution_customer_id" json:"customer_id"`
	CustomerCode      string     `gorm:"column:customer_code" json:"customer_code"`
	VIPLevel          string     `gorm:"column:vip_level" json:"vip_level"`
	Status            string     `gorm:"column:status" json:"status"`
	FirstVisitDate    *time.Time `gorm:"column:first_visit_date" json:"first_visit_date,omitempty"`
	LastVisitDate     *time.Time `gorm:"column:last_visit_date" json:"last_visit_date,omitempty"`
	ConsumptionCount  int        `gorm:"column:consumption_count" json:"consumption_count"`
	TotalConsumption  float64    `gorm:"column:total_consumption" json:"total_consumption"`
	PersonID          uuid.UUID  `gorm:"column:person_id" json:"person_id"`
	Name              string     `gorm:"column:name" json:"name"`
	Phone             string     `gorm:"column:phone" json:"phone"`
	Gender            string     `gorm:"column:gender" json:"gender"`
	Birthday          *time.Time `gorm:"column:birthday" json:"birthday,omitempty"`
	DaysUntilBirthday int        `gorm:"column:days_until_birthday" json:"days_until_birthday"`
}

type ConsumptionEntry struct {
	OrderNumber     string     `gorm:"column:order_number"`
	OrderDate       *time.Time `gorm:"column:order_date"`
	OrderType       string     `gorm:"column:order_type"`
	ActualAmount    float64    `gorm:"column:actual_amount"`
	PaymentMethod   string     `gorm:"column:payment_method"`
	Notes           string     `gorm:"column:notes"`
	ProjectName     string     `gorm:"column:project_name"`
	ProjectCategory string     `gorm:"column:project_category"`
	ProductName     string     `gorm:"column:product_name"`
	ProductBrand    string     `gorm:"column:product_brand"`
	DoctorName      string     `gorm:"column:doctor_name"`
}

// RelatedItem is one typed edge out of (or, for bidirectional relations,
// into) a catalog item.
type RelatedItem struct {
	ItemType      string `gorm:"column:item_type"`
	ItemCode      string `gorm:"column:item_code"`
	ItemName      string `gorm:"column:item_name"`
	RelationType  string `gorm:"column:relation_type"`
	RelationLevel int    `gorm:"column:relation_level"`
	Description   string `gorm:"column:description"`
}

// UpcomingBirthdays returns active customers whose birthday (month/day)
// falls within the next daysAhead days, ordered by tier then lifetime spend.
// One query per candidate date keeps the month/day match immune to
// year-boundary arithmetic.
func (s *store) UpcomingBirthdays(ctx context.Context, tenantCode string, daysAhead int) ([]BirthdayCustomer, error) {
	tables, err := s.prov.Ensure(ctx, tenantCode)
	if err != nil {
		return nil, err
	}

	today := time.Now()
	var out []BirthdayCustomer
	for i := 0; i <= daysAhead; i++ {
		target := today.AddDate(0, 0, i)
		var rows []BirthdayCustomer
		err := s.db.WithContext(ctx).Raw(fmt.Sprintf(`
			SELECT
				ic.institution_customer_id,
				ic.customer_code,
				ic.vip_level,
				ic.status,
				ic.first_visit_date,
				ic.last_visit_date,
				ic.consumption_count,
				ic.total_consumption,
				np.person_id,
				np.name,
				np.phone,
				np.gender,
				np.birthday,
				? AS days_until_birthday
			FROM %s ic
			JOIN natural_person np ON ic.person_id = np.person_id
			WHERE EXTRACT(MONTH FROM np.birthday) = ?
			AND EXTRACT(DAY FROM np.birthday) = ?
			AND ic.status = 'ACTIVE'
			AND ic.deleted_at IS NULL
			ORDER BY ic.vip_level DESC, ic.total_consumption DESC
		`, tables.Customers), i, int(target.Month()), target.Day()).Scan(&rows).Error
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

func (s *store) ConsumptionHistory(ctx context.Context, tenantCode string, customerID uuid.UUID, limit int) ([]ConsumptionEntry, error) {
	tables, err := s.prov.Ensure(ctx, tenantCode)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	var rows []ConsumptionEntry
	err = s.db.WithContext(ctx).Raw(fmt.Sprintf(`
		SELECT
			co.order_number,
			co.order_date,
			co.order_type,
			co.actual_amount,
			co.payment_method,
			co.notes,
			p.name AS project_name,
			p.category AS project_category,
			pr.name AS product_name,
			pr.brand AS product_brand,
			d.name AS doctor_name
		FROM %s co
		LEFT JOIN %s ip ON co.institution_project_id = ip.institution_project_id
		LEFT JOIN project p ON ip.project_id = p.project_id
		LEFT JOIN %s ipr ON co.institution_product_id = ipr.institution_product_id
		LEFT JOIN product pr ON ipr.product_id = pr.product_id
		LEFT JOIN %s idr ON co.institution_doctor_id = idr.institution_doctor_id
		LEFT JOIN doctor d ON idr.doctor_id = d.doctor_id
		WHERE co.institution_customer_id = ?
		ORDER BY co.order_date DESC
		LIMIT ?
	`, tables.ConsumptionRecords, tables.ProjectBindings, tables.ProductBindings, tables.DoctorBindings),
		customerID, limit).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// RelatedCatalogItems walks typed relations from a catalog item: forward
// edges always, reverse edges when the relation is bidirectional.
func (s *store) RelatedCatalogItems(ctx context.Context, sourceType, sourceCode string) ([]RelatedItem, error) {
	sourceID, err := s.catalogItemID(ctx, sourceType, sourceCode)
	if err != nil {
		return nil, err
	}

	var rows []RelatedItem
	err = s.db.WithContext(ctx).Raw(`
		SELECT
			r.target_type AS item_type,
			COALESCE(p.project_code, pr.product_code) AS item_code,
			COALESCE(p.name, pr.name) AS item_name,
			r.relation_type,
			r.relation_level,
			COALESCE(r.description, '') AS description
		FROM catalog_relation r
		LEFT JOIN project p ON r.target_type = 'PROJECT' AND r.target_id = p.project_id
		LEFT JOIN product pr ON r.target_type = 'PRODUCT' AND r.target_id = pr.product_id
		WHERE r.source_type = ? AND r.source_id = ?

		UNION ALL

		SELECT
			r.source_type AS item_type,
			COALESCE(p.project_code, pr.product_code) AS item_code,
			COALESCE(p.name, pr.name) AS item_name,
			r.relation_type,
			r.relation_level,
			COALESCE(r.description, '') AS description
		FROM catalog_relation r
		LEFT JOIN project p ON r.source_type = 'PROJECT' AND r.source_id = p.project_id
		LEFT JOIN product pr ON r.source_type = 'PRODUCT' AND r.source_id = pr.product_id
		WHERE r.is_bidirectional = TRUE AND r.target_type = ? AND r.target_id = ?

		ORDER BY relation_level DESC
	`, sourceType, sourceID, sourceType, sourceID).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *store) TenantCodes(ctx context.Context) ([]string, error) {
	var codes []string
	err := s.db.WithContext(ctx).Raw(
		"SELECT institution_code FROM institution WHERE status = 'ACTIVE' ORDER BY institution_code",
	).Scan(&codes).Error
	if err != nil {
		return nil, err
	}
	return codes, nil
}

// Counts returns per-kind authoritative row counts for one tenant's scope.
// Catalog kinds are global; customer and consumption counts come from the
// tenant's partitioned tables. The health reporter compares these against
// secondary-store counts.
func (s *store) Counts(ctx context.Context, tenantCode string) (map[domain.Kind]int64, error) {
	tables, err := s.prov.Ensure(ctx, tenantCode)
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.Kind]int64, len(domain.Kinds))
	global := map[domain.Kind]string{
		domain.KindInstitution: "SELECT count(*) FROM institution",
		domain.KindDoctor:      "SELECT count(*) FROM doctor",
		domain.KindProject:     "SELECT count(*) FROM project",
		domain.KindProduct:     "SELECT count(*) FROM product",
		domain.KindRelation:    "SELECT count(*) FROM catalog_relation",
	}
	for kind, sql := range global {
		var n int64
		if err := s.db.WithContext(ctx).Raw(sql).Scan(&n).Error; err != nil {
			return nil, err
		}
		counts[kind] = n
	}

	var customers int64
	if err := s.db.WithContext(ctx).Raw(fmt.Sprintf(
		"SELECT count(*) FROM %s WHERE deleted_at IS NULL", tables.Customers,
	)).Scan(&customers).Error; err != nil {
		return nil, err
	}
	counts[domain.KindCustomer] = customers

	var consumptions int64
	if err := s.db.WithContext(ctx).Raw(fmt.Sprintf(
		"SELECT count(*) FROM %s", tables.ConsumptionRecords,
	)).Scan(&consumptions).Error; err != nil {
		return nil, err
	}
	counts[domain.KindConsumption] = consumptions

	return counts, nil
}
