package primary

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/yungbote/revisit-backend/internal/domain"
)

// Export reads every canonical record back out of the primary store in feed
// dependency order: global catalog first, then the tenant's customers and
// consumption records. Feeding the result through the dispatcher replays the
// whole dataset into the secondary stores; primary re-upserts are idempotent
// and running totals only move on first insert, so replays are safe.
func (s *store) Export(ctx context.Context, tenantCode string) ([]domain.Record, error) {
	tables, err := s.prov.Ensure(ctx, tenantCode)
	if err != nil {
		return nil, err
	}

	var out []domain.Record

	var institutions []domain.InstitutionRecord
	err = s.db.WithContext(ctx).Raw(`
		SELECT institution_code, name,
			COALESCE(alias, '') AS alias,
			COALESCE(type, '') AS type,
			COALESCE(status, 'ACTIVE') AS status
		FROM institution
		ORDER BY institution_code
	`).Scan(&institutions).Error
	if err != nil {
		return nil, fmt.Errorf("export institutions: %w", err)
	}
	for i := range institutions {
		out = append(out, &institutions[i])
	}

	var doctors []struct {
		DoctorCode      string         `gorm:"column:doctor_code"`
		Name            string         `gorm:"column:name"`
		Gender          string         `gorm:"column:gender"`
		Phone           string         `gorm:"column:phone"`
		InstitutionCode string         `gorm:"column:institution_code"`
		Title           string         `gorm:"column:title"`
		Specialty       pq.StringArray `gorm:"column:specialty;type:text[]"`
		Introduction    string         `gorm:"column:introduction"`
	}
	err = s.db.WithContext(ctx).Raw(`
		SELECT doctor_code, name,
			COALESCE(gender, '') AS gender,
			COALESCE(phone, '') AS phone,
			COALESCE(institution_code, '') AS institution_code,
			COALESCE(title, '') AS title,
			specialty,
			COALESCE(introduction, '') AS introduction
		FROM doctor
		ORDER BY doctor_code
	`).Scan(&doctors).Error
	if err != nil {
		return nil, fmt.Errorf("export doctors: %w", err)
	}
	for _, d := range doctors {
		out = append(out, &domain.DoctorRecord{
			DoctorCode:      d.DoctorCode,
			Name:            d.Name,
			Gender:          d.Gender,
			Phone:           d.Phone,
			InstitutionCode: d.InstitutionCode,
			Title:           d.Title,
			Specialty:       []string(d.Specialty),
			Introduction:    d.Introduction,
		})
	}

	var projects []domain.ProjectRecord
	err = s.db.WithContext(ctx).Raw(`
		SELECT project_code, name,
			COALESCE(category, '') AS category,
			COALESCE(body_part, '') AS body_part,
			COALESCE(risk_level, 0) AS risk_level,
			COALESCE(indications, '') AS indications,
			COALESCE(contraindications, '') AS contraindications,
			COALESCE(description, '') AS description
		FROM project
		ORDER BY project_code
	`).Scan(&projects).Error
	if err != nil {
		return nil, fmt.Errorf("export projects: %w", err)
	}
	for i := range projects {
		out = append(out, &projects[i])
	}

	var products []domain.ProductRecord
	err = s.db.WithContext(ctx).Raw(`
		SELECT product_code, name,
			COALESCE(brand, '') AS brand,
			COALESCE(category, '') AS category,
			COALESCE(body_part, '') AS body_part,
			COALESCE(unit, '') AS unit,
			COALESCE(effect_level, 0) AS effect_level,
			COALESCE(indications, '') AS indications,
			COALESCE(contraindications, '') AS contraindications,
			COALESCE(description, '') AS description
		FROM product
		ORDER BY product_code
	`).Scan(&products).Error
	if err != nil {
		return nil, fmt.Errorf("export products: %w", err)
	}
	for i := range products {
		out = append(out, &products[i])
	}

	var relations []domain.RelationRecord
	err = s.db.WithContext(ctx).Raw(`
		SELECT
			r.source_type,
			COALESCE(sp.project_code, spr.product_code, '') AS source_code,
			r.target_type,
			COALESCE(tp.project_code, tpr.product_code, '') AS target_code,
			r.relation_type,
			r.relation_level,
			r.is_bidirectional,
			COALESCE(r.description, '') AS description
		FROM catalog_relation r
		LEFT JOIN project sp ON r.source_type = 'PROJECT' AND r.source_id = sp.project_id
		LEFT JOIN product spr ON r.source_type = 'PRODUCT' AND r.source_id = spr.product_id
		LEFT JOIN project tp ON r.target_type = 'PROJECT' AND r.target_id = tp.project_id
		LEFT JOIN product tpr ON r.target_type = 'PRODUCT' AND r.target_id = tpr.product_id
		ORDER BY r.relation_type, source_code, target_code
	`).Scan(&relations).Error
	if err != nil {
		return nil, fmt.Errorf("export relations: %w", err)
	}
	for i := range relations {
		out = append(out, &relations[i])
	}

	var customers []struct {
		CustomerCode   string `gorm:"column:customer_code"`
		Name           string `gorm:"column:name"`
		Phone          string `gorm:"column:phone"`
		Gender         string `gorm:"column:gender"`
		Birthday       string `gorm:"column:birthday"`
		VIPLevel       string `gorm:"column:vip_level"`
		Status         string `gorm:"column:status"`
		FirstVisitDate string `gorm:"column:first_visit_date"`
		LastVisitDate  string `gorm:"column:last_visit_date"`
		ReferrerCode   string `gorm:"column:referrer_code"`
		DoctorCode     string `gorm:"column:doctor_code"`
	}
	err = s.db.WithContext(ctx).Raw(fmt.Sprintf(`
		SELECT
			ic.customer_code,
			COALESCE(np.name, '') AS name,
			np.phone,
			COALESCE(np.gender, '') AS gender,
			COALESCE(np.birthday::text, '') AS birthday,
			ic.vip_level,
			ic.status,
			COALESCE(ic.first_visit_date::text, '') AS first_visit_date,
			COALESCE(ic.last_visit_date::text, '') AS last_visit_date,
			COALESCE(ref.customer_code, '') AS referrer_code,
			COALESCE(d.doctor_code, '') AS doctor_code
		FROM %s ic
		JOIN natural_person np ON ic.person_id = np.person_id
		LEFT JOIN %s ref ON ic.referrer_id = ref.institution_customer_id
		LEFT JOIN doctor d ON ic.doctor_id = d.doctor_id
		WHERE ic.deleted_at IS NULL
		ORDER BY ic.customer_code
	`, tables.Customers, tables.Customers)).Scan(&customers).Error
	if err != nil {
		return nil, fmt.Errorf("export customers: %w", err)
	}
	for _, c := range customers {
		out = append(out, &domain.CustomerRecord{
			InstitutionCode: tenantCode,
			CustomerCode:    c.CustomerCode,
			Person: domain.PersonRecord{
				Name:     c.Name,
				Phone:    c.Phone,
				Gender:   c.Gender,
				Birthday: c.Birthday,
			},
			VIPLevel:       c.VIPLevel,
			Status:         c.Status,
			FirstVisitDate: c.FirstVisitDate,
			LastVisitDate:  c.LastVisitDate,
			ReferrerCode:   c.ReferrerCode,
			DoctorCode:     c.DoctorCode,
		})
	}

	// Orders of removed customers stay in the primary table for audit but
	// cannot be replayed: consumption resolution requires a live customer.
	var consumptions []struct {
		OrderNumber    string  `gorm:"column:order_number"`
		CustomerCode   string  `gorm:"column:customer_code"`
		ProjectCode    string  `gorm:"column:project_code"`
		ProductCode    string  `gorm:"column:product_code"`
		DoctorCode     string  `gorm:"column:doctor_code"`
		OrderDate      string  `gorm:"column:order_date"`
		OrderTime      string  `gorm:"column:order_time"`
		OrderType      string  `gorm:"column:order_type"`
		CurrentTimes   int     `gorm:"column:current_times"`
		TotalTimes     int     `gorm:"column:total_times"`
		TotalAmount    float64 `gorm:"column:total_amount"`
		DiscountAmount float64 `gorm:"column:discount_amount"`
		ActualAmount   float64 `gorm:"column:actual_amount"`
		PaymentMethod  string  `gorm:"column:payment_method"`
		PaymentStatus  string  `gorm:"column:payment_status"`
		IsRefund       bool    `gorm:"column:is_refund"`
		Notes          string  `gorm:"column:notes"`
	}
	err = s.db.WithContext(ctx).Raw(fmt.Sprintf(`
		SELECT
			co.order_number,
			ic.customer_code,
			COALESCE(p.project_code, '') AS project_code,
			COALESCE(pr.product_code, '') AS product_code,
			COALESCE(d.doctor_code, '') AS doctor_code,
			co.order_date::text AS order_date,
			COALESCE(co.order_time::text, '') AS order_time,
			COALESCE(co.order_type, '') AS order_type,
			co.current_times,
			co.total_times,
			co.total_amount,
			co.discount_amount,
			co.actual_amount,
			COALESCE(co.payment_method, '') AS payment_method,
			COALESCE(co.payment_status, 'PAID') AS payment_status,
			co.is_refund,
			COALESCE(co.notes, '') AS notes
		FROM %s co
		JOIN %s ic ON co.institution_customer_id = ic.institution_customer_id
		LEFT JOIN %s ip ON co.institution_project_id = ip.institution_project_id
		LEFT JOIN project p ON ip.project_id = p.project_id
		LEFT JOIN %s ipr ON co.institution_product_id = ipr.institution_product_id
		LEFT JOIN product pr ON ipr.product_id = pr.product_id
		LEFT JOIN %s idr ON co.institution_doctor_id = idr.institution_doctor_id
		LEFT JOIN doctor d ON idr.doctor_id = d.doctor_id
		WHERE ic.deleted_at IS NULL
		ORDER BY co.order_date, co.order_number
	`, tables.ConsumptionRecords, tables.Customers, tables.ProjectBindings,
		tables.ProductBindings, tables.DoctorBindings)).Scan(&consumptions).Error
	if err != nil {
		return nil, fmt.Errorf("export consumptions: %w", err)
	}
	for _, c := range consumptions {
		out = append(out, &domain.ConsumptionRecordInput{
			InstitutionCode: tenantCode,
			OrderNumber:     c.OrderNumber,
			CustomerCode:    c.CustomerCode,
			ProjectCode:     c.ProjectCode,
			ProductCode:     c.ProductCode,
			DoctorCode:      c.DoctorCode,
			OrderDate:       c.OrderDate,
			OrderTime:       c.OrderTime,
			OrderType:       c.OrderType,
			CurrentTimes:    c.CurrentTimes,
			TotalTimes:      c.TotalTimes,
			TotalAmount:     c.TotalAmount,
			DiscountAmount:  c.DiscountAmount,
			ActualAmount:    c.ActualAmount,
			PaymentMethod:   c.PaymentMethod,
			PaymentStatus:   c.PaymentStatus,
			IsRefund:        c.IsRefund,
			Notes:           c.Notes,
		})
	}

	return out, nil
}
