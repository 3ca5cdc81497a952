package domain

import (
	"strings"

	"github.com/google/uuid"
)

// Record is a canonical entity as consumed from the import feeds. The
// primary store is the only component that mints identifiers for records;
// secondary stores derive their keys from the resulting Receipt.
type Record interface {
	RecordKind() Kind
	// NaturalKey is the business-meaningful identity used for upsert
	// matching (institution code, phone-scoped customer code, order number).
	NaturalKey() string
	// Tenant returns the owning tenant code, or "" for global entities.
	Tenant() string
}

// Receipt is what a primary upsert hands back: the authoritative identifier
// plus any related identifiers resolved during the write. All secondary
// representations key off PrimaryID.
type Receipt struct {
	PrimaryID     uuid.UUID
	PersonID      uuid.UUID
	InstitutionID uuid.UUID
	// CustomerID is set for consumption records: the tenant-scoped customer
	// the order belongs to.
	CustomerID uuid.UUID
}

// PersonRecord carries the phone-unique natural identity embedded in a
// customer record.
type PersonRecord struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Gender   string `json:"gender"`
	Birthday string `json:"birthday"` // YYYY-MM-DD
}

type InstitutionRecord struct {
	InstitutionCode string `json:"institution_code"`
	Name            string `json:"name"`
	Alias           string `json:"alias"`
	Type            string `json:"type"`
	Status          string `json:"status"`
}

func (r *InstitutionRecord) RecordKind() Kind   { return KindInstitution }
func (r *InstitutionRecord) NaturalKey() string { return r.InstitutionCode }
func (r *InstitutionRecord) Tenant() string     { return "" }

type DoctorRecord struct {
	DoctorCode      string   `json:"doctor_code"`
	Name            string   `json:"name"`
	Gender          string   `json:"gender"`
	Phone           string   `json:"phone"`
	InstitutionCode string   `json:"institution_code"`
	Title           string   `json:"title"`
	Specialty       []string `json:"specialty"`
	Introduction    string   `json:"introduction"`
}

func (r *DoctorRecord) RecordKind() Kind   { return KindDoctor }
func (r *DoctorRecord) NaturalKey() string { return r.DoctorCode }
func (r *DoctorRecord) Tenant() string     { return "" }

type ProjectRecord struct {
	ProjectCode       string   `json:"project_code"`
	Name              string   `json:"name"`
	Category          string   `json:"category"`
	BodyPart          string   `json:"body_part"`
	RiskLevel         int      `json:"risk_level"`
	Indications       string   `json:"indications"`
	Contraindications string   `json:"contraindications"`
	Description       string   `json:"description"`
	Price             *float64 `json:"price"`
}

func (r *ProjectRecord) RecordKind() Kind   { return KindProject }
func (r *ProjectRecord) NaturalKey() string { return r.ProjectCode }
func (r *ProjectRecord) Tenant() string     { return "" }

type ProductRecord struct {
	ProductCode       string   `json:"product_code"`
	Name              string   `json:"name"`
	Brand             string   `json:"brand"`
	Category          string   `json:"category"`
	BodyPart          string   `json:"body_part"`
	Unit              string   `json:"unit"`
	EffectLevel       int      `json:"effect_level"`
	Indications       string   `json:"indications"`
	Contraindications string   `json:"contraindications"`
	Description       string   `json:"description"`
	Price             *float64 `json:"price"`
}

func (r *ProductRecord) RecordKind() Kind   { return KindProduct }
func (r *ProductRecord) NaturalKey() string { return r.ProductCode }
func (r *ProductRecord) Tenant() string     { return "" }

// RelationRecord is a typed edge between two catalog entities. The
// (source, target, type) triple is unique; self-relations are forbidden
// unless source and target types differ.
type RelationRecord struct {
	SourceType    string `json:"source_type"` // PROJECT | PRODUCT
	SourceCode    string `json:"source_code"`
	TargetType    string `json:"target_type"`
	TargetCode    string `json:"target_code"`
	RelationType  string `json:"relation_type"` // UPGRADE | SIMILAR | COMBINATION | PREREQUISITE | ALTERNATIVE
	RelationLevel int    `json:"relation_level"`
	Bidirectional bool   `json:"is_bidirectional"`
	Description   string `json:"description"`
}

func (r *RelationRecord) RecordKind() Kind { return KindRelation }
func (r *RelationRecord) NaturalKey() string {
	return strings.Join([]string{r.SourceType, r.SourceCode, r.TargetType, r.TargetCode, r.RelationType}, "|")
}
func (r *RelationRecord) Tenant() string { return "" }

type CustomerRecord struct {
	InstitutionCode string       `json:"institution_code"`
	CustomerCode    string       `json:"customer_code"`
	Person          PersonRecord `json:"person"`
	VIPLevel        string       `json:"vip_level"`
	Status          string       `json:"status"`
	FirstVisitDate  string       `json:"first_visit_date"` // YYYY-MM-DD, may be empty
	LastVisitDate   string       `json:"last_visit_date"`
	ReferrerCode    string       `json:"referrer_code"`
	DoctorCode      string       `json:"doctor_code"`
}

func (r *CustomerRecord) RecordKind() Kind   { return KindCustomer }
func (r *CustomerRecord) NaturalKey() string { return r.CustomerCode }
func (r *CustomerRecord) Tenant() string     { return r.InstitutionCode }

type ConsumptionRecordInput struct {
	InstitutionCode string  `json:"institution_code"`
	OrderNumber     string  `json:"order_number"`
	CustomerCode    string  `json:"customer_code"`
	ProjectCode     string  `json:"project_code"`
	ProductCode     string  `json:"product_code"`
	DoctorCode      string  `json:"doctor_code"`
	OrderDate       string  `json:"order_date"` // YYYY-MM-DD
	OrderTime       string  `json:"order_time"` // HH:MM:SS, optional
	OrderType       string  `json:"order_type"`
	CurrentTimes    int     `json:"current_times"`
	TotalTimes      int     `json:"total_times"`
	TotalAmount     float64 `json:"total_amount"`
	DiscountAmount  float64 `json:"discount_amount"`
	ActualAmount    float64 `json:"actual_amount"`
	PaymentMethod   string  `json:"payment_method"`
	PaymentStatus   string  `json:"payment_status"`
	IsRefund        bool    `json:"is_refund"`
	Notes           string  `json:"notes"`
}

func (r *ConsumptionRecordInput) RecordKind() Kind   { return KindConsumption }
func (r *ConsumptionRecordInput) NaturalKey() string { return r.OrderNumber }
func (r *ConsumptionRecordInput) Tenant() string     { return r.InstitutionCode }
