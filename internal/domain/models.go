package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Shared catalog/identity tables. These are global (one schema for all
// tenants); tenant-partitioned tables are created by the provisioner with
// raw DDL because their names are computed per tenant.

type NaturalPerson struct {
	PersonID     uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey;column:person_id" json:"person_id"`
	CustomerCode string     `gorm:"uniqueIndex;not null;column:customer_code" json:"customer_code"`
	Name         string     `gorm:"column:name" json:"name"`
	Phone        string     `gorm:"uniqueIndex;not null;column:phone" json:"phone"`
	Gender       string     `gorm:"column:gender" json:"gender"`
	Birthday     *time.Time `gorm:"type:date;index;column:birthday" json:"birthday,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (NaturalPerson) TableName() string { return "natural_person" }

type Institution struct {
	InstitutionID   uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey;column:institution_id" json:"institution_id"`
	InstitutionCode string    `gorm:"uniqueIndex;not null;column:institution_code" json:"institution_code"`
	Name            string    `gorm:"not null;column:name" json:"name"`
	Alias           string    `gorm:"column:alias" json:"alias"`
	Type            string    `gorm:"column:type" json:"type"`
	Status          string    `gorm:"column:status;default:ACTIVE" json:"status"`

	AccessPasswordHash string `gorm:"column:access_password_hash" json:"-"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Institution) TableName() string { return "institution" }

type InstitutionLoginLog struct {
	LogID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey;column:log_id" json:"log_id"`
	InstitutionCode string    `gorm:"index;not null;column:institution_code" json:"institution_code"`
	LoginTime       time.Time `gorm:"index;not null;default:now();column:login_time" json:"login_time"`
	Success         bool      `gorm:"not null;column:success" json:"success"`
	IPAddress       string    `gorm:"column:ip_address" json:"ip_address"`
	UserAgent       string    `gorm:"column:user_agent" json:"user_agent"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (InstitutionLoginLog) TableName() string { return "institution_login_log" }

type Doctor struct {
	DoctorID        uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey;column:doctor_id" json:"doctor_id"`
	DoctorCode      string         `gorm:"uniqueIndex;not null;column:doctor_code" json:"doctor_code"`
	Name            string         `gorm:"not null;column:name" json:"name"`
	Gender          string         `gorm:"column:gender" json:"gender"`
	Phone           string         `gorm:"column:phone" json:"phone"`
	InstitutionCode string         `gorm:"index;column:institution_code" json:"institution_code"`
	Title           string         `gorm:"column:title" json:"title"`
	Specialty       pq.StringArray `gorm:"type:text[];column:specialty" json:"specialty"`
	Introduction    string         `gorm:"type:text;column:introduction" json:"introduction"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Doctor) TableName() string { return "doctor" }

type Project struct {
	ProjectID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey;column:project_id" json:"project_id"`
	ProjectCode       string    `gorm:"uniqueIndex;not null;column:project_code" json:"project_code"`
	Name              string    `gorm:"not null;column:name" json:"name"`
	Category          string    `gorm:"index;column:category" json:"category"`
	BodyPart          string    `gorm:"column:body_part" json:"body_part"`
	RiskLevel         int       `gorm:"column:risk_level" json:"risk_level"`
	Indications       string    `gorm:"type:text;column:indications" json:"indications"`
	Contraindications string    `gorm:"type:text;column:contraindications" json:"contraindications"`
	Description       string    `gorm:"type:text;column:description" json:"description"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Project) TableName() string { return "project" }

type Product struct {
	ProductID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey;column:product_id" json:"product_id"`
	ProductCode       string    `gorm:"uniqueIndex;not null;column:product_code" json:"product_code"`
	Name              string    `gorm:"not null;column:name" json:"name"`
	Brand             string    `gorm:"index;column:brand" json:"brand"`
	Category          string    `gorm:"index;column:category" json:"category"`
	BodyPart          string    `gorm:"column:body_part" json:"body_part"`
	Unit              string    `gorm:"column:unit" json:"unit"`
	EffectLevel       int       `gorm:"column:effect_level" json:"effect_level"`
	Indications       string    `gorm:"type:text;column:indications" json:"indications"`
	Contraindications string    `gorm:"type:text;column:contraindications" json:"contraindications"`
	Description       string    `gorm:"type:text;column:description" json:"description"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Product) TableName() string { return "product" }

// CatalogRelation is the shared typed-edge table between catalog entities.
type CatalogRelation struct {
	RelationID uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey;column:relation_id" json:"relation_id"`

	SourceType string    `gorm:"not null;column:source_type;uniqueIndex:uq_catalog_relation,priority:1" json:"source_type"`
	SourceID   uuid.UUID `gorm:"type:uuid;not null;column:source_id;uniqueIndex:uq_catalog_relation,priority:2" json:"source_id"`
	TargetType string    `gorm:"not null;column:target_type;uniqueIndex:uq_catalog_relation,priority:3" json:"target_type"`
	TargetID   uuid.UUID `gorm:"type:uuid;not null;column:target_id;uniqueIndex:uq_catalog_relation,priority:4" json:"target_id"`

	RelationType  string `gorm:"not null;index;column:relation_type;uniqueIndex:uq_catalog_relation,priority:5" json:"relation_type"`
	RelationLevel int    `gorm:"default:1;column:relation_level" json:"relation_level"`
	Bidirectional bool   `gorm:"default:false;column:is_bidirectional" json:"is_bidirectional"`
	Description   string `gorm:"type:text;column:description" json:"description"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (CatalogRelation) TableName() string { return "catalog_relation" }

// Relation vocabulary.
const (
	RelationUpgrade      = "UPGRADE"
	RelationSimilar      = "SIMILAR"
	RelationCombination  = "COMBINATION"
	RelationPrerequisite = "PREREQUISITE"
	RelationAlternative  = "ALTERNATIVE"

	RelationSourceProject = "PROJECT"
	RelationSourceProduct = "PRODUCT"
)

func ValidRelationType(t string) bool {
	switch t {
	case RelationUpgrade, RelationSimilar, RelationCombination,
		RelationPrerequisite, RelationAlternative:
		return true
	}
	return false
}

func ValidRelationEndpointType(t string) bool {
	return t == RelationSourceProject || t == RelationSourceProduct
}
