// Package identity derives the stable cross-store identifiers and table
// names everything else keys off: tenant table suffixes, the per-tenant
// table set, graph vertex IDs and numeric vector point IDs. All derivations
// are deterministic so repeated synchronization of the same logical entity
// overwrites rather than duplicates.
package identity

import (
	"crypto/md5"
	"encoding/binary"
	"strings"

	"github.com/yungbote/revisit-backend/internal/domain"
)

// TenantSuffix normalizes a tenant code into the table-name suffix used by
// the per-tenant naming convention: lower-cased, separators collapsed to
// underscores. `BJ-HA-001` -> `bj_ha_001`. The resulting names are part of
// the external contract; reporting tooling addresses tables by them.
func TenantSuffix(tenantCode string) string {
	s := strings.ToLower(strings.TrimSpace(tenantCode))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, ".", "_")
	return s
}

// TenantTableSet maps entity kind to the concrete per-tenant table name.
// Computed once at provisioning time and threaded through every store call
// so no call site formats table names ad hoc.
type TenantTableSet struct {
	TenantCode string
	Suffix     string

	Customers          string
	ProjectBindings    string
	ProductBindings    string
	DoctorBindings     string
	ConsumptionRecords string
	BirthdayReminders  string
	ReminderHistory    string
	Personalities      string
	Nicknames          string
}

func NewTenantTableSet(tenantCode string) TenantTableSet {
	suffix := TenantSuffix(tenantCode)
	return TenantTableSet{
		TenantCode:         tenantCode,
		Suffix:             suffix,
		Customers:          "institution_customer_" + suffix,
		ProjectBindings:    "institution_project_" + suffix,
		ProductBindings:    "institution_product_" + suffix,
		DoctorBindings:     "institution_doctor_" + suffix,
		ConsumptionRecords: "consumption_record_" + suffix,
		BirthdayReminders:  "birthday_reminder_" + suffix,
		ReminderHistory:    "reminder_record_" + suffix,
		Personalities:      "customer_personality_" + suffix,
		Nicknames:          "customer_nickname_" + suffix,
	}
}

// All returns every table in the set, in creation order. The customer table
// comes first because the binding and transactional tables reference it.
func (t TenantTableSet) All() []string {
	return []string{
		t.Customers,
		t.ProjectBindings,
		t.ProductBindings,
		t.DoctorBindings,
		t.ConsumptionRecords,
		t.BirthdayReminders,
		t.ReminderHistory,
		t.Personalities,
		t.Nicknames,
	}
}

// PointID folds a primary-store identifier into the fixed-width numeric key
// space required by stores with integer point IDs: the first 16 hex digits
// of the md5 digest, read as a big-endian uint64. Existing vector points
// keyed under this scheme stay addressable across re-imports.
func PointID(primaryID string) uint64 {
	sum := md5.Sum([]byte(primaryID))
	return binary.BigEndian.Uint64(sum[:8])
}

var vertexPrefixes = map[domain.Kind]string{
	domain.KindInstitution: "inst_",
	domain.KindDoctor:      "doc_",
	domain.KindProject:     "proj_",
	domain.KindProduct:     "prod_",
	domain.KindCustomer:    "cust_",
	domain.KindConsumption: "order_",
}

// VertexID derives the graph-store vertex identifier for an entity from its
// natural key. Codes are stable across re-imports, so graph vertices are
// overwritten in place.
func VertexID(kind domain.Kind, code string) string {
	return vertexPrefixes[kind] + strings.TrimSpace(code)
}
