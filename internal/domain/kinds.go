package domain

// Kind identifies an entity kind flowing through the synchronization engine.
type Kind string

const (
	KindInstitution Kind = "institution"
	KindDoctor      Kind = "doctor"
	KindProject     Kind = "project"
	KindProduct     Kind = "product"
	KindRelation    Kind = "relation"
	KindCustomer    Kind = "customer"
	KindConsumption Kind = "consumption"
)

// Kinds lists every syncable kind in feed dependency order: the shared
// catalog before tenant bindings before transactional data.
var Kinds = []Kind{
	KindInstitution,
	KindDoctor,
	KindProject,
	KindProduct,
	KindRelation,
	KindCustomer,
	KindConsumption,
}

// NewRecord returns an empty record of the given kind, ready to be decoded
// into, or nil for an unknown kind.
func NewRecord(k Kind) Record {
	switch k {
	case KindInstitution:
		return &InstitutionRecord{}
	case KindDoctor:
		return &DoctorRecord{}
	case KindProject:
		return &ProjectRecord{}
	case KindProduct:
		return &ProductRecord{}
	case KindRelation:
		return &RelationRecord{}
	case KindCustomer:
		return &CustomerRecord{}
	case KindConsumption:
		return &ConsumptionRecordInput{}
	}
	return nil
}

func (k Kind) Valid() bool {
	switch k {
	case KindInstitution, KindDoctor, KindProject, KindProduct,
		KindRelation, KindCustomer, KindConsumption:
		return true
	}
	return false
}
