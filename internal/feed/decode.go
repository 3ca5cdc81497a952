package feed

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/yungbote/revisit-backend/internal/domain"
	"github.com/yungbote/revisit-backend/internal/pkg/syncerr"
)

// kindAliases maps feed file stems to entity kinds. Producers write both
// singular and plural forms, and the relation file historically shipped as
// medical_relations.json.
var kindAliases = map[string]domain.Kind{
	"institution":         domain.KindInstitution,
	"institutions":        domain.KindInstitution,
	"doctor":              domain.KindDoctor,
	"doctors":             domain.KindDoctor,
	"project":             domain.KindProject,
	"projects":            domain.KindProject,
	"product":             domain.KindProduct,
	"products":            domain.KindProduct,
	"relation":            domain.KindRelation,
	"relations":           domain.KindRelation,
	"medical_relations":   domain.KindRelation,
	"customer":            domain.KindCustomer,
	"customers":           domain.KindCustomer,
	"consumption":         domain.KindConsumption,
	"consumptions":        domain.KindConsumption,
	"consumption_records": domain.KindConsumption,
}

func kindForStem(stem string) (domain.Kind, bool) {
	k, ok := kindAliases[stem]
	return k, ok
}

// feedFile is the parsed shape of one feed file: the raw items plus the
// optional envelope-level tenant code. Two layouts are accepted: a bare JSON
// array of records, or an envelope object
// {"institution_code": ..., "data": [...]}. A single bare object is treated
// as a one-element array.
type feedFile struct {
	items      []json.RawMessage
	tenantCode string
}

func readFeedFile(path string) (feedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return feedFile{}, err
	}
	return parseFeedFile(data)
}

func parseFeedFile(data []byte) (feedFile, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err == nil {
		return feedFile{items: items}, nil
	}

	var envelope struct {
		InstitutionCode string            `json:"institution_code"`
		Data            []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return feedFile{}, fmt.Errorf("%w: not a JSON array or envelope object: %v", syncerr.ErrInvalidArgument, err)
	}
	if envelope.Data != nil {
		return feedFile{items: envelope.Data, tenantCode: envelope.InstitutionCode}, nil
	}

	// Single bare record.
	var one json.RawMessage
	if err := json.Unmarshal(data, &one); err != nil {
		return feedFile{}, err
	}
	return feedFile{items: []json.RawMessage{one}}, nil
}

// decodeItems turns raw feed items into typed records. Items that fail to
// decode are counted, not fatal: the rest of the file still imports.
func decodeItems(kind domain.Kind, items []json.RawMessage) (records []domain.Record, malformed int) {
	for _, raw := range items {
		rec := domain.NewRecord(kind)
		if rec == nil {
			malformed++
			continue
		}
		if err := json.Unmarshal(raw, rec); err != nil {
			malformed++
			continue
		}
		records = append(records, rec)
	}
	return records, malformed
}

// flattenUpdate folds the optional {"customer_code": ..., "updates": {...}}
// partial-update envelope into a flat record. Fields the producer left out
// of the update set stay zero-valued and the upsert merge rules decide what
// survives.
func flattenUpdate(raw json.RawMessage) json.RawMessage {
	var wrapper struct {
		Updates map[string]json.RawMessage `json:"updates"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil || wrapper.Updates == nil {
		return raw
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return raw
	}
	delete(top, "updates")
	for k, v := range wrapper.Updates {
		top[k] = v
	}
	out, err := json.Marshal(top)
	if err != nil {
		return raw
	}
	return out
}

// setTenant fills a missing tenant code on tenant-scoped records. Global
// catalog kinds carry no tenant and are left alone.
func setTenant(rec domain.Record, tenantCode string) {
	if tenantCode == "" {
		return
	}
	switch r := rec.(type) {
	case *domain.CustomerRecord:
		if r.InstitutionCode == "" {
			r.InstitutionCode = tenantCode
		}
	case *domain.ConsumptionRecordInput:
		if r.InstitutionCode == "" {
			r.InstitutionCode = tenantCode
		}
	}
}

// tenantFromCustomerCode recovers the tenant code embedded in a customer
// code: BJ-HA-001-C0001 -> BJ-HA-001.
func tenantFromCustomerCode(customerCode string) string {
	idx := strings.LastIndex(customerCode, "-C")
	if idx <= 0 {
		return ""
	}
	return customerCode[:idx]
}

// tenantFromOrderNumber recovers the tenant code embedded in an order
// number: BJ-HA-001-ORD-20260115-0001 -> BJ-HA-001.
func tenantFromOrderNumber(orderNumber string) string {
	idx := strings.Index(orderNumber, "-ORD")
	if idx <= 0 {
		return ""
	}
	return orderNumber[:idx]
}

// inferTenant fills tenant codes records could not carry explicitly, using
// the codes the producer already embeds in customer and order identifiers.
func inferTenant(rec domain.Record) {
	switch r := rec.(type) {
	case *domain.CustomerRecord:
		if r.InstitutionCode == "" {
			r.InstitutionCode = tenantFromCustomerCode(r.CustomerCode)
		}
	case *domain.ConsumptionRecordInput:
		if r.InstitutionCode == "" {
			r.InstitutionCode = tenantFromOrderNumber(r.OrderNumber)
		}
		if r.InstitutionCode == "" {
			r.InstitutionCode = tenantFromCustomerCode(r.CustomerCode)
		}
	}
}
