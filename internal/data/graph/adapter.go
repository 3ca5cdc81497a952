// Package graph mirrors entities and their relationships into Neo4j for
// traversal queries (referral chains, catalog relation walks). Derived data:
// rebuildable in full from the primary store.
package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/revisit-backend/internal/domain"
	"github.com/yungbote/revisit-backend/internal/identity"
	"github.com/yungbote/revisit-backend/internal/platform/logger"
	"github.com/yungbote/revisit-backend/internal/platform/neo4jdb"
)

const adapterName = "graph"

type Adapter struct {
	log    *logger.Logger
	client *neo4jdb.Client
}

func NewAdapter(log *logger.Logger, client *neo4jdb.Client) *Adapter {
	return &Adapter{
		log:    log.With("adapter", "GraphAdapter"),
		client: client,
	}
}

func (a *Adapter) Name() string { return adapterName }

// Apply MERGEs the entity's vertex keyed by its deterministic id, then any
// edges its record implies. MERGE makes re-sync overwrite in place.
func (a *Adapter) Apply(ctx context.Context, rec domain.Record, receipt domain.Receipt) error {
	switch r := rec.(type) {
	case *domain.InstitutionRecord:
		return a.applyInstitution(ctx, r, receipt)
	case *domain.DoctorRecord:
		return a.applyDoctor(ctx, r, receipt)
	case *domain.ProjectRecord:
		return a.applyProject(ctx, r, receipt)
	case *domain.ProductRecord:
		return a.applyProduct(ctx, r, receipt)
	case *domain.RelationRecord:
		return a.applyRelation(ctx, r)
	case *domain.CustomerRecord:
		return a.applyCustomer(ctx, r, receipt)
	case *domain.ConsumptionRecordInput:
		return a.applyConsumption(ctx, r, receipt)
	default:
		// Kinds with no graph shape are skipped, not failed.
		return nil
	}
}

// Remove detaches and deletes the entity's vertex. Dangling edges go with
// the vertex.
func (a *Adapter) Remove(ctx context.Context, rec domain.Record, receipt domain.Receipt) error {
	vertexID := identity.VertexID(rec.RecordKind(), rec.NaturalKey())
	return a.run(ctx, `
		MATCH (n {vertex_id: $vertex_id})
		DETACH DELETE n
	`, map[string]any{"vertex_id": vertexID})
}

func (a *Adapter) applyInstitution(ctx context.Context, r *domain.InstitutionRecord, receipt domain.Receipt) error {
	return a.run(ctx, `
		MERGE (i:Institution {vertex_id: $vertex_id})
		SET i.institution_id = $institution_id,
		    i.institution_code = $code,
		    i.name = $name,
		    i.alias = $alias,
		    i.type = $type,
		    i.status = $status
	`, map[string]any{
		"vertex_id":      identity.VertexID(domain.KindInstitution, r.InstitutionCode),
		"institution_id": receipt.PrimaryID.String(),
		"code":           r.InstitutionCode,
		"name":           r.Name,
		"alias":          r.Alias,
		"type":           r.Type,
		"status":         r.Status,
	})
}

func (a *Adapter) applyDoctor(ctx context.Context, r *domain.DoctorRecord, receipt domain.Receipt) error {
	err := a.run(ctx, `
		MERGE (d:Doctor {vertex_id: $vertex_id})
		SET d.doctor_id = $doctor_id,
		    d.doctor_code = $code,
		    d.name = $name,
		    d.gender = $gender,
		    d.title = $title,
		    d.specialty = $specialty,
		    d.introduction = $introduction
	`, map[string]any{
		"vertex_id":    identity.VertexID(domain.KindDoctor, r.DoctorCode),
		"doctor_id":    receipt.PrimaryID.String(),
		"code":         r.DoctorCode,
		"name":         r.Name,
		"gender":       r.Gender,
		"title":        r.Title,
		"specialty":    strings.Join(r.Specialty, ","),
		"introduction": r.Introduction,
	})
	if err != nil || r.InstitutionCode == "" {
		return err
	}
	return a.run(ctx, `
		MATCH (d:Doctor {vertex_id: $doctor_vid})
		MERGE (i:Institution {vertex_id: $inst_vid})
		MERGE (d)-[w:WORKS_AT]->(i)
		SET w.status = 'ACTIVE'
	`, map[string]any{
		"doctor_vid": identity.VertexID(domain.KindDoctor, r.DoctorCode),
		"inst_vid":   identity.VertexID(domain.KindInstitution, r.InstitutionCode),
	})
}

func (a *Adapter) applyProject(ctx context.Context, r *domain.ProjectRecord, receipt domain.Receipt) error {
	return a.run(ctx, `
		MERGE (p:Project {vertex_id: $vertex_id})
		SET p.project_id = $project_id,
		    p.project_code = $code,
		    p.name = $name,
		    p.category = $category,
		    p.body_part = $body_part,
		    p.risk_level = $risk_level
	`, map[string]any{
		"vertex_id":  identity.VertexID(domain.KindProject, r.ProjectCode),
		"project_id": receipt.PrimaryID.String(),
		"code":       r.ProjectCode,
		"name":       r.Name,
		"category":   r.Category,
		"body_part":  r.BodyPart,
		"risk_level": r.RiskLevel,
	})
}

func (a *Adapter) applyProduct(ctx context.Context, r *domain.ProductRecord, receipt domain.Receipt) error {
	return a.run(ctx, `
		MERGE (p:Product {vertex_id: $vertex_id})
		SET p.product_id = $product_id,
		    p.product_code = $code,
		    p.name = $name,
		    p.brand = $brand,
		    p.category = $category,
		    p.body_part = $body_part
	`, map[string]any{
		"vertex_id":  identity.VertexID(domain.KindProduct, r.ProductCode),
		"product_id": receipt.PrimaryID.String(),
		"code":       r.ProductCode,
		"name":       r.Name,
		"brand":      r.Brand,
		"category":   r.Category,
		"body_part":  r.BodyPart,
	})
}

// applyRelation writes the typed catalog edge between two existing catalog
// vertices. RELATES_TO carries the relation type as a property rather than
// a label so the uniqueness key stays (source, target, type).
func (a *Adapter) applyRelation(ctx context.Context, r *domain.RelationRecord) error {
	sourceKind := endpointKind(r.SourceType)
	targetKind := endpointKind(r.TargetType)
	err := a.run(ctx, `
		MERGE (s {vertex_id: $source_vid})
		MERGE (t {vertex_id: $target_vid})
		MERGE (s)-[rel:RELATES_TO {relation_type: $relation_type}]->(t)
		SET rel.relation_level = $level,
		    rel.is_bidirectional = $bidirectional,
		    rel.description = $description
	`, map[string]any{
		"source_vid":    identity.VertexID(sourceKind, r.SourceCode),
		"target_vid":    identity.VertexID(targetKind, r.TargetCode),
		"relation_type": r.RelationType,
		"level":         r.RelationLevel,
		"bidirectional": r.Bidirectional,
		"description":   r.Description,
	})
	return err
}

func (a *Adapter) applyCustomer(ctx context.Context, r *domain.CustomerRecord, receipt domain.Receipt) error {
	err := a.run(ctx, `
		MERGE (c:Customer {vertex_id: $vertex_id})
		SET c.institution_customer_id = $customer_id,
		    c.customer_code = $code,
		    c.name = $name,
		    c.phone = $phone,
		    c.gender = $gender,
		    c.birthday = $birthday,
		    c.institution_code = $institution_code
	`, map[string]any{
		"vertex_id":        identity.VertexID(domain.KindCustomer, r.CustomerCode),
		"customer_id":      receipt.PrimaryID.String(),
		"code":             r.CustomerCode,
		"name":             r.Person.Name,
		"phone":            r.Person.Phone,
		"gender":           r.Person.Gender,
		"birthday":         r.Person.Birthday,
		"institution_code": r.InstitutionCode,
	})
	if err != nil {
		return err
	}

	if err := a.run(ctx, `
		MATCH (c:Customer {vertex_id: $customer_vid})
		MERGE (i:Institution {vertex_id: $inst_vid})
		MERGE (c)-[b:BELONGS_TO]->(i)
		SET b.vip_level = $vip_level,
		    b.status = $status
	`, map[string]any{
		"customer_vid": identity.VertexID(domain.KindCustomer, r.CustomerCode),
		"inst_vid":     identity.VertexID(domain.KindInstitution, r.InstitutionCode),
		"vip_level":    r.VIPLevel,
		"status":       r.Status,
	}); err != nil {
		return err
	}

	// Referral edge: only when the referrer vertex already exists, since
	// the referrer may not have been imported yet.
	if r.ReferrerCode != "" {
		return a.run(ctx, `
			MATCH (c:Customer {vertex_id: $customer_vid})
			MATCH (ref:Customer {vertex_id: $referrer_vid})
			MERGE (ref)-[:REFERRED]->(c)
		`, map[string]any{
			"customer_vid": identity.VertexID(domain.KindCustomer, r.CustomerCode),
			"referrer_vid": identity.VertexID(domain.KindCustomer, r.ReferrerCode),
		})
	}
	return nil
}

func (a *Adapter) applyConsumption(ctx context.Context, r *domain.ConsumptionRecordInput, receipt domain.Receipt) error {
	err := a.run(ctx, `
		MERGE (o:Order {vertex_id: $vertex_id})
		SET o.consumption_id = $consumption_id,
		    o.order_number = $order_number,
		    o.order_date = $order_date,
		    o.order_type = $order_type,
		    o.actual_amount = $actual_amount,
		    o.is_refund = $is_refund
	`, map[string]any{
		"vertex_id":      identity.VertexID(domain.KindConsumption, r.OrderNumber),
		"consumption_id": receipt.PrimaryID.String(),
		"order_number":   r.OrderNumber,
		"order_date":     r.OrderDate,
		"order_type":     r.OrderType,
		"actual_amount":  r.ActualAmount,
		"is_refund":      r.IsRefund,
	})
	if err != nil {
		return err
	}

	if err := a.run(ctx, `
		MATCH (o:Order {vertex_id: $order_vid})
		MERGE (c:Customer {vertex_id: $customer_vid})
		MERGE (c)-[:PLACED]->(o)
	`, map[string]any{
		"order_vid":    identity.VertexID(domain.KindConsumption, r.OrderNumber),
		"customer_vid": identity.VertexID(domain.KindCustomer, r.CustomerCode),
	}); err != nil {
		return err
	}

	if r.ProjectCode != "" {
		return a.run(ctx, `
			MATCH (o:Order {vertex_id: $order_vid})
			MERGE (p:Project {vertex_id: $project_vid})
			MERGE (o)-[:FOR_ITEM]->(p)
		`, map[string]any{
			"order_vid":   identity.VertexID(domain.KindConsumption, r.OrderNumber),
			"project_vid": identity.VertexID(domain.KindProject, r.ProjectCode),
		})
	}
	return nil
}

// Count returns vertices for a kind, optionally restricted to one tenant
// for drift reconciliation.
func (a *Adapter) Count(ctx context.Context, kind domain.Kind, tenantCode string) (int64, error) {
	label, ok := kindLabels[kind]
	if !ok {
		return 0, fmt.Errorf("no graph label for kind %s", kind)
	}
	query := fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS c", label)
	params := map[string]any{}
	if tenantCode != "" && kind == domain.KindCustomer {
		query = "MATCH (n:Customer {institution_code: $code}) RETURN count(n) AS c"
		params["code"] = tenantCode
	}

	session := a.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: a.client.Database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return 0, err
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, err
	}
	c, _ := record.Get("c")
	n, ok := c.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected count type %T", c)
	}
	return n, nil
}

var kindLabels = map[domain.Kind]string{
	domain.KindInstitution: "Institution",
	domain.KindDoctor:      "Doctor",
	domain.KindProject:     "Project",
	domain.KindProduct:     "Product",
	domain.KindCustomer:    "Customer",
	domain.KindConsumption: "Order",
}

func endpointKind(endpointType string) domain.Kind {
	if endpointType == domain.RelationSourceProduct {
		return domain.KindProduct
	}
	return domain.KindProject
}

func (a *Adapter) run(ctx context.Context, query string, params map[string]any) error {
	session := a.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: a.client.Database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, query, params)
	})
	return err
}
