// Package vector mirrors customer profiles and catalog knowledge into Qdrant
// for semantic retrieval. Derived data: rebuildable in full from the primary
// store.
package vector

import (
	"context"
	"strings"

	"github.com/yungbote/revisit-backend/internal/domain"
	"github.com/yungbote/revisit-backend/internal/identity"
	"github.com/yungbote/revisit-backend/internal/platform/logger"
	"github.com/yungbote/revisit-backend/internal/platform/qdrant"
)

const adapterName = "vector"

const (
	CollectionCustomerProfiles = "customer_profiles"
	CollectionMedicalKnowledge = "medical_knowledge"
)

// Embedder turns the searchable text of an entity into a vector of the
// collection's dimensionality. The sync path does not call out to a model
// itself; callers inject whichever embedding backend they run.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// zeroEmbedder is the default when no embedding backend is configured: points
// carry their payload (including the raw text) with a zero vector, so the
// collection stays filterable and countable and can be re-embedded in place
// later.
type zeroEmbedder struct {
	dim int
}

func (z zeroEmbedder) Embed(context.Context, string) ([]float32, error) {
	return make([]float32, z.dim), nil
}

type Adapter struct {
	log      *logger.Logger
	client   *qdrant.Client
	embedder Embedder
}

type Option func(*Adapter)

// WithEmbedder replaces the zero-vector default with a real embedding backend.
func WithEmbedder(e Embedder) Option {
	return func(a *Adapter) { a.embedder = e }
}

func NewAdapter(log *logger.Logger, client *qdrant.Client, opts ...Option) *Adapter {
	a := &Adapter{
		log:      log.With("adapter", "VectorAdapter"),
		client:   client,
		embedder: zeroEmbedder{dim: client.Config().VectorDim},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Name() string { return adapterName }

// Apply upserts the entity's point keyed by its deterministic numeric id.
// Upsert overwrites in place, so re-sync converges.
func (a *Adapter) Apply(ctx context.Context, rec domain.Record, receipt domain.Receipt) error {
	switch r := rec.(type) {
	case *domain.ProjectRecord:
		text := joinText(r.Name, r.Category, r.BodyPart, r.Description, r.Indications)
		return a.upsert(ctx, CollectionMedicalKnowledge, receipt.PrimaryID.String(), text, map[string]any{
			"type":      "project",
			"id":        receipt.PrimaryID.String(),
			"code":      r.ProjectCode,
			"name":      r.Name,
			"category":  r.Category,
			"body_part": r.BodyPart,
			"text":      text,
		})
	case *domain.ProductRecord:
		text := joinText(r.Name, r.Brand, r.Category, r.Description, r.Indications)
		return a.upsert(ctx, CollectionMedicalKnowledge, receipt.PrimaryID.String(), text, map[string]any{
			"type":     "product",
			"id":       receipt.PrimaryID.String(),
			"code":     r.ProductCode,
			"name":     r.Name,
			"brand":    r.Brand,
			"category": r.Category,
			"text":     text,
		})
	case *domain.CustomerRecord:
		text := joinText(r.Person.Name, r.VIPLevel, r.Status)
		return a.upsert(ctx, CollectionCustomerProfiles, receipt.PrimaryID.String(), text, map[string]any{
			"type":             "customer",
			"id":               receipt.PrimaryID.String(),
			"code":             r.CustomerCode,
			"institution_code": r.InstitutionCode,
			"name":             r.Person.Name,
			"vip_level":        r.VIPLevel,
			"status":           r.Status,
			"text":             text,
		})
	default:
		// Kinds with no semantic-search shape are skipped, not failed.
		return nil
	}
}

// Remove deletes the entity's point. Kinds that Apply skips are skipped here
// too.
func (a *Adapter) Remove(ctx context.Context, rec domain.Record, receipt domain.Receipt) error {
	var collection string
	switch rec.RecordKind() {
	case domain.KindProject, domain.KindProduct:
		collection = CollectionMedicalKnowledge
	case domain.KindCustomer:
		collection = CollectionCustomerProfiles
	default:
		return nil
	}
	return a.client.DeletePoints(ctx, collection, []uint64{identity.PointID(receipt.PrimaryID.String())})
}

// Count reports point counts for drift reconciliation. Customers can be
// narrowed to one tenant through the institution_code payload field; catalog
// kinds share the knowledge collection, narrowed by type.
func (a *Adapter) Count(ctx context.Context, kind domain.Kind, tenantCode string) (int64, error) {
	switch kind {
	case domain.KindProject:
		return a.client.Count(ctx, CollectionMedicalKnowledge, map[string]any{"type": "project"})
	case domain.KindProduct:
		return a.client.Count(ctx, CollectionMedicalKnowledge, map[string]any{"type": "product"})
	case domain.KindCustomer:
		filter := map[string]any{"type": "customer"}
		if tenantCode != "" {
			filter["institution_code"] = tenantCode
		}
		return a.client.Count(ctx, CollectionCustomerProfiles, filter)
	default:
		return 0, nil
	}
}

// Orphans lists collections present on the server but absent from the
// configured layout.
func (a *Adapter) Orphans(ctx context.Context) ([]string, error) {
	existing, err := a.client.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	expected := make(map[string]struct{}, len(a.client.Config().Collections))
	for _, name := range a.client.Config().Collections {
		expected[name] = struct{}{}
	}
	var orphans []string
	for _, name := range existing {
		if _, ok := expected[name]; !ok {
			orphans = append(orphans, name)
		}
	}
	return orphans, nil
}

// Drop removes a collection wholesale, used for orphan cleanup.
func (a *Adapter) Drop(ctx context.Context, name string) error {
	return a.client.DropCollection(ctx, name)
}

func (a *Adapter) upsert(ctx context.Context, collection, primaryID, text string, payload map[string]any) error {
	vec, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return err
	}
	return a.client.UpsertPoints(ctx, collection, []qdrant.Point{{
		ID:      identity.PointID(primaryID),
		Vector:  vec,
		Payload: payload,
	}})
}

func joinText(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, " ")
}
