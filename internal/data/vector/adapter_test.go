package vector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/revisit-backend/internal/domain"
	"github.com/yungbote/revisit-backend/internal/identity"
	"github.com/yungbote/revisit-backend/internal/platform/logger"
	"github.com/yungbote/revisit-backend/internal/platform/qdrant"
)

const testVectorDim = 4

type recordedCall struct {
	Method string
	Path   string
	Body   []byte
}

// fakeQdrant serves just enough of the REST API for the adapter: readiness,
// collection listing, point upsert/delete/count.
type fakeQdrant struct {
	mu          sync.Mutex
	calls       []recordedCall
	collections []string
	count       int64
}

func (f *fakeQdrant) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.calls = append(f.calls, recordedCall{Method: r.Method, Path: r.URL.Path, Body: body})
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/readyz":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Path == "/collections":
			names := make([]map[string]string, 0, len(f.collections))
			for _, name := range f.collections {
				names = append(names, map[string]string{"name": name})
			}
			writeResult(w, map[string]any{"collections": names})
		case strings.HasSuffix(r.URL.Path, "/points/count"):
			writeResult(w, map[string]any{"count": f.count})
		default:
			writeResult(w, map[string]any{"operation_id": 1, "status": "completed"})
		}
	})
}

func writeResult(w http.ResponseWriter, result any) {
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok", "time": 0.001})
}

func (f *fakeQdrant) callsTo(pathSuffix string) []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedCall
	for _, c := range f.calls {
		if strings.HasSuffix(c.Path, pathSuffix) {
			out = append(out, c)
		}
	}
	return out
}

func newTestAdapter(t *testing.T, fake *fakeQdrant, opts ...Option) *Adapter {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	client, err := qdrant.NewClient(log, qdrant.Config{
		URL:         srv.URL,
		Collections: []string{CollectionCustomerProfiles, CollectionMedicalKnowledge},
		VectorDim:   testVectorDim,
	})
	if err != nil {
		t.Fatalf("qdrant client: %v", err)
	}
	return NewAdapter(log, client, opts...)
}

type upsertBody struct {
	Points []struct {
		ID      uint64         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	} `json:"points"`
}

func decodeUpsert(t *testing.T, call recordedCall) upsertBody {
	t.Helper()
	var body upsertBody
	if err := json.Unmarshal(call.Body, &body); err != nil {
		t.Fatalf("decode upsert body: %v", err)
	}
	return body
}

func TestApplyCustomerWritesProfilePoint(t *testing.T) {
	fake := &fakeQdrant{}
	adapter := newTestAdapter(t, fake)

	receipt := domain.Receipt{PrimaryID: uuid.New()}
	rec := &domain.CustomerRecord{
		InstitutionCode: "BJ001",
		CustomerCode:    "C0001",
		Person:          domain.PersonRecord{Name: "Zhang Wei", Phone: "13900000001"},
		VIPLevel:        "GOLD",
		Status:          "ACTIVE",
	}
	if err := adapter.Apply(context.Background(), rec, receipt); err != nil {
		t.Fatalf("apply customer: %v", err)
	}

	calls := fake.callsTo("/collections/" + CollectionCustomerProfiles + "/points")
	if len(calls) != 1 {
		t.Fatalf("expected 1 profile upsert, got %d", len(calls))
	}
	body := decodeUpsert(t, calls[0])
	if len(body.Points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(body.Points))
	}
	point := body.Points[0]
	if want := identity.PointID(receipt.PrimaryID.String()); point.ID != want {
		t.Fatalf("point id = %d, want deterministic %d", point.ID, want)
	}
	if len(point.Vector) != testVectorDim {
		t.Fatalf("vector dim = %d, want %d", len(point.Vector), testVectorDim)
	}
	if got := point.Payload["institution_code"]; got != "BJ001" {
		t.Fatalf("institution_code payload = %v", got)
	}
	if got := point.Payload["type"]; got != "customer" {
		t.Fatalf("type payload = %v", got)
	}
	if _, ok := point.Payload["phone"]; ok {
		t.Fatal("phone must not be written to the vector payload")
	}
}

func TestApplyReusesPointIDAcrossResync(t *testing.T) {
	fake := &fakeQdrant{}
	adapter := newTestAdapter(t, fake)

	receipt := domain.Receipt{PrimaryID: uuid.New()}
	rec := &domain.ProjectRecord{ProjectCode: "PROJ001", Name: "Laser Resurfacing", Category: "Skin"}
	for i := 0; i < 2; i++ {
		if err := adapter.Apply(context.Background(), rec, receipt); err != nil {
			t.Fatalf("apply round %d: %v", i, err)
		}
	}

	calls := fake.callsTo("/collections/" + CollectionMedicalKnowledge + "/points")
	if len(calls) != 2 {
		t.Fatalf("expected 2 upserts, got %d", len(calls))
	}
	first := decodeUpsert(t, calls[0]).Points[0].ID
	second := decodeUpsert(t, calls[1]).Points[0].ID
	if first != second {
		t.Fatalf("resync produced a new point id: %d then %d", first, second)
	}
}

func TestApplyProjectAndProductShareKnowledgeCollection(t *testing.T) {
	fake := &fakeQdrant{}
	adapter := newTestAdapter(t, fake)

	if err := adapter.Apply(context.Background(), &domain.ProjectRecord{ProjectCode: "PROJ001", Name: "Laser"}, domain.Receipt{PrimaryID: uuid.New()}); err != nil {
		t.Fatalf("apply project: %v", err)
	}
	if err := adapter.Apply(context.Background(), &domain.ProductRecord{ProductCode: "PROD001", Name: "Serum", Brand: "Acme"}, domain.Receipt{PrimaryID: uuid.New()}); err != nil {
		t.Fatalf("apply product: %v", err)
	}

	calls := fake.callsTo("/collections/" + CollectionMedicalKnowledge + "/points")
	if len(calls) != 2 {
		t.Fatalf("expected 2 knowledge upserts, got %d", len(calls))
	}
	if got := decodeUpsert(t, calls[0]).Points[0].Payload["type"]; got != "project" {
		t.Fatalf("first payload type = %v", got)
	}
	if got := decodeUpsert(t, calls[1]).Points[0].Payload["type"]; got != "product" {
		t.Fatalf("second payload type = %v", got)
	}
}

func TestApplySkipsKindsWithoutVectorShape(t *testing.T) {
	fake := &fakeQdrant{}
	adapter := newTestAdapter(t, fake)

	records := []domain.Record{
		&domain.InstitutionRecord{InstitutionCode: "BJ001", Name: "Clinic"},
		&domain.DoctorRecord{DoctorCode: "DOC001", Name: "Dr. Li"},
		&domain.ConsumptionRecordInput{OrderNumber: "ORD001", InstitutionCode: "BJ001"},
	}
	for _, rec := range records {
		if err := adapter.Apply(context.Background(), rec, domain.Receipt{PrimaryID: uuid.New()}); err != nil {
			t.Fatalf("apply %s: %v", rec.RecordKind(), err)
		}
	}
	if calls := fake.callsTo("/points"); len(calls) != 0 {
		t.Fatalf("expected no point writes, got %d", len(calls))
	}
}

func TestRemoveDeletesDeterministicPoint(t *testing.T) {
	fake := &fakeQdrant{}
	adapter := newTestAdapter(t, fake)

	receipt := domain.Receipt{PrimaryID: uuid.New()}
	rec := &domain.CustomerRecord{InstitutionCode: "BJ001", CustomerCode: "C0001"}
	if err := adapter.Remove(context.Background(), rec, receipt); err != nil {
		t.Fatalf("remove: %v", err)
	}

	calls := fake.callsTo("/collections/" + CollectionCustomerProfiles + "/points/delete")
	if len(calls) != 1 {
		t.Fatalf("expected 1 delete call, got %d", len(calls))
	}
	var body struct {
		Points []uint64 `json:"points"`
	}
	if err := json.Unmarshal(calls[0].Body, &body); err != nil {
		t.Fatalf("decode delete body: %v", err)
	}
	if want := identity.PointID(receipt.PrimaryID.String()); len(body.Points) != 1 || body.Points[0] != want {
		t.Fatalf("delete ids = %v, want [%d]", body.Points, want)
	}
}

func TestRemoveSkipsKindsWithoutVectorShape(t *testing.T) {
	fake := &fakeQdrant{}
	adapter := newTestAdapter(t, fake)

	rec := &domain.InstitutionRecord{InstitutionCode: "BJ001"}
	if err := adapter.Remove(context.Background(), rec, domain.Receipt{PrimaryID: uuid.New()}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if calls := fake.callsTo("/points/delete"); len(calls) != 0 {
		t.Fatalf("expected no delete calls, got %d", len(calls))
	}
}

func TestCountScopesCustomersByTenant(t *testing.T) {
	fake := &fakeQdrant{count: 42}
	adapter := newTestAdapter(t, fake)

	n, err := adapter.Count(context.Background(), domain.KindCustomer, "BJ001")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 42 {
		t.Fatalf("count = %d, want 42", n)
	}

	calls := fake.callsTo("/collections/" + CollectionCustomerProfiles + "/points/count")
	if len(calls) != 1 {
		t.Fatalf("expected 1 count call, got %d", len(calls))
	}
	var body struct {
		Exact  bool `json:"exact"`
		Filter struct {
			Must []struct {
				Key   string `json:"key"`
				Match struct {
					Value any `json:"value"`
				} `json:"match"`
			} `json:"must"`
		} `json:"filter"`
	}
	if err := json.Unmarshal(calls[0].Body, &body); err != nil {
		t.Fatalf("decode count body: %v", err)
	}
	if !body.Exact {
		t.Fatal("count must request exact totals")
	}
	conditions := make(map[string]any, len(body.Filter.Must))
	for _, cond := range body.Filter.Must {
		conditions[cond.Key] = cond.Match.Value
	}
	if conditions["type"] != "customer" || conditions["institution_code"] != "BJ001" {
		t.Fatalf("count filter = %v", conditions)
	}
}

func TestCountUnmodeledKindIsZero(t *testing.T) {
	fake := &fakeQdrant{count: 99}
	adapter := newTestAdapter(t, fake)

	n, err := adapter.Count(context.Background(), domain.KindConsumption, "BJ001")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("count = %d, want 0 for unmodeled kind", n)
	}
	if calls := fake.callsTo("/points/count"); len(calls) != 0 {
		t.Fatalf("expected no count calls, got %d", len(calls))
	}
}

func TestOrphanCollections(t *testing.T) {
	fake := &fakeQdrant{collections: []string{
		CollectionCustomerProfiles,
		CollectionMedicalKnowledge,
		"stale_experiment",
	}}
	adapter := newTestAdapter(t, fake)

	orphans, err := adapter.Orphans(context.Background())
	if err != nil {
		t.Fatalf("orphan collections: %v", err)
	}
	if len(orphans) != 1 || orphans[0] != "stale_experiment" {
		t.Fatalf("orphans = %v, want [stale_experiment]", orphans)
	}
}

type staticEmbedder struct {
	vec []float32
}

func (s staticEmbedder) Embed(context.Context, string) ([]float32, error) {
	return s.vec, nil
}

func TestWithEmbedderReplacesZeroVectors(t *testing.T) {
	fake := &fakeQdrant{}
	adapter := newTestAdapter(t, fake, WithEmbedder(staticEmbedder{vec: []float32{0.1, 0.2, 0.3, 0.4}}))

	if err := adapter.Apply(context.Background(), &domain.ProjectRecord{ProjectCode: "PROJ001", Name: "Laser"}, domain.Receipt{PrimaryID: uuid.New()}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	calls := fake.callsTo("/collections/" + CollectionMedicalKnowledge + "/points")
	if len(calls) != 1 {
		t.Fatalf("expected 1 upsert, got %d", len(calls))
	}
	vec := decodeUpsert(t, calls[0]).Points[0].Vector
	if len(vec) != testVectorDim || vec[0] != 0.1 {
		t.Fatalf("vector = %v, want embedder output", vec)
	}
}
