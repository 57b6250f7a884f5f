package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	domaindispatch "stockdispatch/internal/domain/dispatch"
	"stockdispatch/internal/errs"
	"stockdispatch/internal/infrastructure/allocator"
	"stockdispatch/internal/infrastructure/cache"
	"stockdispatch/internal/infrastructure/persistence/schema"
	sqliterepo "stockdispatch/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "stockdispatch/internal/infrastructure/persistence/sqlite/uow"
	"stockdispatch/internal/ports"
)

const (
	testProductsCSV = "Référence;Désignation\nR1;Robe lin\nR2;Pull laine\n"
	testStoresCSV   = "Code Entité;Enseigne;Poids repartition (PVP Base article);Actif\nS1;Paris;3;Oui\nS2;Lyon;1;Oui\nS3;Lille;5;Non\n"
	testManifest    = "Référence du modèle;Code EAN;Taille;Quantités BL;Date Expe\n" +
		"R1;111 000;M;12;01/02/2025\n" +
		"R1;112000;L;4;01/02/2025\n" +
		"RX;999000;S;3;\n" +
		"R2;221000;M;1;15/03/2025\n"
)

type testPublisher struct {
	mu     sync.Mutex
	events []ports.RunEvent
	err    error
}

func (p *testPublisher) PublishRunEvent(_ context.Context, event ports.RunEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *testPublisher) statuses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.ToStatus)
	}
	return out
}

type testResolver struct {
	allocator ports.Allocator
}

func (r testResolver) Resolve(ports.AllocationProcedureRef) (ports.Allocator, error) {
	return r.allocator, nil
}

type allocatorFunc func(ctx context.Context, req ports.AllocationRequest) (ports.AllocationResult, error)

func (f allocatorFunc) Allocate(ctx context.Context, req ports.AllocationRequest) (ports.AllocationResult, error) {
	return f(ctx, req)
}

type testEnv struct {
	svc       *Service
	db        *gorm.DB
	runs      *sqliterepo.DispatchRepository
	publisher *testPublisher
}

// flakyRuns fails the Nth InsertLineItems or UpdateLineItemBounds call. Zero never fails.
type flakyRuns struct {
	*sqliterepo.DispatchRepository
	failInsertAt int
	failBoundsAt int
	inserts      int
	boundUpdates int
}

var errDiskFull = errors.New("database or disk is full")

func (r *flakyRuns) InsertLineItems(ctx context.Context, items []ports.LineItemCreate) error {
	r.inserts++
	if r.inserts == r.failInsertAt {
		return errDiskFull
	}
	return r.DispatchRepository.InsertLineItems(ctx, items)
}

func (r *flakyRuns) UpdateLineItemBounds(ctx context.Context, bounds ports.LineItemBounds) error {
	r.boundUpdates++
	if r.boundUpdates == r.failBoundsAt {
		return errDiskFull
	}
	return r.DispatchRepository.UpdateLineItemBounds(ctx, bounds)
}

func setupEnv(t *testing.T, resolver ports.AllocatorResolver, opts Options) testEnv {
	t.Helper()
	return setupEnvWithRuns(t, resolver, opts, nil)
}

// setupEnvWithRuns lets wrap replace the run repository the service sees. testEnv.runs stays unwrapped.
func setupEnvWithRuns(t *testing.T, resolver ports.AllocatorResolver, opts Options, wrap func(*sqliterepo.DispatchRepository) ports.DispatchRepository) testEnv {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "dispatch.sqlite")
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := schema.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	runs := sqliterepo.NewDispatchRepository(db)
	catalog := sqliterepo.NewCatalogRepository(db)
	uow := sqliteuow.NewUnitOfWork(db)
	if resolver == nil {
		resolver = allocator.NewRegistry(allocator.NewWeighted(runs, catalog, uow), dsn, nil)
	}

	var serviceRuns ports.DispatchRepository = runs
	if wrap != nil {
		serviceRuns = wrap(runs)
	}

	publisher := &testPublisher{}
	svc := NewService(Dependencies{
		Runs:            serviceRuns,
		Settings:        sqliterepo.NewSettingsRepository(db),
		Catalog:         catalog,
		UnitOfWork:      uow,
		Progress:        cache.NewProgressStore(db),
		Allocators:      resolver,
		Events:          publisher,
		ValidatePayload: allocator.ValidatePayload,
	}, opts)
	return testEnv{svc: svc, db: db, runs: runs, publisher: publisher}
}

// seed installs catalog, active parameters (6, 2) and an active builtin procedure.
func (e testEnv) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	if _, err := e.svc.ImportProducts(ctx, strings.NewReader(testProductsCSV)); err != nil {
		t.Fatalf("ImportProducts() error = %v", err)
	}
	if _, err := e.svc.ImportStores(ctx, strings.NewReader(testStoresCSV)); err != nil {
		t.Fatalf("ImportStores() error = %v", err)
	}
	if _, err := e.svc.CreateParameters(ctx, CreateParametersInput{MinReferenceQuantity: 6, MinEanQuantity: 2, Activate: true}); err != nil {
		t.Fatalf("CreateParameters() error = %v", err)
	}
	if _, err := e.svc.SyncProcedures(ctx, SyncProceduresInput{
		Procedures: []domaindispatch.Procedure{{
			Name:    "weighted",
			Kind:    domaindispatch.ProcedureBuiltin,
			Payload: json.RawMessage(`{"algorithm":"weighted"}`),
		}},
		Active: "weighted",
	}); err != nil {
		t.Fatalf("SyncProcedures() error = %v", err)
	}
}

func (e testEnv) calculatedRun(t *testing.T) Run {
	t.Helper()
	ctx := context.Background()

	run, err := e.svc.CreateRun(ctx, CreateRunInput{Name: "printemps", Actor: "alice"})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if _, err := e.svc.IngestManifest(ctx, IngestManifestInput{RunID: run.RunID, Reader: strings.NewReader(testManifest)}); err != nil {
		t.Fatalf("IngestManifest() error = %v", err)
	}
	if _, err := e.svc.CalculateStoreCounts(ctx, CalculateInput{RunID: run.RunID}); err != nil {
		t.Fatalf("CalculateStoreCounts() error = %v", err)
	}
	return run
}

func mustStatus(t *testing.T, svc *Service, runID string, want domaindispatch.Status) {
	t.Helper()
	detail, err := svc.GetRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if detail.Status != want {
		t.Fatalf("status = %q, want %q", detail.Status, want)
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	env := setupEnv(t, nil, Options{BatchSize: 2})
	env.seed(t)
	ctx := context.Background()

	run, err := env.svc.CreateRun(ctx, CreateRunInput{Name: "printemps", Actor: "alice"})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if run.Status != domaindispatch.StatusDraft {
		t.Fatalf("new run status = %q, want draft", run.Status)
	}
	if run.Parameters.MinReferenceQuantity != 6 || run.Parameters.MinEanQuantity != 2 {
		t.Fatalf("snapshot parameters = %+v, want 6/2", run.Parameters)
	}
	if run.Procedure.Name != "weighted" || run.Procedure.Kind != "builtin" {
		t.Fatalf("snapshot procedure = %+v", run.Procedure)
	}

	var checkpoints []Progress
	ingested, err := env.svc.IngestManifest(ctx, IngestManifestInput{
		RunID:    run.RunID,
		Reader:   strings.NewReader(testManifest),
		Progress: func(p Progress) { checkpoints = append(checkpoints, p) },
	})
	if err != nil {
		t.Fatalf("IngestManifest() error = %v", err)
	}
	if ingested.Rows != 4 || ingested.Inserted != 4 || ingested.NotFound != 1 {
		t.Fatalf("ingest result = %+v", ingested)
	}
	if len(ingested.NotFoundReferences) != 1 || ingested.NotFoundReferences[0] != "RX" {
		t.Fatalf("not found references = %v, want [RX]", ingested.NotFoundReferences)
	}
	if len(checkpoints) != 3 {
		t.Fatalf("ingest checkpoints = %d, want 2 batches plus done", len(checkpoints))
	}
	if checkpoints[0].Percent != 50 || !checkpoints[2].Done || checkpoints[2].Percent != 100 {
		t.Fatalf("unexpected checkpoints: %+v", checkpoints)
	}
	mustStatus(t, env.svc, run.RunID, domaindispatch.StatusManifestLoaded)

	calculated, err := env.svc.CalculateStoreCounts(ctx, CalculateInput{RunID: run.RunID})
	if err != nil {
		t.Fatalf("CalculateStoreCounts() error = %v", err)
	}
	if calculated.Processed != 4 {
		t.Fatalf("calculated = %d, want 4", calculated.Processed)
	}
	items, err := env.runs.ListLineItems(ctx, run.RunID)
	if err != nil {
		t.Fatalf("ListLineItems() error = %v", err)
	}
	wantFinal := []int{2, 2, 0, 0}
	for i, item := range items {
		if item.MaxStoresFinal == nil || *item.MaxStoresFinal != wantFinal[i] {
			t.Fatalf("item %d final = %v, want %d", i, item.MaxStoresFinal, wantFinal[i])
		}
	}
	if *items[0].MaxStoresByEan != 6 || *items[0].MaxStoresByReference != 2 {
		t.Fatalf("item 0 bounds = ref %d ean %d", *items[0].MaxStoresByReference, *items[0].MaxStoresByEan)
	}

	// Re-running keeps the status and the bounds.
	if _, err := env.svc.CalculateStoreCounts(ctx, CalculateInput{RunID: run.RunID}); err != nil {
		t.Fatalf("second CalculateStoreCounts() error = %v", err)
	}
	mustStatus(t, env.svc, run.RunID, domaindispatch.StatusStoreCountsCalculated)

	allocated, err := env.svc.Allocate(ctx, AllocateInput{RunID: run.RunID, Actor: "bob"})
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if allocated.DistributionID == "" || allocated.Records != 4 {
		t.Fatalf("allocate result = %+v, want 4 records", allocated)
	}

	detail, err := env.svc.GetRun(ctx, run.RunID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if detail.Status != domaindispatch.StatusDistributed || detail.DistributionID != allocated.DistributionID {
		t.Fatalf("run detail = %+v", detail.Run)
	}
	if detail.LineItems != 4 || detail.AllocationRecords != 4 {
		t.Fatalf("detail counts = %d/%d", detail.LineItems, detail.AllocationRecords)
	}
	if len(detail.Progress) != 3 {
		t.Fatalf("progress stages = %d, want 3", len(detail.Progress))
	}
	for _, p := range detail.Progress {
		if !p.Done {
			t.Fatalf("stage %s not done: %+v", p.Stage, p)
		}
	}

	records, err := env.runs.ListAllocationRecords(ctx, allocated.DistributionID)
	if err != nil {
		t.Fatalf("ListAllocationRecords() error = %v", err)
	}
	total := 0
	for _, record := range records {
		total += record.Quantity
	}
	if total != 16 {
		t.Fatalf("allocated quantity = %d, want 16", total)
	}

	got := env.publisher.statuses()
	want := []string{"manifest-loaded", "store-counts-calculated", "distributed"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", got, want)
	}

	var lines bytes.Buffer
	if n, err := env.svc.ExportLineItems(ctx, run.RunID, &lines); err != nil || n != 4 {
		t.Fatalf("ExportLineItems() = %d, %v", n, err)
	}
	exported := strings.Split(strings.TrimSpace(lines.String()), "\n")
	if exported[0] != strings.Join(lineItemsExportHeader, ";") {
		t.Fatalf("line header = %q", exported[0])
	}
	if exported[1] != "R1;Robe lin;111000;M;12;2025-02-01;2;6;2;Non" {
		t.Fatalf("first line = %q", exported[1])
	}
	if exported[3] != "RX;N/A;999000;S;3;;0;1;0;Oui" {
		t.Fatalf("unresolved line = %q", exported[3])
	}

	var dist bytes.Buffer
	if n, err := env.svc.ExportDistribution(ctx, run.RunID, &dist); err != nil || n != 4 {
		t.Fatalf("ExportDistribution() = %d, %v", n, err)
	}
	if !strings.Contains(dist.String(), ";9;") || !strings.Contains(dist.String(), ";S1\n") {
		t.Fatalf("distribution export missing S1 share of 9:\n%s", dist.String())
	}
}

func TestCreateRunRequiresActiveSettings(t *testing.T) {
	env := setupEnv(t, nil, Options{})
	ctx := context.Background()

	if _, err := env.svc.CreateRun(ctx, CreateRunInput{Name: "x"}); !errors.Is(err, domaindispatch.ErrNoActiveParameters) {
		t.Fatalf("CreateRun() error = %v, want ErrNoActiveParameters", err)
	}
	if _, err := env.svc.CreateParameters(ctx, CreateParametersInput{MinReferenceQuantity: 1, MinEanQuantity: 1, Activate: true}); err != nil {
		t.Fatalf("CreateParameters() error = %v", err)
	}
	if _, err := env.svc.CreateRun(ctx, CreateRunInput{Name: "x"}); !errors.Is(err, domaindispatch.ErrNoActiveProcedure) {
		t.Fatalf("CreateRun() error = %v, want ErrNoActiveProcedure", err)
	}
	if _, err := env.svc.CreateRun(ctx, CreateRunInput{Name: "  "}); !errors.Is(err, domaindispatch.ErrRunNameRequired) {
		t.Fatalf("CreateRun() error = %v, want ErrRunNameRequired", err)
	}
}

func TestCreateParametersRejectsNonPositive(t *testing.T) {
	env := setupEnv(t, nil, Options{})

	_, err := env.svc.CreateParameters(context.Background(), CreateParametersInput{MinReferenceQuantity: 0, MinEanQuantity: 2})
	if !errors.Is(err, domaindispatch.ErrInvalidParameters) {
		t.Fatalf("CreateParameters() error = %v, want ErrInvalidParameters", err)
	}
	if errs.KindOf(err) != errs.KindInput {
		t.Fatalf("kind = %q, want input", errs.KindOf(err))
	}
}

func TestRunKeepsParameterSnapshot(t *testing.T) {
	env := setupEnv(t, nil, Options{})
	env.seed(t)
	ctx := context.Background()

	run, err := env.svc.CreateRun(ctx, CreateRunInput{Name: "snapshot"})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if run.CreatedBy != "system" {
		t.Fatalf("created by = %q, want system", run.CreatedBy)
	}
	if _, err := env.svc.CreateParameters(ctx, CreateParametersInput{MinReferenceQuantity: 10, MinEanQuantity: 5, Activate: true}); err != nil {
		t.Fatalf("CreateParameters() error = %v", err)
	}

	detail, err := env.svc.GetRun(ctx, run.RunID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if detail.Parameters.MinReferenceQuantity != 6 {
		t.Fatalf("snapshot changed to %+v", detail.Parameters)
	}

	refreshed, err := env.svc.RefreshParameters(ctx, run.RunID)
	if err != nil {
		t.Fatalf("RefreshParameters() error = %v", err)
	}
	if refreshed.Run.Parameters.MinReferenceQuantity != 10 || refreshed.Recalculate {
		t.Fatalf("refresh result = %+v", refreshed)
	}
}

func TestIngestRejectsNonDraftAndExistingItems(t *testing.T) {
	env := setupEnv(t, nil, Options{})
	env.seed(t)
	ctx := context.Background()

	run, err := env.svc.CreateRun(ctx, CreateRunInput{Name: "twice"})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if _, err := env.svc.IngestManifest(ctx, IngestManifestInput{RunID: run.RunID, Reader: strings.NewReader(testManifest)}); err != nil {
		t.Fatalf("IngestManifest() error = %v", err)
	}
	_, err = env.svc.IngestManifest(ctx, IngestManifestInput{RunID: run.RunID, Reader: strings.NewReader(testManifest)})
	if !errors.Is(err, domaindispatch.ErrInvalidTransition) {
		t.Fatalf("second IngestManifest() error = %v, want ErrInvalidTransition", err)
	}
	if errs.KindOf(err) != errs.KindState {
		t.Fatalf("kind = %q, want state", errs.KindOf(err))
	}

	if _, err := env.svc.CalculateStoreCounts(ctx, CalculateInput{RunID: "missing"}); errs.KindOf(err) != errs.KindInput {
		t.Fatalf("CalculateStoreCounts(missing) kind = %q, want input", errs.KindOf(err))
	}
}

func TestIngestRejectsBadManifestWithoutWrites(t *testing.T) {
	env := setupEnv(t, nil, Options{})
	env.seed(t)
	ctx := context.Background()

	run, err := env.svc.CreateRun(ctx, CreateRunInput{Name: "bad"})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	_, err = env.svc.IngestManifest(ctx, IngestManifestInput{
		RunID:  run.RunID,
		Reader: strings.NewReader("Référence du modèle;Taille\nR1;M\n"),
	})
	if !errors.Is(err, domaindispatch.ErrManifestHeader) {
		t.Fatalf("IngestManifest() error = %v, want ErrManifestHeader", err)
	}
	count, err := env.runs.CountLineItems(ctx, run.RunID)
	if err != nil || count != 0 {
		t.Fatalf("line items = %d, %v; want 0", count, err)
	}
	mustStatus(t, env.svc, run.RunID, domaindispatch.StatusDraft)
}

func TestIngestCancelledKeepsCommittedBatches(t *testing.T) {
	env := setupEnv(t, nil, Options{BatchSize: 2})
	env.seed(t)

	run, err := env.svc.CreateRun(context.Background(), CreateRunInput{Name: "partial"})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err = env.svc.IngestManifest(ctx, IngestManifestInput{
		RunID:    run.RunID,
		Reader:   strings.NewReader(testManifest),
		Progress: func(Progress) { cancel() },
	})
	var partial *domaindispatch.PartialError
	if !errors.As(err, &partial) {
		t.Fatalf("IngestManifest() error = %v, want *PartialError", err)
	}
	if partial.Processed != 2 || partial.Total != 4 || !errors.Is(err, context.Canceled) {
		t.Fatalf("partial = %+v", partial)
	}

	bg := context.Background()
	count, err := env.runs.CountLineItems(bg, run.RunID)
	if err != nil || count != 2 {
		t.Fatalf("line items = %d, %v; want 2", count, err)
	}
	mustStatus(t, env.svc, run.RunID, domaindispatch.StatusDraft)

	_, err = env.svc.IngestManifest(bg, IngestManifestInput{RunID: run.RunID, Reader: strings.NewReader(testManifest)})
	if !errors.Is(err, domaindispatch.ErrRunHasLineItems) {
		t.Fatalf("resumed IngestManifest() error = %v, want ErrRunHasLineItems", err)
	}
	removed, err := env.svc.DiscardLineItems(bg, run.RunID)
	if err != nil || removed != 2 {
		t.Fatalf("DiscardLineItems() = %d, %v", removed, err)
	}
	if _, err := env.svc.IngestManifest(bg, IngestManifestInput{RunID: run.RunID, Reader: strings.NewReader(testManifest)}); err != nil {
		t.Fatalf("IngestManifest() after discard error = %v", err)
	}
	mustStatus(t, env.svc, run.RunID, domaindispatch.StatusManifestLoaded)
}

func TestIngestInsertFailureKeepsCommittedBatches(t *testing.T) {
	flaky := &flakyRuns{failInsertAt: 2}
	env := setupEnvWithRuns(t, nil, Options{BatchSize: 2}, func(repo *sqliterepo.DispatchRepository) ports.DispatchRepository {
		flaky.DispatchRepository = repo
		return flaky
	})
	env.seed(t)
	ctx := context.Background()

	run, err := env.svc.CreateRun(ctx, CreateRunInput{Name: "disk full"})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	_, err = env.svc.IngestManifest(ctx, IngestManifestInput{RunID: run.RunID, Reader: strings.NewReader(testManifest)})
	var partial *domaindispatch.PartialError
	if !errors.As(err, &partial) {
		t.Fatalf("IngestManifest() error = %v, want *PartialError", err)
	}
	if partial.Stage != StageIngest || partial.Processed != 2 || partial.Total != 4 {
		t.Fatalf("partial = %+v", partial)
	}
	if !errors.Is(err, errDiskFull) || errs.KindOf(err) != errs.KindPersistence {
		t.Fatalf("error = %v (kind %s), want persistence wrapping the insert failure", err, errs.KindOf(err))
	}

	count, err := env.runs.CountLineItems(ctx, run.RunID)
	if err != nil || count != 2 {
		t.Fatalf("line items = %d, %v; want the first batch kept", count, err)
	}
	mustStatus(t, env.svc, run.RunID, domaindispatch.StatusDraft)

	progress, err := env.svc.GetProgress(ctx, run.RunID)
	if err != nil || len(progress) != 1 {
		t.Fatalf("progress = %+v, %v", progress, err)
	}
	if progress[0].Processed != 2 || progress[0].Done || progress[0].Error == "" {
		t.Fatalf("ingest checkpoint = %+v", progress[0])
	}
}

func TestCalculateUpdateFailureReportsProcessed(t *testing.T) {
	flaky := &flakyRuns{failBoundsAt: 3}
	env := setupEnvWithRuns(t, nil, Options{BatchSize: 2}, func(repo *sqliterepo.DispatchRepository) ports.DispatchRepository {
		flaky.DispatchRepository = repo
		return flaky
	})
	env.seed(t)
	ctx := context.Background()

	run, err := env.svc.CreateRun(ctx, CreateRunInput{Name: "disk full"})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if _, err := env.svc.IngestManifest(ctx, IngestManifestInput{RunID: run.RunID, Reader: strings.NewReader(testManifest)}); err != nil {
		t.Fatalf("IngestManifest() error = %v", err)
	}

	result, err := env.svc.CalculateStoreCounts(ctx, CalculateInput{RunID: run.RunID})
	var partial *domaindispatch.PartialError
	if !errors.As(err, &partial) {
		t.Fatalf("CalculateStoreCounts() error = %v, want *PartialError", err)
	}
	if partial.Stage != StageCalculate || partial.Processed != 2 || partial.Total != 4 || result.Processed != 2 {
		t.Fatalf("partial = %+v, result = %+v", partial, result)
	}
	if !errors.Is(err, errDiskFull) || errs.KindOf(err) != errs.KindPersistence {
		t.Fatalf("error = %v (kind %s)", err, errs.KindOf(err))
	}
	mustStatus(t, env.svc, run.RunID, domaindispatch.StatusManifestLoaded)

	items, err := env.runs.ListLineItems(ctx, run.RunID)
	if err != nil {
		t.Fatalf("ListLineItems() error = %v", err)
	}
	for i, item := range items {
		if computed := item.MaxStoresFinal != nil; computed != (i < 2) {
			t.Fatalf("item %d final = %v, want bounds only on the first two", i, item.MaxStoresFinal)
		}
	}
	if len(env.publisher.statuses()) != 1 {
		t.Fatalf("events = %v, want only manifest-loaded", env.publisher.statuses())
	}

	// The failure was a single call; re-running completes the run.
	if _, err := env.svc.CalculateStoreCounts(ctx, CalculateInput{RunID: run.RunID}); err != nil {
		t.Fatalf("CalculateStoreCounts() retry error = %v", err)
	}
	mustStatus(t, env.svc, run.RunID, domaindispatch.StatusStoreCountsCalculated)
}

func TestRefreshParametersForcesRecalculation(t *testing.T) {
	env := setupEnv(t, nil, Options{})
	env.seed(t)
	ctx := context.Background()
	run := env.calculatedRun(t)

	if _, err := env.svc.CreateParameters(ctx, CreateParametersInput{MinReferenceQuantity: 1, MinEanQuantity: 1, Activate: true}); err != nil {
		t.Fatalf("CreateParameters() error = %v", err)
	}
	refreshed, err := env.svc.RefreshParameters(ctx, run.RunID)
	if err != nil {
		t.Fatalf("RefreshParameters() error = %v", err)
	}
	if !refreshed.Recalculate || refreshed.Run.Status != domaindispatch.StatusManifestLoaded {
		t.Fatalf("refresh result = %+v", refreshed)
	}
	mustStatus(t, env.svc, run.RunID, domaindispatch.StatusManifestLoaded)

	items, err := env.runs.ListLineItems(ctx, run.RunID)
	if err != nil {
		t.Fatalf("ListLineItems() error = %v", err)
	}
	for i, item := range items {
		if item.MaxStoresByReference != nil || item.MaxStoresByEan != nil || item.MaxStoresFinal != nil {
			t.Fatalf("item %d kept stale bounds: %+v", i, item)
		}
	}

	if _, err := env.svc.Allocate(ctx, AllocateInput{RunID: run.RunID}); !errors.Is(err, domaindispatch.ErrInvalidTransition) {
		t.Fatalf("Allocate() after refresh error = %v, want ErrInvalidTransition", err)
	}

	if _, err := env.svc.CalculateStoreCounts(ctx, CalculateInput{RunID: run.RunID}); err != nil {
		t.Fatalf("CalculateStoreCounts() error = %v", err)
	}
	items, err = env.runs.ListLineItems(ctx, run.RunID)
	if err != nil {
		t.Fatalf("ListLineItems() error = %v", err)
	}
	if items[0].MaxStoresFinal == nil || *items[0].MaxStoresFinal != 12 {
		t.Fatalf("item 0 final = %v, want 12 under the 1/1 snapshot", items[0].MaxStoresFinal)
	}
	if _, err := env.svc.Allocate(ctx, AllocateInput{RunID: run.RunID}); err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}

	detail, err := env.svc.GetRun(ctx, run.RunID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if detail.Status != domaindispatch.StatusDistributed || detail.Parameters.MinReferenceQuantity != 1 || detail.Parameters.MinEanQuantity != 1 {
		t.Fatalf("run detail = %+v", detail.Run)
	}

	got := strings.Join(env.publisher.statuses(), ",")
	want := "manifest-loaded,store-counts-calculated,manifest-loaded,store-counts-calculated,distributed"
	if got != want {
		t.Fatalf("events = %s, want %s", got, want)
	}
}

func TestExportBeforeCalculationLeavesBoundsEmpty(t *testing.T) {
	env := setupEnv(t, nil, Options{})
	env.seed(t)
	ctx := context.Background()

	run, err := env.svc.CreateRun(ctx, CreateRunInput{Name: "uncalculated"})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if _, err := env.svc.IngestManifest(ctx, IngestManifestInput{RunID: run.RunID, Reader: strings.NewReader(testManifest)}); err != nil {
		t.Fatalf("IngestManifest() error = %v", err)
	}

	var buf bytes.Buffer
	if n, err := env.svc.ExportLineItems(ctx, run.RunID, &buf); err != nil || n != 4 {
		t.Fatalf("ExportLineItems() = %d, %v", n, err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if lines[1] != "R1;Robe lin;111000;M;12;2025-02-01;;;;Non" {
		t.Fatalf("first line = %q", lines[1])
	}
	if lines[3] != "RX;N/A;999000;S;3;;;;;Oui" {
		t.Fatalf("unresolved line = %q", lines[3])
	}
}

type recordingCatalog struct {
	ports.CatalogRepository
	productLookups [][]uint64
}

func (c *recordingCatalog) GetProductsByID(ctx context.Context, productIDs []uint64) (map[uint64]ports.Product, error) {
	c.productLookups = append(c.productLookups, append([]uint64(nil), productIDs...))
	return c.CatalogRepository.GetProductsByID(ctx, productIDs)
}

func TestExportLineItemsLooksUpEachProductOnce(t *testing.T) {
	env := setupEnv(t, nil, Options{})
	env.seed(t)
	run := env.calculatedRun(t)

	catalog := &recordingCatalog{CatalogRepository: sqliterepo.NewCatalogRepository(env.db)}
	svc := NewService(Dependencies{Runs: env.runs, Catalog: catalog}, Options{})

	var buf bytes.Buffer
	if n, err := svc.ExportLineItems(context.Background(), run.RunID, &buf); err != nil || n != 4 {
		t.Fatalf("ExportLineItems() = %d, %v", n, err)
	}
	if len(catalog.productLookups) != 1 {
		t.Fatalf("product lookups = %d, want 1", len(catalog.productLookups))
	}
	// R1 appears on two line items, R2 on one, RX is unresolved.
	if ids := catalog.productLookups[0]; len(ids) != 2 || ids[0] == ids[1] {
		t.Fatalf("looked up product ids = %v, want two distinct ids", ids)
	}
	if !strings.Contains(buf.String(), "R1;Robe lin;112000;L;4;") {
		t.Fatalf("second R1 line lost its designation:\n%s", buf.String())
	}
}

func TestIngestBlankReferenceStaysOutOfReport(t *testing.T) {
	env := setupEnv(t, nil, Options{})
	env.seed(t)
	ctx := context.Background()

	run, err := env.svc.CreateRun(ctx, CreateRunInput{Name: "blank"})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	manifest := "Référence du modèle;Code EAN;Taille;Quantités BL;Date Expe\n" +
		";555000;M;2;\n" +
		"R1;111000;M;99999999999999999999;\n"
	result, err := env.svc.IngestManifest(ctx, IngestManifestInput{RunID: run.RunID, Reader: strings.NewReader(manifest)})
	if err != nil {
		t.Fatalf("IngestManifest() error = %v", err)
	}
	if result.Inserted != 2 || result.NotFound != 1 || len(result.NotFoundReferences) != 0 {
		t.Fatalf("ingest result = %+v", result)
	}

	items, err := env.runs.ListLineItems(ctx, run.RunID)
	if err != nil {
		t.Fatalf("ListLineItems() error = %v", err)
	}
	if !items[0].ReferenceNotFound || items[1].Quantity != domaindispatch.MaxQuantity {
		t.Fatalf("items = %+v", items)
	}
}

func TestCalculateRequiresLoadedManifest(t *testing.T) {
	env := setupEnv(t, nil, Options{})
	env.seed(t)
	ctx := context.Background()

	run, err := env.svc.CreateRun(ctx, CreateRunInput{Name: "early"})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if _, err := env.svc.CalculateStoreCounts(ctx, CalculateInput{RunID: run.RunID}); !errors.Is(err, domaindispatch.ErrInvalidTransition) {
		t.Fatalf("CalculateStoreCounts() error = %v, want ErrInvalidTransition", err)
	}
	if _, err := env.svc.Allocate(ctx, AllocateInput{RunID: run.RunID}); !errors.Is(err, domaindispatch.ErrInvalidTransition) {
		t.Fatalf("Allocate() error = %v, want ErrInvalidTransition", err)
	}
}

func TestAllocateFailureKeepsRunRetryable(t *testing.T) {
	calls := 0
	fail := allocatorFunc(func(context.Context, ports.AllocationRequest) (ports.AllocationResult, error) {
		calls++
		return ports.AllocationResult{Success: false, Error: "stock insuffisant pour R1"}, nil
	})
	env := setupEnv(t, testResolver{allocator: fail}, Options{})
	env.seed(t)
	run := env.calculatedRun(t)

	_, err := env.svc.Allocate(context.Background(), AllocateInput{RunID: run.RunID})
	var collab *domaindispatch.CollaboratorError
	if !errors.As(err, &collab) {
		t.Fatalf("Allocate() error = %v, want *CollaboratorError", err)
	}
	if collab.Message != "stock insuffisant pour R1" || collab.Collaborator != "weighted" {
		t.Fatalf("collaborator error = %+v", collab)
	}
	if errs.KindOf(err) != errs.KindCollaborator {
		t.Fatalf("kind = %q, want collaborator", errs.KindOf(err))
	}
	mustStatus(t, env.svc, run.RunID, domaindispatch.StatusStoreCountsCalculated)

	if _, err := env.svc.Allocate(context.Background(), AllocateInput{RunID: run.RunID}); err == nil {
		t.Fatalf("retry should reach the procedure again")
	}
	if calls != 2 {
		t.Fatalf("procedure calls = %d, want 2", calls)
	}
}

func TestAllocateRejectsSuccessWithoutRecords(t *testing.T) {
	lying := allocatorFunc(func(context.Context, ports.AllocationRequest) (ports.AllocationResult, error) {
		return ports.AllocationResult{Success: true, DistributionID: "does-not-exist"}, nil
	})
	env := setupEnv(t, testResolver{allocator: lying}, Options{})
	env.seed(t)
	run := env.calculatedRun(t)

	_, err := env.svc.Allocate(context.Background(), AllocateInput{RunID: run.RunID})
	var collab *domaindispatch.CollaboratorError
	if !errors.As(err, &collab) {
		t.Fatalf("Allocate() error = %v, want *CollaboratorError", err)
	}
	mustStatus(t, env.svc, run.RunID, domaindispatch.StatusStoreCountsCalculated)
}

func TestAllocateTimeout(t *testing.T) {
	slow := allocatorFunc(func(ctx context.Context, _ ports.AllocationRequest) (ports.AllocationResult, error) {
		<-ctx.Done()
		return ports.AllocationResult{}, ctx.Err()
	})
	env := setupEnv(t, testResolver{allocator: slow}, Options{AllocationTimeout: 20 * time.Millisecond})
	env.seed(t)
	run := env.calculatedRun(t)

	_, err := env.svc.Allocate(context.Background(), AllocateInput{RunID: run.RunID})
	var collab *domaindispatch.CollaboratorError
	if !errors.As(err, &collab) || collab.Message != "allocation procedure timed out" {
		t.Fatalf("Allocate() error = %v, want timeout collaborator error", err)
	}
	mustStatus(t, env.svc, run.RunID, domaindispatch.StatusStoreCountsCalculated)
}

func TestAllocateRejectsConcurrentCall(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	blocking := allocatorFunc(func(context.Context, ports.AllocationRequest) (ports.AllocationResult, error) {
		close(started)
		<-release
		return ports.AllocationResult{Success: false, Error: "released"}, nil
	})
	env := setupEnv(t, testResolver{allocator: blocking}, Options{})
	env.seed(t)
	run := env.calculatedRun(t)

	done := make(chan error, 1)
	go func() {
		_, err := env.svc.Allocate(context.Background(), AllocateInput{RunID: run.RunID})
		done <- err
	}()
	<-started

	if _, err := env.svc.Allocate(context.Background(), AllocateInput{RunID: run.RunID}); !errors.Is(err, domaindispatch.ErrAllocationInFlight) {
		t.Fatalf("concurrent Allocate() error = %v, want ErrAllocationInFlight", err)
	}
	if err := env.svc.DeleteRun(context.Background(), run.RunID); !errors.Is(err, domaindispatch.ErrAllocationInFlight) {
		t.Fatalf("DeleteRun() during allocation error = %v, want ErrAllocationInFlight", err)
	}
	close(release)
	if err := <-done; err == nil {
		t.Fatalf("first Allocate() should report the procedure failure")
	}
}

func TestDistributedRunIsTerminal(t *testing.T) {
	env := setupEnv(t, nil, Options{})
	env.seed(t)
	ctx := context.Background()
	run := env.calculatedRun(t)

	if _, err := env.svc.Allocate(ctx, AllocateInput{RunID: run.RunID}); err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if _, err := env.svc.Allocate(ctx, AllocateInput{RunID: run.RunID}); !errors.Is(err, domaindispatch.ErrRunDistributed) {
		t.Fatalf("second Allocate() error = %v, want ErrRunDistributed", err)
	}
	if err := env.svc.DeleteRun(ctx, run.RunID); !errors.Is(err, domaindispatch.ErrRunDistributed) {
		t.Fatalf("DeleteRun() error = %v, want ErrRunDistributed", err)
	}
	if _, err := env.svc.MarkError(ctx, MarkErrorInput{RunID: run.RunID}); !errors.Is(err, domaindispatch.ErrRunDistributed) {
		t.Fatalf("MarkError() error = %v, want ErrRunDistributed", err)
	}
	if _, err := env.svc.CalculateStoreCounts(ctx, CalculateInput{RunID: run.RunID}); !errors.Is(err, domaindispatch.ErrRunDistributed) {
		t.Fatalf("CalculateStoreCounts() error = %v, want ErrRunDistributed", err)
	}
}

func TestMarkErrorAndDelete(t *testing.T) {
	env := setupEnv(t, nil, Options{})
	env.seed(t)
	ctx := context.Background()
	run := env.calculatedRun(t)

	marked, err := env.svc.MarkError(ctx, MarkErrorInput{RunID: run.RunID, Actor: "ops", Reason: "wrong manifest"})
	if err != nil {
		t.Fatalf("MarkError() error = %v", err)
	}
	if marked.Status != domaindispatch.StatusError {
		t.Fatalf("status = %q, want error", marked.Status)
	}
	if _, err := env.svc.Allocate(ctx, AllocateInput{RunID: run.RunID}); !errors.Is(err, domaindispatch.ErrInvalidTransition) {
		t.Fatalf("Allocate() on error run = %v, want ErrInvalidTransition", err)
	}

	if err := env.svc.DeleteRun(ctx, run.RunID); err != nil {
		t.Fatalf("DeleteRun() error = %v", err)
	}
	if _, err := env.svc.GetRun(ctx, run.RunID); !errors.Is(err, ports.ErrRunNotFound) {
		t.Fatalf("GetRun() after delete error = %v, want ErrRunNotFound", err)
	}
	progress, err := env.svc.GetProgress(ctx, run.RunID)
	if err != nil || len(progress) != 0 {
		t.Fatalf("progress after delete = %v, %v", progress, err)
	}
}

func TestExportWithoutDataIsRejected(t *testing.T) {
	env := setupEnv(t, nil, Options{})
	env.seed(t)
	ctx := context.Background()

	run, err := env.svc.CreateRun(ctx, CreateRunInput{Name: "empty"})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	var buf bytes.Buffer
	if _, err := env.svc.ExportLineItems(ctx, run.RunID, &buf); !errors.Is(err, domaindispatch.ErrNothingToExport) {
		t.Fatalf("ExportLineItems() error = %v, want ErrNothingToExport", err)
	}
	if _, err := env.svc.ExportDistribution(ctx, run.RunID, &buf); !errors.Is(err, domaindispatch.ErrNothingToExport) {
		t.Fatalf("ExportDistribution() error = %v, want ErrNothingToExport", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("export wrote %d bytes on failure", buf.Len())
	}
}

func TestSyncProceduresValidatesPayload(t *testing.T) {
	env := setupEnv(t, nil, Options{})
	ctx := context.Background()

	_, err := env.svc.SyncProcedures(ctx, SyncProceduresInput{
		Procedures: []domaindispatch.Procedure{{
			Name:    "ext",
			Kind:    domaindispatch.ProcedureProcess,
			Payload: json.RawMessage(`{"args":["x"]}`),
		}},
	})
	if !errors.Is(err, domaindispatch.ErrInvalidProcedure) {
		t.Fatalf("SyncProcedures() error = %v, want ErrInvalidProcedure", err)
	}

	views, err := env.svc.SyncProcedures(ctx, SyncProceduresInput{
		Procedures: []domaindispatch.Procedure{
			{Name: "weighted", Kind: domaindispatch.ProcedureBuiltin},
			{Name: "remote", Kind: domaindispatch.ProcedureHTTP, Payload: json.RawMessage(`{"url":"http://127.0.0.1:9/allocate"}`)},
		},
		Active: "remote",
	})
	if err != nil {
		t.Fatalf("SyncProcedures() error = %v", err)
	}
	if len(views) != 2 || views[0].Name != "remote" || !views[0].Active || views[1].Active {
		t.Fatalf("procedures = %+v", views)
	}

	if err := env.svc.ActivateProcedure(ctx, "nope"); errs.KindOf(err) != errs.KindInput {
		t.Fatalf("ActivateProcedure(nope) = %v, want input kind", err)
	}
}

func TestWriteNotFoundReport(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteNotFoundReport(&buf, []string{"RX", "RY"}); err != nil {
		t.Fatalf("WriteNotFoundReport() error = %v", err)
	}
	if got := buf.String(); got != "Référence\nRX\nRY\n" {
		t.Fatalf("report = %q", got)
	}
}
