package allocator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"stockdispatch/internal/bootstrap/logging"
	"stockdispatch/internal/domain/dispatch"
	"stockdispatch/internal/errs"
	"stockdispatch/internal/ports"
)

const AlgorithmWeighted = "weighted"

// Weighted is the in-process allocation procedure. It reads the run's line items and the
// active stores, then writes a Distribution and its records in one transaction.
type Weighted struct {
	runs    ports.DispatchRepository
	catalog ports.CatalogRepository
	uow     ports.UnitOfWork
	now     func() time.Time
	newID   func() string
}

func NewWeighted(runs ports.DispatchRepository, catalog ports.CatalogRepository, uow ports.UnitOfWork) *Weighted {
	return &Weighted{
		runs:    runs,
		catalog: catalog,
		uow:     uow,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.NewString() },
	}
}

func (w *Weighted) Allocate(ctx context.Context, req ports.AllocationRequest) (ports.AllocationResult, error) {
	ctx = logging.WithAttrs(ctx,
		slog.String("component", "allocator.weighted"),
		slog.String("run_id", req.RunID),
	)

	run, err := w.runs.GetRun(ctx, req.RunID)
	if err != nil {
		return ports.AllocationResult{}, errs.Wrap(err, "load run")
	}
	items, err := w.runs.ListLineItems(ctx, req.RunID)
	if err != nil {
		return ports.AllocationResult{}, errs.Wrap(err, "load line items")
	}
	if len(items) == 0 {
		return failed("no line items to distribute"), nil
	}
	stores, err := w.catalog.ListActiveStores(ctx)
	if err != nil {
		return ports.AllocationResult{}, errs.Wrap(err, "load active stores")
	}
	if len(stores) == 0 {
		return failed("no active stores"), nil
	}

	allocItems := make([]dispatch.AllocationItem, 0, len(items))
	for _, item := range items {
		allocItems = append(allocItems, dispatch.AllocationItem{
			ProductID:      item.ProductID,
			EANCode:        item.EANCode,
			Quantity:       item.Quantity,
			MaxStoresFinal: item.MaxStoresFinal,
		})
	}
	weighted := make([]dispatch.WeightedStore, 0, len(stores))
	for _, store := range stores {
		weighted = append(weighted, dispatch.WeightedStore{StoreID: store.StoreID, Weight: store.Weight})
	}

	allocations := dispatch.AllocateWeighted(allocItems, weighted, dispatch.Parameters{
		MinReferenceQuantity: run.MinReferenceQuantity,
		MinEanQuantity:       run.MinEanQuantity,
	})
	if len(allocations) == 0 {
		return failed("no allocation records produced; check quantities and store weights"), nil
	}

	records := make([]ports.AllocationRecord, 0, len(allocations))
	for _, a := range allocations {
		records = append(records, ports.AllocationRecord{
			ProductID:              a.ProductID,
			StoreID:                a.StoreID,
			EANCode:                a.EANCode,
			Quantity:               a.Quantity,
			MeetsEanCriteria:       a.MeetsEanCriteria,
			MeetsReferenceCriteria: a.MeetsReferenceCriteria,
		})
	}

	createdBy := strings.TrimSpace(req.Actor)
	if createdBy == "" {
		createdBy = run.CreatedBy
	}
	distribution := ports.Distribution{
		DistributionID: w.newID(),
		RunID:          run.RunID,
		Name:           "Distribution pour " + run.Name,
		CreatedBy:      createdBy,
		CreatedAt:      w.now().Format(time.RFC3339Nano),
	}

	if err := w.uow.WithTx(ctx, func(txCtx context.Context) error {
		return w.runs.CreateDistribution(txCtx, distribution, records)
	}); err != nil {
		return ports.AllocationResult{}, errs.Wrap(err, "write distribution")
	}

	logging.Info(ctx, "weighted allocation written",
		slog.String("distribution_id", distribution.DistributionID),
		slog.Int("records", len(records)),
	)
	return ports.AllocationResult{Success: true, DistributionID: distribution.DistributionID}, nil
}

func failed(message string) ports.AllocationResult {
	return ports.AllocationResult{Success: false, Error: message}
}
