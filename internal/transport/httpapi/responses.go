package httpapi

import "stockdispatch/internal/usecase/dispatch"

type runResponse struct {
	RunID                string `json:"run_id"`
	Name                 string `json:"name"`
	Status               string `json:"status"`
	ParametersID         uint64 `json:"parameters_id"`
	MinReferenceQuantity int    `json:"min_reference_quantity"`
	MinEanQuantity       int    `json:"min_ean_quantity"`
	Procedure            string `json:"procedure"`
	ProcedureKind        string `json:"procedure_kind"`
	DistributionID       string `json:"distribution_id,omitempty"`
	CreatedBy            string `json:"created_by"`
	CreatedAt            string `json:"created_at"`
	UpdatedAt            string `json:"updated_at"`
}

type runDetailResponse struct {
	runResponse
	LineItems         int64               `json:"line_items"`
	AllocationRecords int64               `json:"allocation_records"`
	Progress          []dispatch.Progress `json:"progress"`
}

type ingestResponse struct {
	RunID              string   `json:"run_id"`
	Rows               int      `json:"rows"`
	Inserted           int      `json:"inserted"`
	NotFound           int      `json:"not_found"`
	NotFoundReferences []string `json:"not_found_references"`
}

func toRunResponse(run dispatch.Run) runResponse {
	return runResponse{
		RunID:                run.RunID,
		Name:                 run.Name,
		Status:               string(run.Status),
		ParametersID:         run.ParametersID,
		MinReferenceQuantity: run.Parameters.MinReferenceQuantity,
		MinEanQuantity:       run.Parameters.MinEanQuantity,
		Procedure:            run.Procedure.Name,
		ProcedureKind:        run.Procedure.Kind,
		DistributionID:       run.DistributionID,
		CreatedBy:            run.CreatedBy,
		CreatedAt:            run.CreatedAt,
		UpdatedAt:            run.UpdatedAt,
	}
}
