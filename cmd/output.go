package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	domaindispatch "stockdispatch/internal/domain/dispatch"
	"stockdispatch/internal/errs"
	"stockdispatch/internal/usecase/dispatch"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusStyle = map[domaindispatch.Status]lipgloss.Style{
		domaindispatch.StatusDraft:                 lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		domaindispatch.StatusManifestLoaded:        lipgloss.NewStyle().Foreground(lipgloss.Color("63")),
		domaindispatch.StatusStoreCountsCalculated: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		domaindispatch.StatusDistributed:           lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		domaindispatch.StatusError:                 lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

func renderStatus(status domaindispatch.Status) string {
	style, ok := statusStyle[status]
	if !ok {
		return string(status)
	}
	return style.Render(string(status))
}

// runView is the yaml shape of `runs show --output yaml`.
type runView struct {
	RunID          string              `yaml:"run_id"`
	Name           string              `yaml:"name"`
	Status         string              `yaml:"status"`
	ParametersID   uint64              `yaml:"parameters_id"`
	MinReference   int                 `yaml:"min_reference_quantity"`
	MinEan         int                 `yaml:"min_ean_quantity"`
	Procedure      string              `yaml:"procedure"`
	ProcedureKind  string              `yaml:"procedure_kind"`
	DistributionID string              `yaml:"distribution_id,omitempty"`
	LineItems      int64               `yaml:"line_items"`
	Records        int64               `yaml:"allocation_records"`
	CreatedBy      string              `yaml:"created_by"`
	CreatedAt      string              `yaml:"created_at"`
	UpdatedAt      string              `yaml:"updated_at"`
	Progress       []dispatch.Progress `yaml:"progress,omitempty"`
}

func writeRunYAML(w io.Writer, detail dispatch.RunDetail) error {
	view := runView{
		RunID:          detail.RunID,
		Name:           detail.Name,
		Status:         string(detail.Status),
		ParametersID:   detail.ParametersID,
		MinReference:   detail.Parameters.MinReferenceQuantity,
		MinEan:         detail.Parameters.MinEanQuantity,
		Procedure:      detail.Procedure.Name,
		ProcedureKind:  detail.Procedure.Kind,
		DistributionID: detail.DistributionID,
		LineItems:      detail.LineItems,
		Records:        detail.AllocationRecords,
		CreatedBy:      detail.CreatedBy,
		CreatedAt:      detail.CreatedAt,
		UpdatedAt:      detail.UpdatedAt,
		Progress:       detail.Progress,
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(view); err != nil {
		return errs.Wrap(err, "encode run yaml")
	}
	return enc.Close()
}

// openInput opens a file argument; "-" reads stdin.
func openInput(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("input file is required")
	}
	if path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrapf(err, "open input %q", path)
	}
	return f, nil
}

// openOutput creates a file argument; "" or "-" writes to stdout.
func openOutput(cmd *cobra.Command, path string) (io.WriteCloser, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "-" {
		return nopWriteCloser{cmd.OutOrStdout()}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errs.Wrapf(err, "create output %q", path)
	}
	return f, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func printf(cmd *cobra.Command, format string, args ...any) error {
	if _, err := fmt.Fprintf(cmd.OutOrStdout(), format, args...); err != nil {
		return errs.Wrap(err, "write output")
	}
	return nil
}
