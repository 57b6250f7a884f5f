package runconsole

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	domaindispatch "stockdispatch/internal/domain/dispatch"
	"stockdispatch/internal/usecase/dispatch"
)

type fakeSource struct {
	runs       []dispatch.Run
	calculated []string
	allocated  []dispatch.AllocateInput
	allocErr   error
}

func (f *fakeSource) ListRuns(_ context.Context, _ dispatch.ListRunsInput) ([]dispatch.Run, error) {
	return f.runs, nil
}

func (f *fakeSource) GetRun(_ context.Context, runID string) (dispatch.RunDetail, error) {
	for _, run := range f.runs {
		if run.RunID == runID {
			return dispatch.RunDetail{
				Run:       run,
				LineItems: 3,
				Progress: []dispatch.Progress{
					{RunID: runID, Stage: dispatch.StageIngest, Processed: 3, Total: 3, Percent: 100, Done: true},
				},
			}, nil
		}
	}
	return dispatch.RunDetail{}, errors.New("run not found")
}

func (f *fakeSource) CalculateStoreCounts(_ context.Context, input dispatch.CalculateInput) (dispatch.CalculateResult, error) {
	f.calculated = append(f.calculated, input.RunID)
	return dispatch.CalculateResult{RunID: input.RunID, Processed: 3}, nil
}

func (f *fakeSource) Allocate(_ context.Context, input dispatch.AllocateInput) (dispatch.AllocateResult, error) {
	f.allocated = append(f.allocated, input)
	if f.allocErr != nil {
		return dispatch.AllocateResult{}, f.allocErr
	}
	return dispatch.AllocateResult{RunID: input.RunID, DistributionID: "dist-1", Records: 4}, nil
}

func newTestModel(source *fakeSource) *runModel {
	return NewRunModel(context.Background(), source, Options{Actor: "alice"}).(*runModel)
}

func runCmd(t *testing.T, m *runModel, cmd tea.Cmd) {
	t.Helper()
	if cmd == nil {
		t.Fatalf("expected a command")
	}
	m.Update(cmd())
}

func TestRunsLoadedSelectsAndLoadsDetail(t *testing.T) {
	source := &fakeSource{runs: []dispatch.Run{
		{RunID: "run-aaaaaaaaaa", Name: "week 6", Status: domaindispatch.StatusManifestLoaded},
		{RunID: "run-bbbbbbbbbb", Name: "week 7", Status: domaindispatch.StatusDraft},
	}}
	m := newTestModel(source)

	runCmd(t, m, m.loadRunsCmd())
	_, cmd := m.Update(runsLoadedMsg{items: source.runs})
	runCmd(t, m, cmd)

	if !m.hasDetail || m.detail.RunID != "run-aaaaaaaaaa" {
		t.Fatalf("detail = %+v, hasDetail = %v", m.detail, m.hasDetail)
	}

	m.Update(tea.KeyMsg{Type: tea.KeyDown})
	if m.selectedIndex != 1 {
		t.Fatalf("selectedIndex = %d, want 1", m.selectedIndex)
	}

	view := m.View()
	for _, want := range []string{"Dispatch Runs", "week 6", "manifest-loaded", "100%"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestStaleDetailIsIgnored(t *testing.T) {
	source := &fakeSource{runs: []dispatch.Run{{RunID: "run-1", Status: domaindispatch.StatusDraft}}}
	m := newTestModel(source)
	m.runs = source.runs

	m.Update(runDetailLoadedMsg{runID: "run-other", detail: dispatch.RunDetail{Run: dispatch.Run{RunID: "run-other"}}})
	if m.hasDetail {
		t.Fatalf("detail for an unselected run should be ignored")
	}
}

func TestCheckActionAllowed(t *testing.T) {
	testCases := []struct {
		name   string
		status domaindispatch.Status
		target domaindispatch.Status
		busy   string
		want   bool
	}{
		{name: "calculate after ingest", status: domaindispatch.StatusManifestLoaded, target: domaindispatch.StatusStoreCountsCalculated, want: true},
		{name: "recalculate", status: domaindispatch.StatusStoreCountsCalculated, target: domaindispatch.StatusStoreCountsCalculated, want: true},
		{name: "calculate draft", status: domaindispatch.StatusDraft, target: domaindispatch.StatusStoreCountsCalculated, want: false},
		{name: "allocate calculated", status: domaindispatch.StatusStoreCountsCalculated, target: domaindispatch.StatusDistributed, want: true},
		{name: "allocate distributed", status: domaindispatch.StatusDistributed, target: domaindispatch.StatusDistributed, want: false},
		{name: "busy", status: domaindispatch.StatusStoreCountsCalculated, target: domaindispatch.StatusDistributed, busy: "run-2", want: false},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			m := newTestModel(&fakeSource{})
			m.busyRunID = testCase.busy
			err := m.checkActionAllowed("act", dispatch.Run{RunID: "run-1", Status: testCase.status}, testCase.target)
			if (err == nil) != testCase.want {
				t.Fatalf("checkActionAllowed() error = %v, want allowed=%v", err, testCase.want)
			}
		})
	}
}

func TestAllocateKeyRunsAllocationWithActor(t *testing.T) {
	source := &fakeSource{runs: []dispatch.Run{{RunID: "run-1", Status: domaindispatch.StatusStoreCountsCalculated}}}
	m := newTestModel(source)
	m.runs = source.runs

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("a")})
	if m.busyRunID != "run-1" {
		t.Fatalf("busyRunID = %q, want run-1", m.busyRunID)
	}
	runCmd(t, m, cmd)

	if len(source.allocated) != 1 || source.allocated[0].Actor != "alice" {
		t.Fatalf("allocated = %+v", source.allocated)
	}
	if m.busyRunID != "" {
		t.Fatalf("busyRunID should be cleared, got %q", m.busyRunID)
	}
	if len(m.auditLogs) != 1 || !strings.Contains(m.auditLogs[0], "dist-1") {
		t.Fatalf("auditLogs = %v", m.auditLogs)
	}
}

func TestAllocateFailureIsReported(t *testing.T) {
	source := &fakeSource{
		runs:     []dispatch.Run{{RunID: "run-1", Status: domaindispatch.StatusStoreCountsCalculated}},
		allocErr: errors.New("allocation procedure timed out"),
	}
	m := newTestModel(source)
	m.runs = source.runs

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("a")})
	runCmd(t, m, cmd)

	if !strings.Contains(m.status, "allocation procedure timed out") {
		t.Fatalf("status = %q", m.status)
	}
	if len(m.auditLogs) != 1 || !strings.Contains(m.auditLogs[0], "failed") {
		t.Fatalf("auditLogs = %v", m.auditLogs)
	}
}

func TestCalculateKeyOnDraftIsRefused(t *testing.T) {
	source := &fakeSource{runs: []dispatch.Run{{RunID: "run-1", Status: domaindispatch.StatusDraft}}}
	m := newTestModel(source)
	m.runs = source.runs

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	if cmd != nil {
		t.Fatalf("calculate on a draft run should not start")
	}
	if len(source.calculated) != 0 {
		t.Fatalf("calculated = %v", source.calculated)
	}
	if !strings.Contains(m.status, "not allowed") {
		t.Fatalf("status = %q", m.status)
	}
}

func TestProgressBar(t *testing.T) {
	if got := progressBar(50); strings.Count(got, "#") != progressWidth/2 {
		t.Fatalf("progressBar(50) = %q", got)
	}
	if got := progressBar(150); strings.Count(got, "#") != progressWidth {
		t.Fatalf("progressBar(150) = %q", got)
	}
}
