package dispatch

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"stockdispatch/internal/errs"
)

const (
	ColumnProductReference   = "Référence"
	ColumnProductDesignation = "Désignation"

	ColumnStoreCode   = "Code Entité"
	ColumnStoreName   = "Enseigne"
	ColumnStoreWeight = "Poids repartition (PVP Base article)"
	ColumnStoreActive = "Actif"
)

type ProductRow struct {
	Reference   string
	Designation string
}

type StoreRow struct {
	StoreCode string
	Name      string
	Weight    float64
	IsActive  bool
}

// ParseProductsCSV reads a ';'-separated product list. Designation defaults to the reference.
func ParseProductsCSV(r io.Reader) ([]ProductRow, error) {
	table, err := readTable(r, []string{ColumnProductReference})
	if err != nil {
		return nil, err
	}

	out := make([]ProductRow, 0, len(table.rows))
	for _, row := range table.rows {
		reference := table.get(row, ColumnProductReference)
		if reference == "" {
			continue
		}
		designation := table.get(row, ColumnProductDesignation)
		if designation == "" {
			designation = reference
		}
		out = append(out, ProductRow{Reference: reference, Designation: designation})
	}
	return out, nil
}

// ParseStoresCSV reads the store mapping export. Weights look like "12,5%".
// Stores are active unless an Actif column says otherwise.
func ParseStoresCSV(r io.Reader) ([]StoreRow, error) {
	table, err := readTable(r, []string{ColumnStoreCode, ColumnStoreWeight})
	if err != nil {
		return nil, err
	}

	out := make([]StoreRow, 0, len(table.rows))
	for _, row := range table.rows {
		code := table.get(row, ColumnStoreCode)
		if code == "" {
			continue
		}
		weight, err := ParseWeight(table.get(row, ColumnStoreWeight))
		if err != nil {
			return nil, errs.WithKind(fmt.Errorf("store %s: %w", code, err), errs.KindInput)
		}
		name := table.get(row, ColumnStoreName)
		if name == "" {
			name = code
		}
		out = append(out, StoreRow{
			StoreCode: code,
			Name:      name,
			Weight:    weight,
			IsActive:  parseActive(table.get(row, ColumnStoreActive)),
		})
	}
	return out, nil
}

func ParseWeight(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" {
		return 0, nil
	}
	weight, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid weight %q", raw)
	}
	if weight < 0 {
		return 0, fmt.Errorf("negative weight %q", raw)
	}
	return weight, nil
}

func parseActive(raw string) bool {
	switch NormalizeHeader(raw) {
	case "non", "no", "false", "0", "inactif":
		return false
	default:
		return true
	}
}

type table struct {
	columns map[string]int
	rows    [][]string
}

func (t table) get(row []string, column string) string {
	pos, ok := t.columns[NormalizeHeader(column)]
	if !ok || pos >= len(row) {
		return ""
	}
	return row[pos]
}

func readTable(r io.Reader, required []string) (table, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return table{}, errs.WithKind(errs.Wrap(err, "read csv"), errs.KindInput)
	}
	text, err := decodeManifest(raw)
	if err != nil {
		return table{}, err
	}

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) < 2 {
		return table{}, ErrManifestEmpty
	}

	t := table{columns: make(map[string]int)}
	for i, header := range splitFields(lines[0]) {
		key := NormalizeHeader(header)
		if _, dup := t.columns[key]; !dup {
			t.columns[key] = i
		}
	}

	var missing []string
	for _, column := range required {
		if _, ok := t.columns[NormalizeHeader(column)]; !ok {
			missing = append(missing, column)
		}
	}
	if len(missing) > 0 {
		return table{}, fmt.Errorf("%w: %s", ErrManifestHeader, strings.Join(missing, ", "))
	}

	for _, line := range lines[1:] {
		t.rows = append(t.rows, splitFields(line))
	}
	return t, nil
}
