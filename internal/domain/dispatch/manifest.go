package dispatch

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"stockdispatch/internal/errs"
)

const (
	ColumnReference      = "Référence du modèle"
	ColumnEAN            = "Code EAN"
	ColumnSize           = "Taille"
	ColumnQuantity       = "Quantités BL"
	ColumnExpeditionDate = "Date Expe"

	manifestSeparator = ";"
)

var requiredColumns = []string{ColumnReference, ColumnEAN, ColumnSize, ColumnQuantity, ColumnExpeditionDate}

type ManifestRow struct {
	Line           int
	Reference      string
	EANCode        string
	Size           string
	Quantity       int
	ExpeditionDate *string
}

type Manifest struct {
	Headers []string
	Rows    []ManifestRow
}

// DistinctReferences returns trimmed references in first-seen order. Blank references are left out.
func (m Manifest) DistinctReferences() []string {
	seen := make(map[string]struct{}, len(m.Rows))
	out := make([]string, 0, len(m.Rows))
	for _, row := range m.Rows {
		if row.Reference == "" {
			continue
		}
		if _, ok := seen[row.Reference]; ok {
			continue
		}
		seen[row.Reference] = struct{}{}
		out = append(out, row.Reference)
	}
	return out
}

// ParseManifest reads a ';'-separated stock manifest with a header row.
// UTF-8 is expected; input that is not valid UTF-8 is decoded as Latin-1.
func ParseManifest(r io.Reader) (Manifest, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Manifest{}, errs.WithKind(errs.Wrap(err, "read manifest"), errs.KindInput)
	}

	text, err := decodeManifest(raw)
	if err != nil {
		return Manifest{}, err
	}

	lines := make([]string, 0, 64)
	lineNumbers := make([]int, 0, 64)
	for idx, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		lineNumbers = append(lineNumbers, idx+1)
	}
	if len(lines) < 2 {
		return Manifest{}, ErrManifestEmpty
	}

	headers := splitFields(lines[0])
	index := make(map[string]int, len(headers))
	for i, header := range headers {
		key := NormalizeHeader(header)
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}

	columns := make(map[string]int, len(requiredColumns))
	missing := make([]string, 0, len(requiredColumns))
	for _, column := range requiredColumns {
		i, ok := index[NormalizeHeader(column)]
		if !ok {
			missing = append(missing, column)
			continue
		}
		columns[column] = i
	}
	if len(missing) > 0 {
		return Manifest{}, fmt.Errorf("%w: %s", ErrManifestHeader, strings.Join(missing, ", "))
	}

	rows := make([]ManifestRow, 0, len(lines)-1)
	for i, line := range lines[1:] {
		values := splitFields(line)
		field := func(column string) string {
			pos := columns[column]
			if pos < len(values) {
				return values[pos]
			}
			return ""
		}

		rows = append(rows, ManifestRow{
			Line:           lineNumbers[i+1],
			Reference:      strings.TrimSpace(field(ColumnReference)),
			EANCode:        CleanEAN(field(ColumnEAN)),
			Size:           strings.TrimSpace(field(ColumnSize)),
			Quantity:       ParseQuantity(field(ColumnQuantity)),
			ExpeditionDate: ConvertExpeditionDate(field(ColumnExpeditionDate)),
		})
	}

	return Manifest{Headers: headers, Rows: rows}, nil
}

func decodeManifest(raw []byte) (string, error) {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if utf8.Valid(raw) {
		return string(raw), nil
	}

	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return "", errs.WithKind(errs.Wrap(err, "decode latin-1 manifest"), errs.KindInput)
	}
	return string(decoded), nil
}

func splitFields(line string) []string {
	parts := strings.Split(line, manifestSeparator)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// NormalizeHeader folds case, accents and inner whitespace so "QUANTITES  bl" matches "Quantités BL".
func NormalizeHeader(header string) string {
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, header)
	if err != nil {
		folded = header
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// MaxQuantity caps a parsed quantity so allocation arithmetic cannot overflow.
const MaxQuantity = math.MaxInt32

// ParseQuantity keeps the lenient behavior of the manifest producers: the leading
// integer is used ("12.5" -> 12) and anything without one becomes 0. Negative values
// clamp to 0 and values above MaxQuantity clamp to MaxQuantity.
func ParseQuantity(raw string) int {
	s := strings.TrimSpace(raw)
	negative := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		negative = s[0] == '-'
		s = s[1:]
	}

	var n int64
	for i := 0; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		if n < MaxQuantity {
			n = n*10 + int64(s[i]-'0')
		}
	}
	if negative {
		return 0
	}
	return int(min(n, MaxQuantity))
}

func CleanEAN(raw string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
}

// ConvertExpeditionDate turns DD/MM/YYYY into YYYY-MM-DD. Blank or malformed values yield nil.
func ConvertExpeditionDate(raw string) *string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	parsed, err := time.Parse("2/1/2006", s)
	if err != nil {
		return nil
	}
	iso := parsed.Format(time.DateOnly)
	return &iso
}
