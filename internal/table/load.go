package table

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding/charmap"
)

var (
	// ErrNoTables is returned when an upload contains no readable tables.
	ErrNoTables = errors.New("no tables found")

	// ErrUnsupportedFormat is returned for file extensions without a loader.
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// maxParallelEntries bounds concurrent archive entry parsing.
const maxParallelEntries = 4

// Load parses an uploaded file into one or more tables, dispatching on the
// extension of name. Archives yield one table per CSV entry and workbooks one
// table per non-empty sheet. The result is ordered by table name.
func Load(ctx context.Context, name string, data []byte) ([]*Table, error) {
	var (
		tables []*Table
		err    error
	)
	switch strings.ToLower(path.Ext(name)) {
	case ".csv", ".tsv", ".txt":
		var t *Table
		t, err = ReadCSV(path.Base(name), data)
		if t != nil {
			tables = []*Table{t}
		}
	case ".zip":
		tables, err = readZip(ctx, data)
	case ".xlsx", ".xlsm":
		tables, err = readXLSX(path.Base(name), data)
	case ".pdf":
		tables, err = readPDF(path.Base(name), data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path.Ext(name))
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", name, err)
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("loading %s: %w", name, ErrNoTables)
	}
	return tables, nil
}

// ReadCSV parses delimited text. The delimiter is sniffed from the first
// lines, a UTF-8 BOM is dropped, and input that is not valid UTF-8 is decoded
// as Latin-1. Rows with more fields than the header are skipped; short rows
// are padded with nulls. Returns (nil, nil) for input without a header row.
func ReadCSV(name string, data []byte) (*Table, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("decoding latin-1: %w", err)
		}
		data = decoded
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = sniffDelimiter(data)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = false

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	t := New(name, dedupeColumns(header))
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				continue
			}
			return nil, fmt.Errorf("reading row: %w", err)
		}
		if len(rec) > len(t.Columns) || isBlank(rec) {
			continue
		}
		row := make([]any, len(rec))
		for i, f := range rec {
			row[i] = ParseCell(f)
		}
		t.Append(row)
	}
	return t, nil
}

var delimiterCandidates = []rune{',', ';', '\t', '|'}

// sniffDelimiter picks the candidate that appears a consistent, non-zero
// number of times across the first lines, preferring the most frequent.
func sniffDelimiter(data []byte) rune {
	lines := strings.SplitN(string(data), "\n", 11)
	if len(lines) > 10 {
		lines = lines[:10]
	}
	var nonEmpty []string
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			nonEmpty = append(nonEmpty, l)
		}
	}
	if len(nonEmpty) == 0 {
		return ','
	}

	best, bestScore := ',', 0
	for _, d := range delimiterCandidates {
		first := countOutsideQuotes(nonEmpty[0], d)
		if first == 0 {
			continue
		}
		consistent := 0
		for _, l := range nonEmpty {
			if countOutsideQuotes(l, d) == first {
				consistent++
			}
		}
		score := consistent*1000 + first
		if score > bestScore {
			best, bestScore = d, score
		}
	}
	return best
}

func countOutsideQuotes(line string, d rune) int {
	n := 0
	quoted := false
	for _, c := range line {
		switch {
		case c == '"':
			quoted = !quoted
		case c == d && !quoted:
			n++
		}
	}
	return n
}

// dedupeColumns names blank headers "Unnamed: i" and suffixes repeats with
// ".1", ".2", ... so every column is addressable.
func dedupeColumns(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]int)
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			h = "Unnamed: " + strconv.Itoa(i)
		}
		if n, ok := seen[h]; ok {
			seen[h] = n + 1
			h = h + "." + strconv.Itoa(n+1)
		} else {
			seen[h] = 0
		}
		out[i] = h
	}
	return out
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// readZip parses every CSV entry of the archive concurrently. Entries under
// __MACOSX are resource forks and are ignored.
func readZip(ctx context.Context, data []byte) ([]*Table, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening zip: %w", err)
	}

	var entries []*zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX") {
			continue
		}
		if strings.ToLower(path.Ext(f.Name)) != ".csv" {
			continue
		}
		entries = append(entries, f)
	}

	results := make([]*Table, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelEntries)
	for i, f := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("opening %s: %w", f.Name, err)
			}
			defer rc.Close()
			raw, err := io.ReadAll(rc)
			if err != nil {
				return fmt.Errorf("reading %s: %w", f.Name, err)
			}
			t, err := ReadCSV(f.Name, raw)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", f.Name, err)
			}
			results[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tables := make([]*Table, 0, len(results))
	for _, t := range results {
		if t != nil {
			tables = append(tables, t)
		}
	}
	sortByName(tables)
	return tables, nil
}

// readXLSX turns each non-empty sheet into a table whose first row is the header.
func readXLSX(name string, data []byte) ([]*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	var tables []*Table
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("reading sheet %s: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		tname := name
		if len(sheets) > 1 {
			tname = name + "#" + sheet
		}
		t := New(tname, dedupeColumns(rows[0]))
		for _, rec := range rows[1:] {
			if isBlank(rec) {
				continue
			}
			row := make([]any, len(rec))
			for i, cell := range rec {
				row[i] = ParseCell(cell)
			}
			t.Append(row)
		}
		tables = append(tables, t)
	}
	return tables, nil
}

var pdfColumnSep = regexp.MustCompile(`\t+|\s{2,}`)

// readPDF extracts a best-effort table from text-based PDFs: lines are split
// into fields on tabs or runs of two or more spaces, the first multi-field
// line becomes the header, and only lines with the header's width are kept.
// Scanned PDFs yield no tables.
func readPDF(name string, data []byte) ([]*Table, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}

	var t *Table
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Image-only or damaged page.
			continue
		}
		for _, line := range strings.Split(text, "\n") {
			fields := pdfColumnSep.Split(strings.TrimSpace(line), -1)
			if len(fields) < 2 {
				continue
			}
			if t == nil {
				t = New(name, dedupeColumns(fields))
				continue
			}
			if len(fields) != len(t.Columns) || sameFields(fields, t.Columns) {
				continue
			}
			row := make([]any, len(fields))
			for j, f := range fields {
				row[j] = ParseCell(f)
			}
			t.Append(row)
		}
	}
	if t == nil || t.NumRows() == 0 {
		return nil, nil
	}
	return []*Table{t}, nil
}

// sameFields detects header lines repeated at the top of each page.
func sameFields(a, b []string) bool {
	for i := range a {
		if strings.TrimSpace(a[i]) != b[i] {
			return false
		}
	}
	return true
}

func sortByName(tables []*Table) {
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
}
