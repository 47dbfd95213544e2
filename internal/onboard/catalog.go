// Package onboard produces the first look at freshly uploaded data: a
// catalog of files, a combined statistical summary and suggested questions.
package onboard

import "github.com/kalambet/datalens/internal/table"

// FileInfo describes one loaded table.
type FileInfo struct {
	Name        string            `json:"name"`
	Rows        int               `json:"rows"`
	Columns     int               `json:"columns"`
	ColumnNames []string          `json:"column_names"`
	DTypes      map[string]string `json:"dtypes"`
	Nulls       map[string]int    `json:"null_counts"`
}

// CatalogInfo lists every file with totals across them.
type CatalogInfo struct {
	Files        []FileInfo `json:"files"`
	TotalFiles   int        `json:"total_files"`
	TotalRows    int        `json:"total_rows"`
	TotalColumns int        `json:"total_columns"`
}

// Catalog describes tables in the order given.
func Catalog(tables []*table.Table) CatalogInfo {
	c := CatalogInfo{Files: make([]FileInfo, 0, len(tables))}
	for _, t := range tables {
		fi := FileInfo{
			Name:        t.Name,
			Rows:        t.NumRows(),
			Columns:     len(t.Columns),
			ColumnNames: append([]string(nil), t.Columns...),
			DTypes:      make(map[string]string, len(t.Columns)),
			Nulls:       make(map[string]int, len(t.Columns)),
		}
		for i, col := range t.Columns {
			fi.DTypes[col] = t.DType(i)
			fi.Nulls[col] = t.NumRows() - t.NonNull(i)
		}
		c.Files = append(c.Files, fi)
		c.TotalRows += fi.Rows
		c.TotalColumns += fi.Columns
	}
	c.TotalFiles = len(c.Files)
	return c
}

// Summary describes all tables stacked together. It returns nil when there
// is nothing to describe.
func Summary(tables []*table.Table) *table.Table {
	if len(tables) == 0 {
		return nil
	}
	return table.Concat("all", tables...).Describe()
}
