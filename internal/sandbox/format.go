package sandbox

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kalambet/datalens/internal/chart"
	"github.com/kalambet/datalens/internal/table"
)

const (
	maxFrameRows  = 50
	maxSeriesRows = 50
)

// Format renders an exported result value as observation text.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return formatNumber(x)
	case *table.Table:
		return x.Markdown(maxFrameRows)
	case *series:
		return formatSeries(x)
	case *chart.Figure:
		return x.Describe()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 0, 64)
	}
	return strconv.FormatFloat(math.Round(f*1e6)/1e6, 'f', -1, 64)
}

// formatSeries prints one "label  value" line per element.
func formatSeries(s *series) string {
	labels := s.labels()
	n := len(s.values)
	if n > maxSeriesRows {
		n = maxSeriesRows
	}
	width := 0
	for _, l := range labels[:n] {
		width = max(width, len([]rune(l)))
	}

	var b strings.Builder
	for i := 0; i < n; i++ {
		v := s.values[i]
		text := table.FormatCell(v)
		if f, ok := v.(float64); ok {
			text = formatNumber(f)
		}
		fmt.Fprintf(&b, "%-*s  %s\n", width, labels[i], text)
	}
	if omitted := len(s.values) - n; omitted > 0 {
		fmt.Fprintf(&b, "... %d more\n", omitted)
	}
	fmt.Fprintf(&b, "Name: %s, Length: %d", s.name, len(s.values))
	return b.String()
}
