// Package chart models the figures produced by analysis code and renders
// them to SVG and PNG.
package chart

import (
	"errors"
	"fmt"
	"math"
)

// Kind is the chart type.
type Kind string

const (
	Bar     Kind = "bar"
	Line    Kind = "line"
	Scatter Kind = "scatter"
	Pie     Kind = "pie"
	Hist    Kind = "hist"
)

// Series is one data series. Categorical charts (bar, line, pie) use Y
// aligned with Figure.Labels; scatter uses X and Y pairs; hist uses Y as the
// raw sample.
type Series struct {
	Name string    `json:"name,omitempty"`
	X    []float64 `json:"x,omitempty"`
	Y    []float64 `json:"y"`
}

// Figure is a renderable chart description.
type Figure struct {
	Kind   Kind     `json:"kind"`
	Title  string   `json:"title,omitempty"`
	XLabel string   `json:"xlabel,omitempty"`
	YLabel string   `json:"ylabel,omitempty"`
	Labels []string `json:"labels,omitempty"`
	Series []Series `json:"series"`
	Bins   int      `json:"bins,omitempty"`
}

var errEmpty = errors.New("chart has no data")

// Validate checks that the figure's series fit its kind.
func (f *Figure) Validate() error {
	if len(f.Series) == 0 {
		return errEmpty
	}
	for _, s := range f.Series {
		for _, v := range append(append([]float64(nil), s.X...), s.Y...) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("series %q contains a non-finite value", s.Name)
			}
		}
	}
	switch f.Kind {
	case Bar, Line, Pie:
		for _, s := range f.Series {
			if len(s.Y) == 0 {
				return errEmpty
			}
			if len(f.Labels) > 0 && len(f.Labels) != len(s.Y) {
				return fmt.Errorf("series %q has %d values for %d labels", s.Name, len(s.Y), len(f.Labels))
			}
		}
		if f.Kind == Pie {
			for _, v := range f.Series[0].Y {
				if v < 0 {
					return fmt.Errorf("pie values must be non-negative")
				}
			}
		}
	case Scatter:
		for _, s := range f.Series {
			if len(s.X) != len(s.Y) {
				return fmt.Errorf("series %q has %d x values and %d y values", s.Name, len(s.X), len(s.Y))
			}
			if len(s.Y) == 0 {
				return errEmpty
			}
		}
	case Hist:
		if len(f.Series[0].Y) == 0 {
			return errEmpty
		}
	default:
		return fmt.Errorf("unknown chart kind %q", f.Kind)
	}
	return nil
}

// Describe is the one-line textual stand-in used in transcripts.
func (f *Figure) Describe() string {
	title := f.Title
	if title == "" {
		title = "untitled"
	}
	return fmt.Sprintf("%s chart: %s", f.Kind, title)
}
