package chart

import (
	"fmt"
	"html"
	"io"
	"math"
	"strings"
)

var palette = []string{"#4e79a7", "#f28e2b", "#e15759", "#76b7b2", "#59a14f", "#edc948", "#b07aa1", "#ff9da7"}

const (
	marginLeft   = 64.0
	marginRight  = 24.0
	marginTop    = 40.0
	marginBottom = 56.0
)

type anchor int

const (
	anchorStart anchor = iota
	anchorMiddle
	anchorEnd
)

type label struct {
	x, y   float64
	text   string
	anchor anchor
}

// scene is a laid-out figure: SVG shape elements plus text labels kept apart
// because the rasterizer cannot draw SVG text.
type scene struct {
	w, h   int
	shapes []string
	labels []label
}

func (s *scene) shape(format string, args ...any) {
	s.shapes = append(s.shapes, fmt.Sprintf(format, args...))
}

func (s *scene) text(x, y float64, a anchor, text string) {
	s.labels = append(s.labels, label{x: x, y: y, text: text, anchor: a})
}

// WriteSVG renders the figure as a standalone SVG document.
func (f *Figure) WriteSVG(w io.Writer, width, height int) error {
	sc, err := f.layout(width, height)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, sc.svg(true))
	return err
}

func (s *scene) svg(withText bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`, s.w, s.h, s.w, s.h)
	b.WriteString("\n")
	fmt.Fprintf(&b, `<rect x="0" y="0" width="%d" height="%d" fill="#ffffff"/>`, s.w, s.h)
	b.WriteString("\n")
	for _, sh := range s.shapes {
		b.WriteString(sh)
		b.WriteString("\n")
	}
	if withText {
		for _, l := range s.labels {
			a := "start"
			switch l.anchor {
			case anchorMiddle:
				a = "middle"
			case anchorEnd:
				a = "end"
			}
			fmt.Fprintf(&b, `<text x="%.1f" y="%.1f" font-family="sans-serif" font-size="12" text-anchor="%s">%s</text>`, l.x, l.y, a, html.EscapeString(l.text))
			b.WriteString("\n")
		}
	}
	b.WriteString("</svg>\n")
	return b.String()
}

func (f *Figure) layout(width, height int) (*scene, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	sc := &scene{w: width, h: height}
	if f.Title != "" {
		sc.text(float64(width)/2, 24, anchorMiddle, f.Title)
	}

	switch f.Kind {
	case Pie:
		f.layoutPie(sc)
		return sc, nil
	case Hist:
		hf := f.histogram()
		hf.layoutCategorical(sc)
	case Scatter:
		f.layoutScatter(sc)
	default:
		f.layoutCategorical(sc)
	}

	if f.XLabel != "" {
		sc.text(float64(width)/2, float64(height)-10, anchorMiddle, f.XLabel)
	}
	if f.YLabel != "" {
		sc.text(12, marginTop-12, anchorStart, f.YLabel)
	}
	return sc, nil
}

type plotArea struct {
	x0, y0, x1, y1 float64
}

func (p plotArea) width() float64  { return p.x1 - p.x0 }
func (p plotArea) height() float64 { return p.y1 - p.y0 }

func area(sc *scene) plotArea {
	return plotArea{x0: marginLeft, y0: marginTop, x1: float64(sc.w) - marginRight, y1: float64(sc.h) - marginBottom}
}

// yAxis draws gridlines and tick labels for [lo, hi] and returns a mapper from
// data values to pixel rows.
func yAxis(sc *scene, pa plotArea, lo, hi float64) func(float64) float64 {
	ticks := niceTicks(lo, hi, 5)
	lo, hi = math.Min(lo, ticks[0]), math.Max(hi, ticks[len(ticks)-1])
	if hi == lo {
		hi = lo + 1
	}
	mapY := func(v float64) float64 { return pa.y1 - (v-lo)/(hi-lo)*pa.height() }
	for _, t := range ticks {
		y := mapY(t)
		sc.shape(`<line x1="%.1f" y1="%.1f" x2="%.1f" y2="%.1f" stroke="#e0e0e0" stroke-width="1"/>`, pa.x0, y, pa.x1, y)
		sc.text(pa.x0-6, y+4, anchorEnd, formatTick(t))
	}
	sc.shape(`<line x1="%.1f" y1="%.1f" x2="%.1f" y2="%.1f" stroke="#333333" stroke-width="1"/>`, pa.x0, pa.y0, pa.x0, pa.y1)
	sc.shape(`<line x1="%.1f" y1="%.1f" x2="%.1f" y2="%.1f" stroke="#333333" stroke-width="1"/>`, pa.x0, pa.y1, pa.x1, pa.y1)
	return mapY
}

func (f *Figure) yRange() (float64, float64) {
	lo, hi := 0.0, 0.0
	for _, s := range f.Series {
		for _, v := range s.Y {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	return lo, hi
}

func (f *Figure) categories() []string {
	if len(f.Labels) > 0 {
		return f.Labels
	}
	n := len(f.Series[0].Y)
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprint(i)
	}
	return out
}

func (f *Figure) layoutCategorical(sc *scene) {
	pa := area(sc)
	lo, hi := f.yRange()
	mapY := yAxis(sc, pa, lo, hi)
	cats := f.categories()
	slot := pa.width() / float64(len(cats))

	every := int(math.Ceil(float64(len(cats)) * 60 / pa.width()))
	for i, c := range cats {
		if i%max(every, 1) == 0 {
			sc.text(pa.x0+slot*(float64(i)+0.5), pa.y1+16, anchorMiddle, truncate(c, 12))
		}
	}

	switch f.Kind {
	case Bar, Hist:
		n := float64(len(f.Series))
		gap := slot * 0.15
		if f.Kind == Hist {
			gap = 0
		}
		bw := (slot - 2*gap) / n
		for si, s := range f.Series {
			color := palette[si%len(palette)]
			for i, v := range s.Y {
				x := pa.x0 + slot*float64(i) + gap + bw*float64(si)
				top, bottom := mapY(math.Max(v, 0)), mapY(math.Min(v, 0))
				sc.shape(`<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="%s" stroke="#ffffff" stroke-width="0.5"/>`, x, top, bw, bottom-top, color)
			}
		}
	case Line:
		for si, s := range f.Series {
			color := palette[si%len(palette)]
			pts := make([]string, len(s.Y))
			for i, v := range s.Y {
				pts[i] = fmt.Sprintf("%.1f,%.1f", pa.x0+slot*(float64(i)+0.5), mapY(v))
			}
			sc.shape(`<polyline points="%s" fill="none" stroke="%s" stroke-width="2"/>`, strings.Join(pts, " "), color)
		}
	}
	f.legend(sc, pa)
}

func (f *Figure) layoutScatter(sc *scene) {
	pa := area(sc)
	lo, hi := f.yRange()
	mapY := yAxis(sc, pa, lo, hi)

	xlo, xhi := math.Inf(1), math.Inf(-1)
	for _, s := range f.Series {
		for _, x := range s.X {
			xlo, xhi = math.Min(xlo, x), math.Max(xhi, x)
		}
	}
	ticks := niceTicks(xlo, xhi, 5)
	xlo, xhi = math.Min(xlo, ticks[0]), math.Max(xhi, ticks[len(ticks)-1])
	if xhi == xlo {
		xhi = xlo + 1
	}
	mapX := func(v float64) float64 { return pa.x0 + (v-xlo)/(xhi-xlo)*pa.width() }
	for _, t := range ticks {
		sc.text(mapX(t), pa.y1+16, anchorMiddle, formatTick(t))
	}

	for si, s := range f.Series {
		color := palette[si%len(palette)]
		for i := range s.X {
			sc.shape(`<circle cx="%.1f" cy="%.1f" r="3" fill="%s" fill-opacity="0.8"/>`, mapX(s.X[i]), mapY(s.Y[i]), color)
		}
	}
	f.legend(sc, pa)
}

func (f *Figure) layoutPie(sc *scene) {
	values := f.Series[0].Y
	total := 0.0
	for _, v := range values {
		total += v
	}
	cats := f.categories()
	cx, cy := float64(sc.w)/2, (float64(sc.h)+marginTop)/2
	r := math.Min(float64(sc.w)-2*marginRight, float64(sc.h)-marginTop-marginBottom) / 2 * 0.8
	if total == 0 {
		sc.shape(`<circle cx="%.1f" cy="%.1f" r="%.1f" fill="#e0e0e0"/>`, cx, cy, r)
		return
	}

	angle := -math.Pi / 2
	for i, v := range values {
		if v == 0 {
			continue
		}
		sweep := v / total * 2 * math.Pi
		color := palette[i%len(palette)]
		if sweep >= 2*math.Pi-1e-9 {
			sc.shape(`<circle cx="%.1f" cy="%.1f" r="%.1f" fill="%s"/>`, cx, cy, r, color)
		} else {
			x0, y0 := cx+r*math.Cos(angle), cy+r*math.Sin(angle)
			x1, y1 := cx+r*math.Cos(angle+sweep), cy+r*math.Sin(angle+sweep)
			large := 0
			if sweep > math.Pi {
				large = 1
			}
			sc.shape(`<path d="M %.1f %.1f L %.1f %.1f A %.1f %.1f 0 %d 1 %.1f %.1f Z" fill="%s" stroke="#ffffff" stroke-width="1"/>`,
				cx, cy, x0, y0, r, r, large, x1, y1, color)
		}
		mid := angle + sweep/2
		lx, ly := cx+(r+14)*math.Cos(mid), cy+(r+14)*math.Sin(mid)
		a := anchorStart
		if math.Cos(mid) < 0 {
			a = anchorEnd
		}
		sc.text(lx, ly+4, a, fmt.Sprintf("%s (%.1f%%)", truncate(cats[i], 14), v/total*100))
		angle += sweep
	}
}

func (f *Figure) legend(sc *scene, pa plotArea) {
	if len(f.Series) < 2 {
		return
	}
	y := pa.y0 + 4
	for si, s := range f.Series {
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("series %d", si+1)
		}
		sc.shape(`<rect x="%.1f" y="%.1f" width="10" height="10" fill="%s"/>`, pa.x1-110, y, palette[si%len(palette)])
		sc.text(pa.x1-96, y+9, anchorStart, truncate(name, 14))
		y += 16
	}
}

// histogram converts a hist figure into an equivalent bar figure.
func (f *Figure) histogram() *Figure {
	values := f.Series[0].Y
	bins := f.Bins
	if bins <= 0 {
		bins = 10
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	width := (hi - lo) / float64(bins)
	if width == 0 {
		width = 1
	}
	counts := make([]float64, bins)
	for _, v := range values {
		i := int((v - lo) / width)
		if i >= bins {
			i = bins - 1
		}
		counts[i]++
	}
	labels := make([]string, bins)
	for i := range labels {
		labels[i] = formatTick(lo + width*float64(i))
	}
	return &Figure{Kind: Hist, Labels: labels, Series: []Series{{Name: f.Series[0].Name, Y: counts}}}
}

// niceTicks returns about n evenly spaced round values covering [lo, hi].
func niceTicks(lo, hi float64, n int) []float64 {
	if hi < lo {
		lo, hi = hi, lo
	}
	if hi == lo {
		return []float64{lo}
	}
	raw := (hi - lo) / float64(n)
	mag := math.Pow(10, math.Floor(math.Log10(raw)))
	step := mag
	for _, m := range []float64{1, 2, 5, 10} {
		step = m * mag
		if step >= raw {
			break
		}
	}
	start := math.Floor(lo/step) * step
	var ticks []float64
	for v := start; v <= hi+step*1e-9; v += step {
		ticks = append(ticks, math.Round(v/step)*step)
	}
	if ticks[len(ticks)-1] < hi {
		ticks = append(ticks, ticks[len(ticks)-1]+step)
	}
	return ticks
}

func formatTick(v float64) string {
	switch {
	case v == math.Trunc(v) && math.Abs(v) < 1e6:
		return fmt.Sprintf("%.0f", v)
	case math.Abs(v) >= 1e6:
		return fmt.Sprintf("%.2g", v)
	default:
		return fmt.Sprintf("%.2f", v)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
