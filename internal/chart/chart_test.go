package chart

import (
	"bytes"
	"image/png"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func salesBar() *Figure {
	return &Figure{
		Kind:   Bar,
		Title:  "Sales by region",
		XLabel: "region",
		YLabel: "sales",
		Labels: []string{"north", "south", "east"},
		Series: []Series{{Name: "sales", Y: []float64{10, 25, 7}}},
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, salesBar().Validate())

	for name, f := range map[string]*Figure{
		"empty":      {Kind: Bar},
		"mismatch":   {Kind: Bar, Labels: []string{"a"}, Series: []Series{{Y: []float64{1, 2}}}},
		"scatter":    {Kind: Scatter, Series: []Series{{X: []float64{1}, Y: []float64{1, 2}}}},
		"negative":   {Kind: Pie, Series: []Series{{Y: []float64{1, -1}}}},
		"nan":        {Kind: Line, Series: []Series{{Y: []float64{1, math.NaN()}}}},
		"kind":       {Kind: "radar", Series: []Series{{Y: []float64{1}}}},
		"empty hist": {Kind: Hist, Series: []Series{{}}},
	} {
		assert.Error(t, f.Validate(), name)
	}
}

func TestWriteSVG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, salesBar().WriteSVG(&buf, 640, 400))
	svg := buf.String()

	assert.True(t, strings.HasPrefix(svg, `<svg xmlns="http://www.w3.org/2000/svg" width="640" height="400"`))
	assert.Equal(t, 3+1, strings.Count(svg, "<rect"), "three bars plus background")
	assert.Contains(t, svg, ">Sales by region</text>")
	assert.Contains(t, svg, ">north</text>")
}

func TestWriteSVG_EscapesText(t *testing.T) {
	f := salesBar()
	f.Title = "<script>&"
	var buf bytes.Buffer
	require.NoError(t, f.WriteSVG(&buf, 640, 400))
	assert.Contains(t, buf.String(), "&lt;script&gt;&amp;")
}

func TestEveryKindRenders(t *testing.T) {
	figs := []*Figure{
		salesBar(),
		{Kind: Line, Labels: []string{"jan", "feb", "mar"}, Series: []Series{{Name: "a", Y: []float64{1, 3, 2}}, {Name: "b", Y: []float64{2, 2, -1}}}},
		{Kind: Scatter, Series: []Series{{X: []float64{1, 2, 3}, Y: []float64{3, 1, 2}}}},
		{Kind: Pie, Labels: []string{"a", "b"}, Series: []Series{{Y: []float64{3, 1}}}},
		{Kind: Pie, Labels: []string{"only"}, Series: []Series{{Y: []float64{5}}}},
		{Kind: Hist, Bins: 4, Series: []Series{{Y: []float64{1, 1, 2, 3, 3, 3, 4}}}},
		{Kind: Bar, Series: []Series{{Y: []float64{0, 0}}}},
	}
	for _, f := range figs {
		img, err := f.Render(320, 200)
		require.NoError(t, err, f.Kind)
		assert.Equal(t, 320, img.Bounds().Dx())
		require.NoError(t, img.Close())
	}
}

func TestRenderDrawsBars(t *testing.T) {
	img, err := salesBar().Render(400, 300)
	require.NoError(t, err)
	defer img.Close()

	// Some pixel must carry the first palette colour.
	found := false
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y && !found; y += 2 {
		for x := b.Min.X; x < b.Max.X; x += 2 {
			r, g, bl, _ := img.At(x, y).RGBA()
			if r>>8 == 0x4e && g>>8 == 0x79 && bl>>8 == 0xa7 {
				found = true
				break
			}
		}
	}
	assert.True(t, found, "expected bar colour in raster")
}

func TestPNGAndClose(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, salesBar().RenderPNG(&buf))
	decoded, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, DefaultWidth, decoded.Bounds().Dx())

	img, err := salesBar().Render(100, 100)
	require.NoError(t, err)
	require.NoError(t, img.Close())
	require.NoError(t, img.Close())
	assert.ErrorIs(t, img.PNG(&bytes.Buffer{}), ErrClosed)
	_, err = salesBar().Render(0, 10)
	assert.Error(t, err)
}

func TestHistogramBins(t *testing.T) {
	f := &Figure{Kind: Hist, Bins: 2, Series: []Series{{Y: []float64{0, 1, 2, 3, 4}}}}
	h := f.histogram()
	assert.Equal(t, []float64{2, 3}, h.Series[0].Y)
	assert.Len(t, h.Labels, 2)
}

func TestNiceTicks(t *testing.T) {
	assert.Equal(t, []float64{0, 5, 10, 15, 20, 25}, niceTicks(0, 25, 5))
	assert.Equal(t, []float64{3}, niceTicks(3, 3, 5))
	ticks := niceTicks(-7, 12, 5)
	assert.LessOrEqual(t, ticks[0], -7.0)
	assert.GreaterOrEqual(t, ticks[len(ticks)-1], 12.0)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "bar chart: Sales by region", salesBar().Describe())
	assert.Equal(t, "pie chart: untitled", (&Figure{Kind: Pie}).Describe())
}
