// Package chart computes the plot geometry of a postal area's price per m²
// trend. Layout is pure: it holds no state and can be called concurrently.
package chart

import (
	"math"

	"estimo/server/internal/models"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// ValueTickCount is the number of horizontal levels on the value axis.
	ValueTickCount = 6
	// DenseThreshold is the history length up to which every month is labeled.
	DenseThreshold = 6
	// CurrentLabel marks the most recent sample.
	CurrentLabel = "Actuel"

	lowPadding  = 0.95
	highPadding = 1.05
	monthLength = len("2006-01")
)

// PlotArea is the fixed rectangle the curve is drawn into.
type PlotArea struct {
	LeftMargin float64 `json:"left_margin" env:"LEFT_MARGIN" envDefault:"80"`
	Width      float64 `json:"width" env:"WIDTH" envDefault:"670"`
	BaselineY  float64 `json:"baseline_y" env:"BASELINE_Y" envDefault:"350"`
	Height     float64 `json:"height" env:"HEIGHT" envDefault:"300"`
}

// DefaultPlotArea matches an 800x400 view box with the x axis at y=350.
var DefaultPlotArea = PlotArea{
	LeftMargin: 80,
	Width:      670,
	BaselineY:  350,
	Height:     300,
}

// Right returns the x coordinate of the plot's right edge.
func (p PlotArea) Right() float64 { return p.LeftMargin + p.Width }

// Top returns the y coordinate of the plot's top edge.
func (p PlotArea) Top() float64 { return p.BaselineY - p.Height }

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Marker is a plotted price sample.
type Marker struct {
	Point
	Date       string  `json:"date"`
	PricePerM2 float64 `json:"prix_m2"`
	Current    bool    `json:"current"`
}

// ValueTick is one level of the value axis.
type ValueTick struct {
	Y       float64 `json:"y"`
	Value   float64 `json:"value"`
	Rounded int64   `json:"rounded"`
	Label   string  `json:"label"`
}

// DateTick is a labeled sample on the date axis.
type DateTick struct {
	Index int     `json:"index"`
	X     float64 `json:"x"`
	Label string  `json:"label"`
}

// Line is a straight segment, used for grid lines.
type Line struct {
	From Point `json:"from"`
	To   Point `json:"to"`
}

// Geometry is everything needed to draw the trend chart.
type Geometry struct {
	Plot       PlotArea    `json:"plot"`
	MinPrice   float64     `json:"min_price"`
	MaxPrice   float64     `json:"max_price"`
	Range      float64     `json:"range"`
	PointWidth float64     `json:"point_width"`
	Markers    []Marker    `json:"markers"`
	ValueTicks []ValueTick `json:"value_ticks"`
	DateTicks  []DateTick  `json:"date_ticks"`
	GridLines  []Line      `json:"grid_lines"`
	Area       []Point     `json:"area"`
	Current    int         `json:"current"`
}

// Points returns the curve's vertices in sample order.
func (g *Geometry) Points() []Point {
	points := make([]Point, len(g.Markers))
	for i, m := range g.Markers {
		points[i] = m.Point
	}
	return points
}

// Layout maps history, which must be sorted ascending by date and hold at
// least one sample, onto plot. Callers short-circuit empty histories.
func Layout(history []models.PricePoint, plot PlotArea) Geometry {
	n := len(history)

	minPrice, maxPrice := history[0].PricePerM2, history[0].PricePerM2
	for _, p := range history[1:] {
		minPrice = math.Min(minPrice, p.PricePerM2)
		maxPrice = math.Max(maxPrice, p.PricePerM2)
	}
	minPrice *= lowPadding
	maxPrice *= highPadding

	priceRange := maxPrice - minPrice
	if priceRange == 0 {
		priceRange = 1
	}

	pointWidth := plot.Width / float64(max(n-1, 1))

	g := Geometry{
		Plot:       plot,
		MinPrice:   minPrice,
		MaxPrice:   maxPrice,
		Range:      priceRange,
		PointWidth: pointWidth,
		Markers:    make([]Marker, n),
		Current:    n - 1,
	}

	for i, p := range history {
		g.Markers[i] = Marker{
			Point: Point{
				X: plot.LeftMargin + float64(i)*pointWidth,
				Y: plot.BaselineY - ((p.PricePerM2-minPrice)/priceRange)*plot.Height,
			},
			Date:       p.Date,
			PricePerM2: p.PricePerM2,
			Current:    i == n-1,
		}
	}

	g.Area = make([]Point, 0, n+2)
	g.Area = append(g.Area, Point{X: plot.LeftMargin, Y: plot.BaselineY})
	g.Area = append(g.Area, g.Points()...)
	g.Area = append(g.Area, Point{X: plot.LeftMargin + float64(n-1)*pointWidth, Y: plot.BaselineY})

	for i, p := range history {
		if !showDate(i, n) {
			continue
		}
		g.DateTicks = append(g.DateTicks, DateTick{
			Index: i,
			X:     g.Markers[i].X,
			Label: monthOf(p.Date),
		})
	}

	printer := message.NewPrinter(language.French)
	step := plot.Height / float64(ValueTickCount-1)
	for k := 0; k < ValueTickCount; k++ {
		value := minPrice + priceRange*float64(k)/float64(ValueTickCount-1)
		rounded := int64(math.Round(value))
		y := plot.BaselineY - float64(k)*step
		g.ValueTicks = append(g.ValueTicks, ValueTick{
			Y:       y,
			Value:   value,
			Rounded: rounded,
			Label:   printer.Sprintf("%d€", rounded),
		})
		g.GridLines = append(g.GridLines, Line{
			From: Point{X: plot.LeftMargin, Y: plot.Top() + float64(k)*step},
			To:   Point{X: plot.Right(), Y: plot.Top() + float64(k)*step},
		})
	}

	return g
}

// showDate reports whether sample i of n gets a date label. The last sample
// is always labeled.
func showDate(i, n int) bool {
	return n <= DenseThreshold || i%2 == 0 || i == n-1
}

func monthOf(date string) string {
	if len(date) <= monthLength {
		return date
	}
	return date[:monthLength]
}
