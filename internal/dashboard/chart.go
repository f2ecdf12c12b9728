package dashboard

// Chart geometry for the category bar chart, in SVG user units.
const (
	chartWidth   = 720
	chartHeight  = 320
	chartPadLeft = 48
	chartPadTop  = 16
	chartPadBase = 64
	chartGap     = 8
	chartTicks   = 4
)

// Bar is one plotted category
type Bar struct {
	Category string
	Count    int
	X, Y     int
	Width    int
	Height   int
	LabelX   int
}

// Tick is one horizontal grid line with its value
type Tick struct {
	Value int
	Y     int
}

// Chart is a vertical bar chart, count by category
type Chart struct {
	Width, Height int
	Baseline      int
	Left          int
	Bars          []Bar
	Ticks         []Tick
}

// Empty reports whether there is nothing to plot.
func (c Chart) Empty() bool {
	return len(c.Bars) == 0
}

// NewChart lays out one bar per row, scaled to the largest count.
func NewChart(rows []CategoryCount) Chart {
	c := Chart{
		Width:    chartWidth,
		Height:   chartHeight,
		Baseline: chartHeight - chartPadBase,
		Left:     chartPadLeft,
	}
	if len(rows) == 0 {
		return c
	}

	maxCount := 0
	for _, r := range rows {
		maxCount = max(maxCount, r.Count)
	}
	plotHeight := c.Baseline - chartPadTop
	plotWidth := chartWidth - chartPadLeft
	slot := plotWidth / len(rows)
	barWidth := max(1, slot-chartGap)

	for i, r := range rows {
		h := 0
		if maxCount > 0 {
			h = r.Count * plotHeight / maxCount
		}
		x := chartPadLeft + i*slot + chartGap/2
		c.Bars = append(c.Bars, Bar{
			Category: r.Category,
			Count:    r.Count,
			X:        x,
			Y:        c.Baseline - h,
			Width:    barWidth,
			Height:   h,
			LabelX:   x + barWidth/2,
		})
	}

	for i := 0; i <= chartTicks; i++ {
		v := maxCount * i / chartTicks
		c.Ticks = append(c.Ticks, Tick{Value: v, Y: c.Baseline - v*plotHeight/max(1, maxCount)})
	}
	return c
}
