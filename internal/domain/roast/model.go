package roast

// Severity grades how harsh a roast line is.
type Severity string

const (
	SeverityMild    Severity = "mild"
	SeverityMedium  Severity = "medium"
	SeverityNuclear Severity = "nuclear"
)

// Line is a single canned roast.
type Line struct {
	Highlight string   `json:"highlight"`
	Severity  Severity `json:"severity"`
}

// RedFlag is a decorative tag the user can pop.
type RedFlag struct {
	ID       int    `json:"id"`
	Label    string `json:"label"`
	Exploded bool   `json:"exploded"`
}

// HeatmapMetric is one tile of the compatibility heatmap.
type HeatmapMetric struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
}

// Result is everything derived from one scored image.
type Result struct {
	Score    float64         `json:"score"`
	Severity Severity        `json:"severity"`
	Lines    []Line          `json:"roastLines"`
	Flags    []RedFlag       `json:"redFlags"`
	Heatmap  []HeatmapMetric `json:"heatmap"`
}

// Fixed crop and resolution flags.
var (
	FlagBadCrop        = RedFlag{ID: 1, Label: "Bad Crop"}
	FlagSuspiciousCrop = RedFlag{ID: 2, Label: "Suspicious Crop"}
	FlagLowRes         = RedFlag{ID: 3, Label: "Low Res"}
)

// HeatmapMetricNames lists the heatmap tiles in display order.
var HeatmapMetricNames = []string{"Humor", "Creativity", "Savagery", "Authenticity", "Style", "Vibe"}
