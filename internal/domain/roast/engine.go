package roast

import (
	"errors"
	"math"
	"math/rand/v2"
)

const (
	wideAspect      = 1.2
	tallAspect      = 0.8
	minSide         = 800
	wideCropPenalty = 20
	tallCropPenalty = 30
	lowResPenalty   = 25
	jitterRange     = 20
	maxScore        = 100
)

// ErrInvalidDimensions is returned for images without a positive width and height.
var ErrInvalidDimensions = errors.New("image dimensions must be positive")

// RandSource yields uniform values in [0, 1).
type RandSource interface {
	Float64() float64
}

// Engine scores images. It is safe for concurrent use when its RandSource is.
type Engine struct {
	rand RandSource
}

// NewEngine builds an engine. A nil source uses the global math/rand/v2 generator.
func NewEngine(src RandSource) *Engine {
	if src == nil {
		src = globalRand{}
	}
	return &Engine{rand: src}
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// Score derives the cringe score, red flags, roast lines and heatmap from
// the image dimensions.
func (e *Engine) Score(width, height int) (Result, error) {
	if width <= 0 || height <= 0 {
		return Result{}, ErrInvalidDimensions
	}
	base, flags := Penalties(width, height)
	score := clampRound(base + e.rand.Float64()*jitterRange)

	bucket := Lookup(score)
	if bucket.Flag != nil {
		flags = append(flags, *bucket.Flag)
	}

	heatmap := make([]HeatmapMetric, 0, len(HeatmapMetricNames))
	for _, name := range HeatmapMetricNames {
		heatmap = append(heatmap, HeatmapMetric{Metric: name, Value: e.rand.Float64() * 100})
	}

	return Result{
		Score:    score,
		Severity: bucket.Severity,
		Lines:    bucket.RoastLines(),
		Flags:    flags,
		Heatmap:  heatmap,
	}, nil
}

// Penalties returns the deterministic part of the score and the flags it attached.
func Penalties(width, height int) (float64, []RedFlag) {
	var (
		score float64
		flags []RedFlag
	)
	aspect := float64(width) / float64(height)
	switch {
	case aspect > wideAspect:
		score += wideCropPenalty
		flags = append(flags, FlagBadCrop)
	case aspect < tallAspect:
		score += tallCropPenalty
		flags = append(flags, FlagSuspiciousCrop)
	}
	if width < minSide || height < minSide {
		score += lowResPenalty
		flags = append(flags, FlagLowRes)
	}
	return score, flags
}

func clampRound(v float64) float64 {
	v = math.Max(0, math.Min(v, maxScore))
	return math.Round(v*100) / 100
}
