package card

import (
	"strconv"

	"github.com/yanqian/truthcard/internal/domain/roast"
)

// Card is the result summary rendered for export and sharing.
type Card struct {
	Score    float64
	Severity roast.Severity
	Lines    []roast.Line
	Flags    []roast.RedFlag
	Heatmap  []roast.HeatmapMetric
}

// ActiveFlags returns the flags the user has not popped yet.
func (c Card) ActiveFlags() []roast.RedFlag {
	out := make([]roast.RedFlag, 0, len(c.Flags))
	for _, f := range c.Flags {
		if !f.Exploded {
			out = append(out, f)
		}
	}
	return out
}

// FormatScore prints the score without trailing zeros: 20, 45.5, 61.37.
func FormatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}
