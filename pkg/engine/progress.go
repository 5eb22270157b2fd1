package engine

import (
	"math"
	"strconv"
	"strings"
)

const progressMarker = "progress:"

// ParseProgress extracts the percentage from an engine output line.
//
// The text between "progress:" and the next '%' is parsed as a float. Lines
// without a '%' after the marker carry no percentage.
func ParseProgress(line string) (float64, bool) {
	_, rest, found := strings.Cut(line, progressMarker)
	if !found {
		return 0, false
	}

	num, _, hasPercent := strings.Cut(rest, "%")
	if !hasPercent {
		return 0, false
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
