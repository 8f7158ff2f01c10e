package leveling

import "math"

// xpPerLevelUnit scales the quadratic curve: reaching level n requires (n-1)^2 * 100 XP.
const xpPerLevelUnit = 100

// LevelFor returns floor(sqrt(xp/100)) + 1. Negative input is treated as zero.
func LevelFor(xp int64) int {
	if xp <= 0 {
		return 1
	}
	units := xp / xpPerLevelUnit // floor(sqrt(xp/100)) == isqrt(floor(xp/100))
	n := int64(math.Sqrt(float64(units)))
	// float rounding can be off by one near perfect squares
	for n*n > units {
		n--
	}
	for (n+1)*(n+1) <= units {
		n++
	}
	return int(n) + 1
}

// ThresholdFor returns the cumulative XP at which level starts.
func ThresholdFor(level int) int64 {
	if level <= 1 {
		return 0
	}
	l := int64(level - 1)
	return l * l * xpPerLevelUnit
}

// Progress describes where a member sits inside their current level.
type Progress struct {
	Level             int   `json:"level"`
	XP                int64 `json:"xp"`
	XPForCurrentLevel int64 `json:"xp_for_current_level"`
	XPForNextLevel    int64 `json:"xp_for_next_level"`
	XPProgress        int64 `json:"xp_progress"`
	XPNeeded          int64 `json:"xp_needed"`
	Percentage        int   `json:"percentage"`
}

// ProgressFor computes the progress figures shown on rank cards and level-up messages.
func ProgressFor(xp int64) Progress {
	if xp < 0 {
		xp = 0
	}
	level := LevelFor(xp)
	current := ThresholdFor(level)
	next := ThresholdFor(level + 1)
	p := Progress{
		Level:             level,
		XP:                xp,
		XPForCurrentLevel: current,
		XPForNextLevel:    next,
		XPProgress:        xp - current,
		XPNeeded:          next - current,
	}
	pct := int(math.Round(float64(p.XPProgress) / float64(p.XPNeeded) * 100))
	p.Percentage = min(pct, 100)
	return p
}
