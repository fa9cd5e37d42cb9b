package config

import (
	"fmt"
	"strings"
	"time"
)

// Sensitivity labels, from least to most sensitive
const (
	SensitivityVeryLow  = "very_low"
	SensitivityLow      = "low"
	SensitivityMedium   = "medium"
	SensitivityHigh     = "high"
	SensitivityVeryHigh = "very_high"
)

// SensitivityProfile is an immutable threshold/cooldown pair selected once
// at startup. Threshold is the number of changed pixels needed to trigger,
// and Cooldown is the minimum time between two accepted triggers.
type SensitivityProfile struct {
	Label       string
	Threshold   int // Changed pixels
	Cooldown    time.Duration
	Description string
}

// The fixed sensitivity table. Thresholds are tuned for a 640x480 monitoring
// stream: as sensitivity rises, the threshold drops and the cooldown shrinks.
var sensitivityTable = []SensitivityProfile{
	{SensitivityVeryLow, 15000, 15 * time.Second, "Very low - a person must cross most of the frame"},
	{SensitivityLow, 10000, 12 * time.Second, "Low - a whole arm waved broadly"},
	{SensitivityMedium, 6000, 8 * time.Second, "Medium - an arm or whole hand moving"},
	{SensitivityHigh, 3000, 5 * time.Second, "High - small movements such as fingers"},
	{SensitivityVeryHigh, 1000, 3 * time.Second, "Very high - tiny changes, including noise"},
}

// SensitivityProfiles returns the fixed table, ordered from least to most
// sensitive. The returned slice is a copy.
func SensitivityProfiles() []SensitivityProfile {
	out := make([]SensitivityProfile, len(sensitivityTable))
	copy(out, sensitivityTable)
	return out
}

// ProfileForLabel looks up a profile in the fixed table.
func ProfileForLabel(label string) (SensitivityProfile, error) {
	for _, p := range sensitivityTable {
		if p.Label == label {
			return p, nil
		}
	}
	return SensitivityProfile{}, fmt.Errorf("Unknown sensitivity '%v'", label)
}

// DescribeSensitivities returns an operator-facing listing of the table,
// marking the currently selected label.
func DescribeSensitivities(current string) string {
	lines := []string{"Available sensitivity levels:"}
	for _, p := range sensitivityTable {
		mark := ""
		if p.Label == current {
			mark = "  <- current"
		}
		lines = append(lines, fmt.Sprintf("  %-9v: %6vpx, %2.0fs - %v%v", p.Label, p.Threshold, p.Cooldown.Seconds(), p.Description, mark))
	}
	return strings.Join(lines, "\n")
}
