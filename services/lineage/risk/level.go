// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package risk defines the ordered severity scales shared by every analysis
// routine: Level for verdicts and Severity for individual findings.
package risk

import "strings"

// Level represents the severity of change risk.
//
// Levels are totally ordered: LOW < MEDIUM < HIGH < CRITICAL. Merging
// verdicts across routines takes the maximum.
type Level string

const (
	Low      Level = "LOW"
	Medium   Level = "MEDIUM"
	High     Level = "HIGH"
	Critical Level = "CRITICAL"
)

var levelRank = map[Level]int{
	Low:      0,
	Medium:   1,
	High:     2,
	Critical: 3,
}

// ParseLevel parses a string to Level. Matching is case-insensitive.
// Unknown input parses as High so that a typo in a threshold never
// silently loosens a gate.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return Low
	case "MEDIUM":
		return Medium
	case "HIGH":
		return High
	case "CRITICAL":
		return Critical
	default:
		return High
	}
}

// Rank returns the position of the level in the total order.
// The zero value ranks as Low.
func (l Level) Rank() int {
	return levelRank[l]
}

// Exceeds returns true if this level is strictly above threshold.
func (l Level) Exceeds(threshold Level) bool {
	return l.Rank() > threshold.Rank()
}

// AtLeast returns true if this level is at or above threshold.
func (l Level) AtLeast(threshold Level) bool {
	return l.Rank() >= threshold.Rank()
}

// String implements fmt.Stringer.
func (l Level) String() string {
	if l == "" {
		return string(Low)
	}
	return string(l)
}

// Max returns the highest of the given levels, or Low when none are given.
func Max(levels ...Level) Level {
	out := Low
	for _, l := range levels {
		if l.Exceeds(out) {
			out = l
		}
	}
	return out
}

// Severity classifies an individual finding such as a warehouse impact,
// a quality issue or a performance regression.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Weight returns the score contribution of the severity:
// Low=1, Medium=2, High=4, Critical=8.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 4
	case SeverityCritical:
		return 8
	default:
		return 1
	}
}

// Level maps the severity onto the verdict scale.
func (s Severity) Level() Level {
	switch s {
	case SeverityMedium:
		return Medium
	case SeverityHigh:
		return High
	case SeverityCritical:
		return Critical
	default:
		return Low
	}
}

// Raise returns the higher of s and other.
func (s Severity) Raise(other Severity) Severity {
	if other.Level().Exceeds(s.Level()) {
		return other
	}
	return s
}
