// Package humanize renders durations for people: the largest three of years,
// months, weeks, days, hours and minutes, the smallest one rounded.
package humanize

import (
	"math"
	"strconv"
	"strings"
	"time"
)

type unit struct {
	singular string
	plural   string
	length   float64 // minutes
}

const day = 24 * 60

var units = []unit{
	{"year", "years", 365.25 * day},
	{"month", "months", 365.25 * day / 12},
	{"week", "weeks", 7 * day},
	{"day", "days", day},
	{"hour", "hours", 60},
	{"minute", "minutes", 1},
}

const largest = 3

// Duration formats d, e.g. "1 hour and 30 minutes" or
// "2 days, 3 hours and 15 minutes". Anything under half a minute is
// "0 minutes".
func Duration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	rem := d.Minutes()

	first := len(units) - 1
	for i, u := range units {
		if rem >= u.length {
			first = i
			break
		}
	}
	last := first + largest - 1
	if last >= len(units) {
		last = len(units) - 1
	}

	counts := make([]float64, len(units))
	for i := first; i < last; i++ {
		counts[i] = math.Floor(rem / units[i].length)
		rem -= counts[i] * units[i].length
	}
	counts[last] = math.Round(rem / units[last].length)

	// Rounding may fill up the next larger unit (60 minutes, 24 hours ...).
	for i := last; i > 0; i-- {
		if counts[i]*units[i].length >= units[i-1].length-1e-9 {
			counts[i-1]++
			counts[i] = 0
		}
	}

	parts := make([]string, 0, largest)
	for i := 0; i <= last; i++ {
		if counts[i] == 0 {
			continue
		}
		n := int(counts[i])
		name := units[i].plural
		if n == 1 {
			name = units[i].singular
		}
		parts = append(parts, strconv.Itoa(n)+" "+name)
	}

	switch len(parts) {
	case 0:
		return "0 minutes"
	case 1:
		return parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
}

// Minutes is the whole number of minutes in d, truncated.
func Minutes(d time.Duration) int {
	return int(d / time.Minute)
}
