// Package format provides pure display-string helpers for timers and coin
// amounts.
package format

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Countdown renders a duration as a clock string: "02:03", or "1:02:03"
// once hours are involved. Negative durations render as "00:00".
func Countdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// Amount renders a coin amount compactly: 999 stays "999", 1234 becomes
// "1.2k", 2500000 becomes "2.5M". Values are truncated, not rounded, so
// the display never overstates the balance.
func Amount(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}

	var (
		value  float64
		suffix string
	)
	switch {
	case n >= 1_000_000_000:
		value, suffix = float64(n)/1_000_000_000, "B"
	case n >= 1_000_000:
		value, suffix = float64(n)/1_000_000, "M"
	case n >= 1_000:
		value, suffix = float64(n)/1_000, "k"
	default:
		if neg {
			return "-" + strconv.FormatInt(n, 10)
		}
		return strconv.FormatInt(n, 10)
	}

	value = math.Floor(value*10) / 10
	num := strconv.FormatFloat(value, 'f', 1, 64)
	num = strings.TrimSuffix(num, ".0")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString(num)
	b.WriteString(suffix)
	return b.String()
}
