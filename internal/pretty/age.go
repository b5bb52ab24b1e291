package pretty

import (
	"fmt"
	"time"
)

// Age implements a String() formatter for how long something has been
// around, keeping only the two most significant units.
type Age time.Duration

func (a Age) String() string {
	d := time.Duration(a)
	if d < 0 {
		return "-" + Age(-d).String()
	}
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d/time.Millisecond)
	case d < time.Minute:
		return fmt.Sprintf("%ds", d/time.Second)
	case d < time.Hour:
		return twoUnits(int64(d/time.Minute), "m", int64(d%time.Minute/time.Second), "s")
	case d < 24*time.Hour:
		return twoUnits(int64(d/time.Hour), "h", int64(d%time.Hour/time.Minute), "m")
	}
	day := 24 * time.Hour
	return twoUnits(int64(d/day), "d", int64(d%day/time.Hour), "h")
}

func twoUnits(major int64, majorUnit string, minor int64, minorUnit string) string {
	if minor == 0 {
		return fmt.Sprintf("%d%s", major, majorUnit)
	}
	return fmt.Sprintf("%d%s%d%s", major, majorUnit, minor, minorUnit)
}

// Since is shorthand for Age(time.Since(t)).
func Since(t time.Time) Age {
	return Age(time.Since(t))
}
