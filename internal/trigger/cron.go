package trigger

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseComplex parses a cron expression ("0 9 * * *", "0 0 9 * * MON-FRI",
// "@daily", "CRON_TZ=Europe/Berlin 0 7 * * *") into a Complex trigger.
//
// loc applies when the expression carries no CRON_TZ prefix; nil means time.Local.
func ParseComplex(expr string, loc *time.Location) (*Complex, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, invalidf("cron expression required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, invalidf("cron %q: %v", expr, err)
	}
	spec, ok := sched.(*cron.SpecSchedule)
	if !ok {
		return nil, invalidf("cron %q is not a calendar expression", expr)
	}
	c := &Complex{
		Seconds:     bitsToField(spec.Second, secondBounds),
		Minutes:     bitsToField(spec.Minute, minuteBounds),
		Hours:       bitsToField(spec.Hour, hourBounds),
		DaysOfMonth: bitsToField(spec.Dom, domBounds),
		Months:      bitsToField(spec.Month, monthBounds),
		DaysOfWeek:  bitsToField(spec.Dow, dowBounds),
		Location:    spec.Location,
	}
	if !hasTZPrefix(expr) {
		c.Location = loc
	}
	return c, nil
}

func hasTZPrefix(expr string) bool {
	return strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=")
}

func bitsToField(bits uint64, b bounds) Field {
	if bits&starBit != 0 {
		return Every()
	}
	vals := make([]int, 0, b.max-b.min+1)
	for i := b.min; i <= b.max; i++ {
		if bits&(1<<uint(i)) != 0 {
			vals = append(vals, i)
		}
	}
	if len(vals) >= 3 {
		step := vals[1] - vals[0]
		progression := step > 1
		for i := 2; progression && i < len(vals); i++ {
			progression = vals[i]-vals[i-1] == step
		}
		if progression {
			return Field{Items: []Range{{From: vals[0], To: vals[len(vals)-1], Step: step}}}
		}
	}

	var items []Range
	for i := 0; i < len(vals); {
		j := i
		for j+1 < len(vals) && vals[j+1] == vals[j]+1 {
			j++
		}
		r := Range{From: vals[i]}
		if j > i {
			r.To = vals[j]
		}
		items = append(items, r)
		i = j + 1
	}
	return Field{Items: items}
}
