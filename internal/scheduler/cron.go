package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronField 以位图保存字段允许的取值。
type cronField uint64

func (f cronField) has(v int) bool { return f&(1<<uint(v)) != 0 }

type fieldRange struct {
	name     string
	min, max int
}

var cronRanges = [5]fieldRange{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 7},
}

// cronSchedule 标准 5 段表达式：分 时 日 月 周。
// 日与周同时受限时任一匹配即可，与常见 cron 实现一致。
type cronSchedule struct {
	minute, hour, dom, month, dow cronField
	domAny, dowAny                bool
}

func parseCron(spec string) (*cronSchedule, error) {
	parts := strings.Fields(spec)
	if len(parts) != 5 {
		return nil, fmt.Errorf("expected 5 fields, got %d", len(parts))
	}
	var fields [5]cronField
	for i, part := range parts {
		f, err := parseField(part, cronRanges[i])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cronRanges[i].name, err)
		}
		fields[i] = f
	}
	// 周日可写作 0 或 7。
	if fields[4].has(7) {
		fields[4] |= 1
	}
	return &cronSchedule{
		minute: fields[0],
		hour:   fields[1],
		dom:    fields[2],
		month:  fields[3],
		dow:    fields[4],
		domAny: parts[2] == "*" || parts[2] == "?",
		dowAny: parts[4] == "*" || parts[4] == "?",
	}, nil
}

// parseField 支持 *、n、a-b 以及带 /step 的形式，逗号分隔。
func parseField(expr string, r fieldRange) (cronField, error) {
	var out cronField
	for _, item := range strings.Split(expr, ",") {
		if item == "" {
			return 0, fmt.Errorf("empty item in %q", expr)
		}
		rangePart, step := item, 1
		if base, s, ok := strings.Cut(item, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("invalid step %q", item)
			}
			rangePart, step = base, n
		}

		lo, hi := r.min, r.max
		switch {
		case rangePart == "*" || rangePart == "?":
		case strings.Contains(rangePart, "-"):
			a, b, _ := strings.Cut(rangePart, "-")
			var err error
			if lo, err = bound(a, r); err != nil {
				return 0, err
			}
			if hi, err = bound(b, r); err != nil {
				return 0, err
			}
			if lo > hi {
				return 0, fmt.Errorf("invalid range %q", rangePart)
			}
		default:
			v, err := bound(rangePart, r)
			if err != nil {
				return 0, err
			}
			lo = v
			if step == 1 {
				hi = v
			}
		}
		for v := lo; v <= hi; v += step {
			out |= 1 << uint(v)
		}
	}
	if out == 0 {
		return 0, fmt.Errorf("no values in %q", expr)
	}
	return out, nil
}

func bound(s string, r fieldRange) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v < r.min || v > r.max {
		return 0, fmt.Errorf("value %q out of range %d-%d", s, r.min, r.max)
	}
	return v, nil
}

func (c *cronSchedule) dayMatches(t time.Time) bool {
	dom := c.dom.has(t.Day())
	dow := c.dow.has(int(t.Weekday()))
	switch {
	case c.domAny && c.dowAny:
		return true
	case c.domAny:
		return dow
	case c.dowAny:
		return dom
	default:
		return dom || dow
	}
}

// next 返回严格晚于 after 的下一个触发时刻，按天、小时、分钟逐级跳过。
func (c *cronSchedule) next(after time.Time) (time.Time, error) {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(5, 0, 0)
	for t.Before(limit) {
		if !c.month.has(int(t.Month())) || !c.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !c.hour.has(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
			continue
		}
		if !c.minute.has(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("no matching time within 5 years")
}
