package agent

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SpecKind classifies a schedule spec.
type SpecKind int

const (
	// KindDelay is a composite relative delay, e.g. "2d 12h" or "90s".
	KindDelay SpecKind = iota
	// KindWall is a wall-clock time of day, e.g. "23:42". The task fires at
	// the next occurrence of that time; if it already passed today it rolls
	// over to tomorrow.
	KindWall
	// KindCron is a cron expression, e.g. "cron:0 9 * * MON" or "@daily".
	KindCron
)

func (k SpecKind) String() string {
	switch k {
	case KindDelay:
		return "delay"
	case KindWall:
		return "wall"
	case KindCron:
		return "cron"
	default:
		return "unknown"
	}
}

var (
	reUnit = regexp.MustCompile(`^(\d+)([ydhms])$`)
	reWall = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

	cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

var unitDur = map[string]time.Duration{
	"y": 365 * 24 * time.Hour,
	"d": 24 * time.Hour,
	"h": time.Hour,
	"m": time.Minute,
	"s": time.Second,
}

// Spec is a parsed schedule spec.
type Spec struct {
	Kind SpecKind
	Raw  string

	delay time.Duration // KindDelay
	hour  int           // KindWall
	min   int           // KindWall
	cron  cron.Schedule // KindCron
}

// ParseSpec parses a schedule spec. Three forms are accepted:
//
//	"2d 12h"          composite delay; units y, d, h, m, s
//	"23:42"           wall-clock time of day (24h)
//	"cron:0 9 * * *"  cron expression (the prefix is optional for
//	                  descriptors like "@daily")
func ParseSpec(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, errors.New("empty schedule spec")
	}

	if expr, ok := strings.CutPrefix(s, "cron:"); ok {
		return parseCron(raw, strings.TrimSpace(expr))
	}
	if strings.HasPrefix(s, "@") {
		return parseCron(raw, s)
	}

	if m := reWall.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		if hour > 23 || min > 59 {
			return Spec{}, fmt.Errorf("wall-clock spec %q out of range", raw)
		}
		return Spec{Kind: KindWall, Raw: raw, hour: hour, min: min}, nil
	}

	fields := strings.Fields(s)
	if allUnits(fields) {
		var total time.Duration
		for _, f := range fields {
			m := reUnit.FindStringSubmatch(f)
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return Spec{}, fmt.Errorf("delay spec %q: %w", raw, err)
			}
			total += time.Duration(n) * unitDur[m[2]]
		}
		if total <= 0 {
			return Spec{}, fmt.Errorf("delay spec %q is zero", raw)
		}
		return Spec{Kind: KindDelay, Raw: raw, delay: total}, nil
	}

	if len(fields) >= 5 {
		return parseCron(raw, s)
	}
	return Spec{}, fmt.Errorf("unrecognized schedule spec %q", raw)
}

func allUnits(fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	for _, f := range fields {
		if !reUnit.MatchString(f) {
			return false
		}
	}
	return true
}

func parseCron(raw, expr string) (Spec, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Spec{}, fmt.Errorf("cron spec %q: %w", raw, err)
	}
	return Spec{Kind: KindCron, Raw: raw, cron: sched}, nil
}

// Next returns the firing time the spec yields relative to now, evaluated in
// the given location. Repeating tasks call this again after every firing, so
// each round recomputes from the current clock rather than accumulating
// drift from the original schedule time.
func (s Spec) Next(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	switch s.Kind {
	case KindWall:
		local := now.In(loc)
		at := time.Date(local.Year(), local.Month(), local.Day(), s.hour, s.min, 0, 0, loc)
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		return at
	case KindCron:
		return s.cron.Next(now.In(loc))
	default:
		return now.Add(s.delay)
	}
}
