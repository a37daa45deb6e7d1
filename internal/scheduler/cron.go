package scheduler

import (
	"fmt"
	"strconv"
	"strings"
)

// fieldSet is a sorted set of unique values one cron field matches —
// spec.md §9's "ordered sorted set of integers" semantic container.
type fieldSet struct {
	values []int
	lookup map[int]bool
}

func newFieldSet(values []int) fieldSet {
	lookup := make(map[int]bool, len(values))
	for _, v := range values {
		lookup[v] = true
	}
	uniq := make([]int, 0, len(lookup))
	for v := range lookup {
		uniq = append(uniq, v)
	}
	sortInts(uniq)
	return fieldSet{values: uniq, lookup: lookup}
}

func (f fieldSet) contains(v int) bool { return f.lookup[v] }

func sortInts(vs []int) {
	for i := 1; i < len(vs); i++ {
		for j := i; j > 0 && vs[j-1] > vs[j]; j-- {
			vs[j-1], vs[j] = vs[j], vs[j-1]
		}
	}
}

// cronFields is the parsed, cached five-field expression:
// minute hour dom month dow.
type cronFields struct {
	minute fieldSet
	hour   fieldSet
	dom    fieldSet
	month  fieldSet
	dow    fieldSet
}

var fieldRanges = [5][2]int{
	{0, 59}, // minute
	{0, 23}, // hour
	{1, 31}, // day of month
	{1, 12}, // month
	{0, 6},  // day of week, Sunday = 0
}

// parseCron parses the five whitespace-separated fields of spec.md
// §4.2: *, N, N-M, A,B,C, and */N step, each bounded to its field's
// range.
func parseCron(expr string) (cronFields, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return cronFields{}, fmt.Errorf("scheduler: cron expression %q must have 5 fields, got %d", expr, len(parts))
	}
	var sets [5]fieldSet
	for i, part := range parts {
		lo, hi := fieldRanges[i][0], fieldRanges[i][1]
		vals, err := parseField(part, lo, hi)
		if err != nil {
			return cronFields{}, fmt.Errorf("scheduler: field %d (%q): %w", i, part, err)
		}
		sets[i] = newFieldSet(vals)
	}
	return cronFields{minute: sets[0], hour: sets[1], dom: sets[2], month: sets[3], dow: sets[4]}, nil
}

func parseField(field string, lo, hi int) ([]int, error) {
	var out []int
	for _, clause := range strings.Split(field, ",") {
		vals, err := parseClause(clause, lo, hi)
		if err != nil {
			return nil, err
		}
		out = append(out, vals...)
	}
	return out, nil
}

func parseClause(clause string, lo, hi int) ([]int, error) {
	step := 1
	base := clause
	if idx := strings.IndexByte(clause, '/'); idx >= 0 {
		base = clause[:idx]
		n, err := strconv.Atoi(clause[idx+1:])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid step in %q", clause)
		}
		step = n
	}

	var rangeLo, rangeHi int
	switch {
	case base == "*":
		rangeLo, rangeHi = lo, hi
	case strings.Contains(base, "-"):
		parts := strings.SplitN(base, "-", 2)
		a, err1 := strconv.Atoi(parts[0])
		b, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil || a > b {
			return nil, fmt.Errorf("invalid range %q", base)
		}
		rangeLo, rangeHi = a, b
	default:
		n, err := strconv.Atoi(base)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q", base)
		}
		rangeLo, rangeHi = n, n
	}
	if rangeLo < lo || rangeHi > hi {
		return nil, fmt.Errorf("value out of range [%d,%d]: %q", lo, hi, clause)
	}

	var out []int
	for v := rangeLo; v <= rangeHi; v += step {
		out = append(out, v)
	}
	return out, nil
}

// matches reports whether the given wall-clock fields fire this
// expression.
func (c cronFields) matches(minute, hour, dom, month, dow int) bool {
	return c.minute.contains(minute) && c.hour.contains(hour) &&
		c.dom.contains(dom) && c.month.contains(month) && c.dow.contains(dow)
}
