package executor

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/KaramelBytes/insightloom-cli/internal/dataset"
	"github.com/KaramelBytes/insightloom-cli/internal/intent"
)

// predicate compiles a filter. Null cells only match is_null.
func predicate(f intent.Filter) (func(dataset.Value) bool, error) {
	switch f.Op {
	case intent.OpIsNull:
		return func(v dataset.Value) bool { return v == nil }, nil
	case intent.OpNotNull:
		return func(v dataset.Value) bool { return v != nil }, nil
	case intent.OpIn:
		if len(f.Values) == 0 {
			return nil, fmt.Errorf("in needs values")
		}
		vals := f.Values
		return func(v dataset.Value) bool {
			if v == nil {
				return false
			}
			for _, want := range vals {
				if equal(v, want) {
					return true
				}
			}
			return false
		}, nil
	case intent.OpEq, intent.OpNe:
		if f.Value == nil {
			return nil, fmt.Errorf("%s needs a value", f.Op)
		}
		want, ne := f.Value, f.Op == intent.OpNe
		return func(v dataset.Value) bool {
			if v == nil {
				return false
			}
			return equal(v, want) != ne
		}, nil
	case intent.OpGt, intent.OpGte, intent.OpLt, intent.OpLte:
		if f.Value == nil {
			return nil, fmt.Errorf("%s needs a value", f.Op)
		}
		want, op := f.Value, f.Op
		return func(v dataset.Value) bool {
			c, ok := order(v, want)
			if !ok {
				return false
			}
			switch op {
			case intent.OpGt:
				return c > 0
			case intent.OpGte:
				return c >= 0
			case intent.OpLt:
				return c < 0
			}
			return c <= 0
		}, nil
	}
	return nil, fmt.Errorf("unsupported operator %q", f.Op)
}

// equal compares a cell with a literal from the intent, coercing the literal
// to the cell's kind. Text compares case-insensitively.
func equal(cell dataset.Value, lit any) bool {
	switch c := cell.(type) {
	case int64, float64:
		x, _ := dataset.Float(c)
		y, ok := literalFloat(lit)
		return ok && x == y
	case bool:
		switch l := lit.(type) {
		case bool:
			return c == l
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(l))
			return err == nil && b == c
		}
		y, ok := literalFloat(lit)
		return ok && (y != 0) == c
	case time.Time:
		t, ok := literalTime(lit)
		return ok && c.Equal(t)
	case string:
		return strings.EqualFold(strings.TrimSpace(c), strings.TrimSpace(fmt.Sprint(lit)))
	}
	return false
}

// order compares a non-null numeric or time cell with a literal.
func order(cell dataset.Value, lit any) (int, bool) {
	switch c := cell.(type) {
	case int64, float64:
		x, _ := dataset.Float(c)
		y, ok := literalFloat(lit)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case time.Time:
		t, ok := literalTime(lit)
		if !ok {
			return 0, false
		}
		return c.Compare(t), true
	}
	return 0, false
}

func literalFloat(lit any) (float64, bool) {
	switch l := lit.(type) {
	case float64:
		return l, true
	case int64:
		return float64(l), true
	case int:
		return float64(l), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(l), 64)
		return f, err == nil
	}
	return 0, false
}

func literalTime(lit any) (time.Time, bool) {
	switch l := lit.(type) {
	case time.Time:
		return l, true
	case string:
		v := dataset.ParseCell(l, dataset.DefaultParseOptions())
		t, ok := v.(time.Time)
		return t, ok
	}
	return time.Time{}, false
}
