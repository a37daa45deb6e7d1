package runner

import (
	"github.com/agenthub/hubd/internal/bus"
	"github.com/agenthub/hubd/internal/store"
)

// ruleMatches evaluates a StateRule's escalation condition — the
// restricted mini-language of spec.md §9: "always", "> N", "< N",
// "== V", "changed". No general expression evaluator; each condition
// is a fixed comparator against the new value (and, for "changed",
// against the prior value).
func ruleMatches(rule store.StateRule, prev interface{}, hadPrev bool, next interface{}) bool {
	switch rule.Condition {
	case "always":
		return true
	case "changed":
		if !hadPrev {
			return true
		}
		return !valuesEqual(prev, next)
	case ">":
		nf, nok := asFloat(next)
		tf, tok := asFloat(rule.Threshold)
		return nok && tok && nf > tf
	case "<":
		nf, nok := asFloat(next)
		tf, tok := asFloat(rule.Threshold)
		return nok && tok && nf < tf
	case "==":
		return valuesEqual(next, rule.Threshold)
	default:
		return false
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func valuesEqual(a, b interface{}) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	as, aok2 := a.(string)
	bs, bok2 := b.(string)
	if aok2 && bok2 {
		return as == bs
	}
	return a == b
}

// busEventFor builds the bus.Event a fired escalation rule emits for
// the Scheduler's event-trigger evaluator.
func busEventFor(eventName, agentID, key string, value interface{}) bus.Event {
	return bus.Event{
		Name: "scheduler.trigger",
		Payload: map[string]interface{}{
			"eventName": eventName,
			"agentId":   agentID,
			"key":       key,
			"value":     value,
		},
	}
}
