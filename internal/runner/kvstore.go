package runner

import (
	"encoding/json"
	"fmt"

	"github.com/agenthub/hubd/internal/store"
)

const (
	maxKVKeys        = 1000
	maxKVValueBytes  = 1 << 20  // 1 MB
	maxKVTotalBytes  = 10 << 20 // 10 MB
)

// kvSize returns the JSON-encoded size of a value, used for quota checks.
func kvSize(v interface{}) (int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

func kvTotalSize(values map[string]interface{}) int {
	total := 0
	for _, v := range values {
		n, _ := kvSize(v)
		total += n
	}
	return total
}

// checkQuota enforces the StateStore/StorageStore quotas of spec.md §3:
// 1000 keys max, 1MB per value, 10MB total. A violation leaves the
// store unchanged.
func checkQuota(kv store.KVStore, key string, value interface{}) error {
	size, err := kvSize(value)
	if err != nil {
		return fmt.Errorf("kvstore: marshal value for %q: %w", key, err)
	}
	if size > maxKVValueBytes {
		return fmt.Errorf("kvstore: value for %q exceeds %d bytes", key, maxKVValueBytes)
	}
	_, exists := kv.Values[key]
	if !exists && len(kv.Values) >= maxKVKeys {
		return fmt.Errorf("kvstore: key limit of %d reached", maxKVKeys)
	}
	total := kvTotalSize(kv.Values)
	if !exists {
		total += size
	} else {
		prevSize, _ := kvSize(kv.Values[key])
		total = total - prevSize + size
	}
	if total > maxKVTotalBytes {
		return fmt.Errorf("kvstore: total store size would exceed %d bytes", maxKVTotalBytes)
	}
	return nil
}

// GetStateStore returns a copy of the StateStore for tool/Admin reads.
func (r *Runner) GetStateStore() store.KVStore {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyKV(r.stateStore)
}

// GetStorageStore returns a copy of the StorageStore.
func (r *Runner) GetStorageStore() store.KVStore {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyKV(r.storageStore)
}

// SetStorageValue sets key in the StorageStore. No escalation rules apply.
func (r *Runner) SetStorageValue(key string, value interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := checkQuota(r.storageStore, key, value); err != nil {
		return err
	}
	if r.storageStore.Values == nil {
		r.storageStore.Values = map[string]interface{}{}
	}
	r.storageStore.Values[key] = value
	return nil
}

// SetStateValue sets key in the StateStore and fires matching
// escalation rules: a rule either pushes a message onto the runner's
// own inbox or emits a named event onto the shared bus for the
// Scheduler's event-trigger evaluator to pick up.
func (r *Runner) SetStateValue(key string, value interface{}) error {
	r.mu.Lock()
	if err := checkQuota(r.stateStore, key, value); err != nil {
		r.mu.Unlock()
		return err
	}
	if r.stateStore.Values == nil {
		r.stateStore.Values = map[string]interface{}{}
	}
	prev, hadPrev := r.stateStore.Values[key]
	r.stateStore.Values[key] = value
	rules := r.stateStore.Rules
	r.mu.Unlock()

	for _, rule := range rules {
		if rule.Key != key {
			continue
		}
		if !ruleMatches(rule, prev, hadPrev, value) {
			continue
		}
		if rule.EventName != "" {
			if r.bus != nil {
				r.bus.Broadcast(busEventFor(rule.EventName, r.id, key, value))
			}
			continue
		}
		if rule.Message != "" {
			r.QueueMessage(rule.Message)
		}
	}
	return nil
}

// DeleteStorageValue removes key from the StorageStore. Deleting an
// absent key is a no-op.
func (r *Runner) DeleteStorageValue(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.storageStore.Values, key)
}

// DeleteStateValue removes key from the StateStore. Escalation rules
// bound to the key are left in place; they simply won't fire again
// until the key is re-set.
func (r *Runner) DeleteStateValue(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stateStore.Values, key)
}

// EscalationRules returns a copy of the StateStore's escalation rules.
func (r *Runner) EscalationRules() []store.StateRule {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]store.StateRule, len(r.stateStore.Rules))
	copy(out, r.stateStore.Rules)
	return out
}

// SetEscalationRule adds or replaces (by Key) an escalation rule.
func (r *Runner) SetEscalationRule(rule store.StateRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.stateStore.Rules {
		if existing.Key == rule.Key {
			r.stateStore.Rules[i] = rule
			return
		}
	}
	r.stateStore.Rules = append(r.stateStore.Rules, rule)
}

// ClearEscalationRule removes the escalation rule bound to key, if any.
func (r *Runner) ClearEscalationRule(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.stateStore.Rules[:0]
	for _, rule := range r.stateStore.Rules {
		if rule.Key != key {
			out = append(out, rule)
		}
	}
	r.stateStore.Rules = out
}

func copyKV(kv store.KVStore) store.KVStore {
	out := store.KVStore{Values: make(map[string]interface{}, len(kv.Values)), Rules: kv.Rules}
	for k, v := range kv.Values {
		out.Values[k] = v
	}
	return out
}
