// Package reconcile implements create-or-update-to-match-desired-state for
// cloud resources. Callers describe the attributes a resource must have; the
// reconciler loads live state, computes the minimal delta and applies only
// the changed attributes, making every declaration idempotent.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
)

// Attributes is a desired- or live-state description keyed by dot-path
// attribute names (e.g. "Attributes.Policy").
type Attributes map[string]any

// Merge returns a copy of base with overrides applied on top.
func Merge(base, overrides Attributes) Attributes {
	out := make(Attributes, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Normalizer canonicalizes an attribute value before comparison so that
// formatting differences never register as a delta.
type Normalizer func(any) any

// JSONDocument normalizes a value holding a JSON document, either as a
// string or as decoded structures. Key order and whitespace are erased by
// round-tripping through decoded form.
func JSONDocument(v any) any {
	if s, ok := v.(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err == nil {
			return decoded
		}
		return s
	}
	return v
}

// StringSet normalizes a list whose membership matters but whose order does
// not.
func StringSet(v any) any {
	var items []string
	switch list := v.(type) {
	case []string:
		items = append(items, list...)
	case []any:
		for _, e := range list {
			items = append(items, fmt.Sprint(e))
		}
	default:
		return v
	}
	sort.Strings(items)
	return items
}

// Diff returns the attributes whose normalized required value differs from
// the normalized existing value. A key absent from existing always counts
// as different. The returned map carries the raw (un-normalized) required
// values, ready to be applied.
func Diff(required, existing Attributes, normalizers map[string]Normalizer) Attributes {
	delta := make(Attributes)
	for key, want := range required {
		have, ok := existing[key]
		if !ok {
			delta[key] = want
			continue
		}
		norm := normalizers[key]
		if norm != nil {
			want, have = norm(want), norm(have)
		}
		if !equal(want, have) {
			delta[key] = required[key]
		}
	}
	return delta
}

// equal compares two attribute values through their canonical JSON form,
// which tolerates mixed concrete types (int vs float64, []string vs []any)
// coming back from live API reads.
func equal(a, b any) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}

// Resource is a cloud resource that can be declared. Load returns nil
// attributes when the resource does not exist.
type Resource interface {
	// Kind names the resource type for logging.
	Kind() string
	// Load fetches live state for key, returning its attributes and
	// identifier, or nil attributes when absent.
	Load(ctx context.Context, key string) (Attributes, string, error)
	// Create makes the resource with the required attributes and returns
	// its identifier.
	Create(ctx context.Context, key string, attrs Attributes) (string, error)
	// Update applies only the changed attributes to an existing resource.
	Update(ctx context.Context, key string, delta Attributes) error
	// Normalizers returns per-attribute canonicalization for comparison.
	Normalizers() map[string]Normalizer
}

// Declare converges the resource identified by key to the required
// attributes: create when absent, patch the delta when drifted, no API call
// when already converged. It returns the resource identifier either way.
func Declare(ctx context.Context, r Resource, key string, required Attributes, logger *slog.Logger) (string, error) {
	existing, id, err := r.Load(ctx, key)
	if err != nil {
		return "", fmt.Errorf("loading %s %s: %w", r.Kind(), key, err)
	}

	if existing == nil {
		id, err = r.Create(ctx, key, required)
		if err != nil {
			return "", fmt.Errorf("creating %s %s: %w", r.Kind(), key, err)
		}
		logger.Info("resource created", "kind", r.Kind(), "key", key, "id", id)
		return id, nil
	}

	delta := Diff(required, existing, r.Normalizers())
	if len(delta) == 0 {
		logger.Debug("resource already converged", "kind", r.Kind(), "key", key)
		return id, nil
	}

	if err := r.Update(ctx, key, delta); err != nil {
		return "", fmt.Errorf("updating %s %s: %w", r.Kind(), key, err)
	}
	keys := make([]string, 0, len(delta))
	for k := range delta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	logger.Info("resource updated", "kind", r.Kind(), "key", key, "changed", keys)
	return id, nil
}
