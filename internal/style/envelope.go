// Package style computes manuscript style metrics: n-gram repetition,
// tone drift against a rolling baseline, and dialogue tics. Counting and
// merging are pure functions over snapshots; persistence lives in the
// Analyzer.
package style

import (
	"encoding/json"
	"fmt"
)

// envelopeVersion is bumped whenever a metric payload shape changes.
// A version mismatch on read means the cached metric is recomputed.
const envelopeVersion = 1

// envelope is the versioned wrapper every stored metric payload rides in.
type envelope struct {
	V    int             `json:"v"`
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalMetric wraps a payload in the versioned envelope.
func MarshalMetric(kind string, data any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshaling %s metric: %w", kind, err)
	}
	env, err := json.Marshal(envelope{V: envelopeVersion, Kind: kind, Data: raw})
	if err != nil {
		return "", err
	}
	return string(env), nil
}

// UnmarshalMetric unwraps an envelope into out. It returns false (without
// error) when the envelope cannot be parsed, the version differs, or the
// kind does not match: stale or foreign payloads are recompute signals,
// not failures.
func UnmarshalMetric(metricJSON, kind string, out any) bool {
	var env envelope
	if err := json.Unmarshal([]byte(metricJSON), &env); err != nil {
		return false
	}
	if env.V != envelopeVersion || env.Kind != kind {
		return false
	}
	return json.Unmarshal(env.Data, out) == nil
}
