package types

import (
	"encoding/json"
	"math"
)

// Reserved field keys set on the experiment node of every run.
const (
	FieldExperimentNumber = "experiment_number"
	FieldErrorNumber      = "error_number"
	FieldHadError         = "had_error"
	FieldStartTime        = "experiment_start_time"
	FieldEndTime          = "experiment_end_time"
	FieldDuration         = "experiment_duration"
)

// RunState is the counter snapshot of the most recent run.
type RunState struct {
	ExperimentNumber int64 `json:"experiment_number"`
	ErrorNumber      int64 `json:"error_number"`
	HadError         bool  `json:"had_error"`
}

// Next returns the counters for the run that follows s. The experiment number
// advances only when the previous run finished cleanly; the error number
// always advances, and the new run is assumed to fail until it finishes.
func (s RunState) Next() RunState {
	next := RunState{
		ExperimentNumber: s.ExperimentNumber,
		ErrorNumber:      s.ErrorNumber + 1,
		HadError:         true,
	}
	if !s.HadError {
		next.ExperimentNumber++
	}
	return next
}

// Fields returns the counters as record fields.
func (s RunState) Fields() map[string]any {
	return map[string]any{
		FieldExperimentNumber: s.ExperimentNumber,
		FieldErrorNumber:      s.ErrorNumber,
		FieldHadError:         s.HadError,
	}
}

// StateFromFields reads the counters out of an experiment node's attributes.
// Missing or mistyped fields read as zero values.
func StateFromFields(fields map[string]any) RunState {
	hadError, _ := fields[FieldHadError].(bool)
	return RunState{
		ExperimentNumber: AsInt(fields[FieldExperimentNumber]),
		ErrorNumber:      AsInt(fields[FieldErrorNumber]),
		HadError:         hadError,
	}
}

// AsInt converts the numeric forms a counter can take after a round trip
// through JSON. Other values yield 0.
func AsInt(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		if math.Trunc(n) == n {
			return int64(n)
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
	}
	return 0
}
