package service

import (
	"fmt"

	"mri-inference-service/patient"
)

type Stage int

const (
	Idle Stage = iota
	Validating
	Decoding
	Preprocessing
	Classifying
	Mapping
	Archiving
	Persisting
	Reporting
	Done
	Failed
)

var stageNames = [...]string{
	Idle:          "idle",
	Validating:    "validating",
	Decoding:      "decoding",
	Preprocessing: "preprocessing",
	Classifying:   "classifying",
	Mapping:       "mapping",
	Archiving:     "archiving",
	Persisting:    "persisting",
	Reporting:     "reporting",
	Done:          "done",
	Failed:        "failed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// StageError is returned when a run stops in Failed. Validation is set when
// the run failed while validating.
type StageError struct {
	Stage      Stage
	Err        error
	Validation patient.ValidationResult
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Warning records a best-effort stage that did not complete.
type Warning struct {
	Stage Stage
	Err   error
}

func (w Warning) Error() string {
	return fmt.Sprintf("%s: %v", w.Stage, w.Err)
}

func (w Warning) Unwrap() error {
	return w.Err
}
