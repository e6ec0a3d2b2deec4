package service

import (
	"context"
	"fmt"
	"time"

	"mri-inference-service/model"
)

// Classifier maps a preprocessed tensor to a class index. *model.ONNXModel
// is the production implementation.
type Classifier interface {
	Classify(input model.Tensor) (int, error)
}

// Scorer is implemented by classifiers that expose the whole probability
// vector. When available it is used instead of Classify so the scores can be
// reported alongside the label.
type Scorer interface {
	Predict(input model.Tensor) ([]float32, error)
	NumClasses() int
}

// Inference is the outcome of one classifier call. Scores is nil when the
// classifier is not a Scorer.
type Inference struct {
	Index  int
	Scores []model.Score
}

// InferenceService bounds a classifier call by an optional timeout.
type InferenceService struct {
	Model   Classifier
	Timeout time.Duration
}

func NewInferenceService(m Classifier, timeout time.Duration) *InferenceService {
	return &InferenceService{Model: m, Timeout: timeout}
}

// Infer classifies input. When a timeout is set and expires, the wait is
// abandoned and the inference goroutine is left to finish on its own.
func (s *InferenceService) Infer(ctx context.Context, input model.Tensor) (Inference, error) {
	if s.Timeout <= 0 {
		return s.infer(input)
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	type outcome struct {
		inference Inference
		err       error
	}
	done := make(chan outcome, 1)
	go func() {
		inference, err := s.infer(input)
		done <- outcome{inference, err}
	}()

	select {
	case o := <-done:
		return o.inference, o.err
	case <-ctx.Done():
		return Inference{Index: -1}, fmt.Errorf("classification abandoned after %s: %w", s.Timeout, ctx.Err())
	}
}

func (s *InferenceService) infer(input model.Tensor) (Inference, error) {
	scorer, ok := s.Model.(Scorer)
	if !ok {
		index, err := s.Model.Classify(input)
		return Inference{Index: index}, err
	}

	probabilities, err := scorer.Predict(input)
	if err != nil {
		return Inference{Index: -1}, err
	}
	if want := scorer.NumClasses(); len(probabilities) != want {
		return Inference{Index: -1}, fmt.Errorf("%w: expected %d probabilities, got %d", model.ErrUnexpectedOutput, want, len(probabilities))
	}
	return Inference{
		Index:  model.Argmax(probabilities),
		Scores: model.TopK(probabilities, len(probabilities)),
	}, nil
}
