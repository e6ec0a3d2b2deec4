// Package service sequences validation, inference, persistence and report
// rendering for one MRI submission.
package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mri-inference-service/condition"
	"mri-inference-service/data"
	"mri-inference-service/imaging"
	"mri-inference-service/metrics"
	"mri-inference-service/model"
	"mri-inference-service/patient"
)

// Recorder appends prediction rows. *data.PredictionRepository implements it.
type Recorder interface {
	Create(ctx context.Context, prediction *data.Prediction) error
}

// Renderer produces the report document.
type Renderer interface {
	Generate(rec patient.Record, m condition.Mapping, scan image.Image) ([]byte, error)
}

// Archive keeps a copy of the raw scan. It is optional.
type Archive interface {
	ArchiveScan(ctx context.Context, analysisID, filename, contentType string, raw []byte) (string, error)
}

// Result is what a completed run hands back. Report is nil when rendering
// failed; RecordID is empty when persistence failed. Both cases are listed in
// Warnings.
type Result struct {
	AnalysisID string
	Patient    patient.Record
	Condition  condition.Mapping
	RecordID   string
	ScanKey    string
	Report     []byte
	Warnings   []Warning
	Stage      Stage
	Trace      []Stage

	// Scores ranks every class by probability, highest first. It is nil
	// when the classifier only reports an index.
	Scores []model.Score
}

// Degraded reports whether any best-effort stage failed.
func (r *Result) Degraded() bool {
	return len(r.Warnings) > 0
}

type Pipeline struct {
	inference      *InferenceService
	recorder       Recorder
	renderer       Renderer
	archive        Archive
	log            zerolog.Logger
	metrics        *metrics.Metrics
	persistTimeout time.Duration
	now            func() time.Time
}

type Option func(*Pipeline)

func WithArchive(a Archive) Option {
	return func(p *Pipeline) { p.archive = a }
}

func WithLogger(log zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClassifyTimeout bounds each classifier call.
func WithClassifyTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.inference.Timeout = d }
}

// WithPersistTimeout bounds each insert.
func WithPersistTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.persistTimeout = d }
}

func NewPipeline(classifier Classifier, recorder Recorder, renderer Renderer, opts ...Option) *Pipeline {
	p := &Pipeline{
		inference: NewInferenceService(classifier, 0),
		recorder:  recorder,
		renderer:  renderer,
		log:       zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// run tracks the stage machine for one submission.
type run struct {
	p       *Pipeline
	log     zerolog.Logger
	result  *Result
	started time.Time
}

func (r *run) enter(s Stage) {
	r.finishStage()
	r.result.Stage = s
	r.result.Trace = append(r.result.Trace, s)
	r.started = r.p.now()
	r.log.Debug().Str("stage", s.String()).Msg("entering stage")
}

func (r *run) finishStage() {
	if s := r.result.Stage; s != Idle && !r.started.IsZero() {
		r.p.metrics.ObserveStage(s.String(), r.p.now().Sub(r.started))
	}
}

func (r *run) fail(err error, validation patient.ValidationResult) error {
	stage := r.result.Stage
	r.finishStage()
	r.result.Stage = Failed
	r.result.Trace = append(r.result.Trace, Failed)
	r.p.metrics.Failure(stage.String())
	r.log.Error().Err(err).Str("stage", stage.String()).Msg("pipeline halted")
	return &StageError{Stage: stage, Err: err, Validation: validation}
}

func (r *run) warn(err error) {
	stage := r.result.Stage
	r.result.Warnings = append(r.result.Warnings, Warning{Stage: stage, Err: err})
	r.p.metrics.Warning(stage.String())
	r.log.Warn().Err(err).Str("stage", stage.String()).Msg("stage degraded, continuing")
}

// Run processes one submission start to finish. It returns an error only
// when the run halts before a diagnosis exists (invalid input, undecodable
// image or classifier failure). Archive, persistence and report failures
// are reported as warnings on the result.
func (p *Pipeline) Run(ctx context.Context, sub patient.Submission) (*Result, error) {
	r := &run{
		p:      p,
		result: &Result{AnalysisID: uuid.NewString(), Stage: Idle, Trace: []Stage{Idle}},
	}
	r.log = p.log.With().Str("analysis_id", r.result.AnalysisID).Logger()

	r.enter(Validating)
	rec, validation := patient.Validate(sub)
	if !validation.OK() {
		return nil, r.fail(validation.Err(), validation)
	}
	r.result.Patient = rec

	r.enter(Decoding)
	scan, err := imaging.Decode(sub.Image)
	if err != nil {
		return nil, r.fail(err, patient.ValidationResult{})
	}

	r.enter(Preprocessing)
	tensor := imaging.Preprocess(scan.Image)

	r.enter(Classifying)
	inference, err := p.inference.Infer(ctx, tensor)
	if err != nil {
		return nil, r.fail(err, patient.ValidationResult{})
	}
	r.result.Scores = inference.Scores

	r.enter(Mapping)
	r.result.Condition = condition.Map(inference.Index)
	if r.result.Condition.Label == condition.Unknown {
		r.log.Warn().Int("class_index", inference.Index).Msg("classifier returned an unmapped class")
	}

	if p.archive != nil {
		r.enter(Archiving)
		key, err := p.archive.ArchiveScan(ctx, r.result.AnalysisID, sub.Filename, scan.ContentType, scan.Raw)
		if err != nil {
			r.warn(err)
		} else {
			r.result.ScanKey = key
		}
	}

	r.enter(Persisting)
	if err := p.persist(ctx, r.result); err != nil {
		r.warn(err)
	}

	r.enter(Reporting)
	doc, err := p.renderer.Generate(rec, r.result.Condition, scan.Image)
	if err != nil {
		r.warn(err)
	} else {
		r.result.Report = doc
	}

	r.enter(Done)
	p.metrics.Prediction(string(r.result.Condition.Label))
	r.log.Info().
		Str("condition", string(r.result.Condition.Label)).
		Str("record_id", r.result.RecordID).
		Bool("report", r.result.Report != nil).
		Int("warnings", len(r.result.Warnings)).
		Msg("prediction complete")
	return r.result, nil
}

func (p *Pipeline) persist(ctx context.Context, res *Result) error {
	if p.recorder == nil {
		return fmt.Errorf("%w: no prediction recorder configured", data.ErrPersistence)
	}
	if p.persistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.persistTimeout)
		defer cancel()
	}

	row := &data.Prediction{
		ID:        uuid.New(),
		Name:      res.Patient.Name,
		Age:       res.Patient.Age,
		Gender:    string(res.Patient.Gender),
		Contact:   res.Patient.Contact,
		Condition: string(res.Condition.Label),
	}
	if res.ScanKey != "" {
		key := res.ScanKey
		row.ImageKey = &key
	}
	if err := p.recorder.Create(ctx, row); err != nil {
		if !errors.Is(err, data.ErrPersistence) {
			err = fmt.Errorf("%w: %v", data.ErrPersistence, err)
		}
		return err
	}
	res.RecordID = row.ID.String()
	return nil
}

// IsInputError reports whether err came from the caller's submission rather
// than from the service: invalid fields, an undecodable image or a tensor of
// the wrong shape.
func IsInputError(err error) bool {
	return errors.Is(err, patient.ErrInvalidName) ||
		errors.Is(err, patient.ErrInvalidPhone) ||
		errors.Is(err, patient.ErrMissingField) ||
		errors.Is(err, patient.ErrInvalidAge) ||
		errors.Is(err, patient.ErrInvalidGender) ||
		errors.Is(err, imaging.ErrImageDecode) ||
		errors.Is(err, model.ErrInvalidTensorShape)
}
