package model

import (
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	ErrModelNotFound = errors.New("model file not found")
	ErrModelClosed   = errors.New("model is closed")
	// ErrUnexpectedOutput means the model produced a probability vector of
	// the wrong length.
	ErrUnexpectedOutput = errors.New("unexpected model output")
)

// Config describes where the classifier lives and how its graph is wired.
type Config struct {
	// Path to the .onnx model file.
	Path string
	// SharedLibraryPath overrides the onnxruntime library location when set.
	SharedLibraryPath string
	InputName         string
	OutputName        string
	InputShape        []int64
	OutputShape       []int64
}

// DefaultConfig returns the settings for the dementia classifier exported
// from Keras: input "input_1" [1,176,176,3] NHWC, output "dense_1" [1,4].
func DefaultConfig(path string) Config {
	return Config{
		Path:        path,
		InputName:   "input_1",
		OutputName:  "dense_1",
		InputShape:  InputShape,
		OutputShape: []int64{1, NumClasses},
	}
}

// ONNXModel wraps an ONNX Runtime session bound to fixed input and output
// tensors. The bound tensors are shared, so inference is serialized.
type ONNXModel struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputShape   []int64
	outputShape  []int64
}

// NewONNXModel loads the model described by cfg. A missing model file is
// reported as ErrModelNotFound before the runtime is initialized.
func NewONNXModel(cfg Config) (*ONNXModel, error) {
	if err := checkModelFile(cfg.Path); err != nil {
		return nil, err
	}
	if len(cfg.InputShape) == 0 {
		cfg.InputShape = InputShape
	}
	if len(cfg.OutputShape) == 0 {
		cfg.OutputShape = []int64{1, NumClasses}
	}

	if cfg.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		_ = ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	inputTensor, err := ort.NewTensor(ort.NewShape(cfg.InputShape...), make([]float32, elements(cfg.InputShape)))
	if err != nil {
		_ = ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(cfg.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		_ = ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.Path,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		_ = ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create session (check input/output node names): %w", err)
	}

	return &ONNXModel{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputShape:   cfg.InputShape,
		outputShape:  cfg.OutputShape,
	}, nil
}

func checkModelFile(path string) error {
	if path == "" {
		return fmt.Errorf("%w: no path configured", ErrModelNotFound)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrModelNotFound, path)
		}
		return fmt.Errorf("failed to stat model file %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrModelNotFound, path)
	}
	return nil
}

// Predict runs inference and returns the class probability vector.
func (m *ONNXModel) Predict(input Tensor) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil, ErrModelClosed
	}
	if err := input.CheckShape(m.inputShape); err != nil {
		return nil, err
	}

	copy(m.inputTensor.GetData(), input.Data)

	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("failed to run inference: %w", err)
	}

	outputData := m.outputTensor.GetData()
	result := make([]float32, len(outputData))
	copy(result, outputData)
	return result, nil
}

// Classify returns the index of the most probable class.
func (m *ONNXModel) Classify(input Tensor) (int, error) {
	probabilities, err := m.Predict(input)
	if err != nil {
		return -1, err
	}
	return Argmax(probabilities), nil
}

// Close releases the session, its tensors and the runtime environment.
// Closing twice returns ErrModelClosed.
func (m *ONNXModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return ErrModelClosed
	}

	if m.inputTensor != nil {
		m.inputTensor.Destroy()
		m.inputTensor = nil
	}
	if m.outputTensor != nil {
		m.outputTensor.Destroy()
		m.outputTensor = nil
	}
	m.session.Destroy()
	m.session = nil
	return ort.DestroyEnvironment()
}

func (m *ONNXModel) InputShape() []int64 {
	return m.inputShape
}

// NumClasses is the length of the probability vector Predict returns.
func (m *ONNXModel) NumClasses() int {
	return int(m.outputShape[len(m.outputShape)-1])
}
