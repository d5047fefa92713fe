package model

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/plant-disease-api/internal/preprocess"
)

type Config struct {
	ModelPath   string
	LibraryPath string
	InputName   string
	OutputName  string
	NumClasses  int
}

func (c *Config) applyDefaults() {
	if c.InputName == "" {
		c.InputName = "input"
	}
	if c.OutputName == "" {
		c.OutputName = "output"
	}
}

// ONNXClassifier runs a single-batch 224x224x3 float model through ONNX Runtime.
// It owns its session and tensors until Close.
type ONNXClassifier struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	numClasses   int
}

var _ Classifier = (*ONNXClassifier)(nil)

// The ORT environment is process wide; classifiers share it by reference count.
var (
	envMu      sync.Mutex
	envRefs    int
	envLibrary string
)

// acquireEnvironment initializes ORT on first use. An empty libraryPath accepts
// whatever library is already loaded; a different non-empty one is an error.
func acquireEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs > 0 {
		if libraryPath != "" && libraryPath != envLibrary {
			return fmt.Errorf("ONNX environment already initialized with library %q, cannot switch to %q", envLibrary, libraryPath)
		}
		envRefs++
		return nil
	}

	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	envLibrary = libraryPath
	envRefs++
	return nil
}

func releaseEnvironment() {
	envMu.Lock()
	defer envMu.Unlock()

	envRefs--
	if envRefs == 0 {
		envLibrary = ""
		ort.DestroyEnvironment()
	}
}

// LoadONNX creates the session and its input/output tensors. Anything created
// before a failure is released again.
func LoadONNX(cfg Config) (*ONNXClassifier, error) {
	cfg.applyDefaults()

	if cfg.NumClasses <= 0 {
		return nil, &LoadError{Asset: "model", Path: cfg.ModelPath, Err: fmt.Errorf("invalid class count %d", cfg.NumClasses)}
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, &LoadError{Asset: "model", Path: cfg.ModelPath, Err: err}
	}

	if err := acquireEnvironment(cfg.LibraryPath); err != nil {
		return nil, &LoadError{Asset: "model", Path: cfg.ModelPath, Err: err}
	}

	inputShape := ort.NewShape(1, preprocess.InputSize, preprocess.InputSize, preprocess.Channels)
	outputShape := ort.NewShape(1, int64(cfg.NumClasses))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		releaseEnvironment()
		return nil, &LoadError{Asset: "model", Path: cfg.ModelPath, Err: fmt.Errorf("failed to create input tensor: %w", err)}
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		releaseEnvironment()
		return nil, &LoadError{Asset: "model", Path: cfg.ModelPath, Err: fmt.Errorf("failed to create output tensor: %w", err)}
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		releaseEnvironment()
		return nil, &LoadError{Asset: "model", Path: cfg.ModelPath, Err: fmt.Errorf("failed to create ONNX session: %w", err)}
	}

	return &ONNXClassifier{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		numClasses:   cfg.NumClasses,
	}, nil
}

func (c *ONNXClassifier) Classify(input []float32) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil, ErrClassifierClosed
	}
	if len(input) != preprocess.TensorLen {
		return nil, fmt.Errorf("expected %d input values, got %d", preprocess.TensorLen, len(input))
	}

	copy(c.inputTensor.GetData(), input)

	if err := c.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	scores := make([]float32, c.numClasses)
	copy(scores, c.outputTensor.GetData())
	return scores, nil
}

// Close releases the session and tensors. Only the first call does anything.
func (c *ONNXClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}

	c.inputTensor.Destroy()
	c.outputTensor.Destroy()
	err := c.session.Destroy()
	c.session = nil
	c.inputTensor = nil
	c.outputTensor = nil
	releaseEnvironment()
	return err
}
