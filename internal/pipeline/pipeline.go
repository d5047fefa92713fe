package pipeline

import (
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/Brownie44l1/plant-disease-api/internal/config"
	"github.com/Brownie44l1/plant-disease-api/internal/logging"
	"github.com/Brownie44l1/plant-disease-api/internal/model"
	"github.com/Brownie44l1/plant-disease-api/internal/plant"
	"github.com/Brownie44l1/plant-disease-api/internal/preprocess"
)

const defaultTopK = 3

// Opener acquires the classifier. It is called at most once per successful
// acquisition.
type Opener func() (model.Classifier, error)

type Candidate struct {
	Label      string  `json:"label"`
	ClassIndex int     `json:"classIndex"`
	Score      float32 `json:"score"`
}

type Result struct {
	PlantType  string      `json:"plantType"`
	Condition  string      `json:"condition"`
	IsHealthy  bool        `json:"isHealthy"`
	Confidence float32     `json:"confidence"`
	Success    bool        `json:"success"`
	Label      string      `json:"label"`
	ClassIndex int         `json:"classIndex"`
	Top        []Candidate `json:"top,omitempty"`
}

type Option func(*Pipeline)

func WithTopK(k int) Option {
	return func(p *Pipeline) {
		p.topK = k
	}
}

// WithMaxPixels caps width*height of decoded images; <= 0 uses
// preprocess.DefaultMaxPixels.
func WithMaxPixels(n int) Option {
	return func(p *Pipeline) {
		p.maxPixels = n
	}
}

func WithParser(parser *plant.Parser) Option {
	return func(p *Pipeline) {
		if parser != nil {
			p.parser = parser
		}
	}
}

// Pipeline turns an image into a Result. It owns the classifier from the
// first prediction until Close. Calls are serialized.
type Pipeline struct {
	mu         sync.Mutex
	catalog    *plant.Catalog
	open       Opener
	parser     *plant.Parser
	logger     *zap.Logger
	topK       int
	maxPixels  int
	classifier model.Classifier
	closed     bool
}

func New(catalog *plant.Catalog, open Opener, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		catalog: catalog,
		open:    open,
		parser:  plant.NewParser(),
		logger:  logger.Named("pipeline"),
		topK:    defaultTopK,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Open loads the label catalog and prepares an ONNX classifier opener from cfg.
// The model itself is loaded on the first prediction.
func Open(cfg *config.Config, logger *zap.Logger) (*Pipeline, error) {
	catalog, err := plant.LoadCatalog(cfg.LabelsPath)
	if err != nil {
		return nil, &model.LoadError{Asset: "labels", Path: cfg.LabelsPath, Err: err}
	}

	open := func() (model.Classifier, error) {
		return model.LoadONNX(model.Config{
			ModelPath:   cfg.ModelPath,
			LibraryPath: cfg.ORTLibraryPath,
			InputName:   cfg.InputName,
			OutputName:  cfg.OutputName,
			NumClasses:  catalog.Len(),
		})
	}
	return New(catalog, open, logger, WithTopK(cfg.TopK), WithMaxPixels(cfg.MaxImagePixels)), nil
}

// Run calls fn with p and closes p afterwards, whatever fn returns.
func Run(p *Pipeline, fn func(*Pipeline) error) (err error) {
	defer func() {
		if cerr := p.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(p)
}

func (p *Pipeline) Catalog() *plant.Catalog {
	return p.catalog
}

// Predict classifies the image file at imagePath.
func (p *Pipeline) Predict(imagePath string) (*Result, error) {
	if p.isClosed() {
		return nil, &PredictionError{Op: "load", Err: model.ErrClassifierClosed}
	}

	input, err := preprocess.File(imagePath, p.maxPixels)
	if err != nil {
		p.logger.Error("failed to preprocess image", zap.String("path", imagePath), zap.Error(err))
		return nil, &PredictionError{Op: "preprocess", Err: err}
	}
	return p.PredictTensor(input)
}

// PredictReader decodes an encoded image from r under the same size limit as
// Predict.
func (p *Pipeline) PredictReader(r io.Reader) (*Result, error) {
	if p.isClosed() {
		return nil, &PredictionError{Op: "load", Err: model.ErrClassifierClosed}
	}

	img, err := preprocess.Decode(r, p.maxPixels)
	if err != nil {
		p.logger.Error("failed to decode image", zap.Error(err))
		return nil, &PredictionError{Op: "preprocess", Err: err}
	}
	return p.PredictTensor(preprocess.Tensor(img))
}

func (p *Pipeline) PredictImage(img image.Image) (*Result, error) {
	if p.isClosed() {
		return nil, &PredictionError{Op: "load", Err: model.ErrClassifierClosed}
	}
	if img == nil {
		return nil, &PredictionError{Op: "preprocess", Err: errors.New("nil image")}
	}
	return p.PredictTensor(preprocess.Tensor(img))
}

// PredictTensor classifies an already preprocessed NHWC tensor.
func (p *Pipeline) PredictTensor(input []float32) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, &PredictionError{Op: "load", Err: model.ErrClassifierClosed}
	}
	if len(input) != preprocess.TensorLen {
		return nil, &PredictionError{Op: "preprocess", Err: fmt.Errorf("expected %d input values, got %d", preprocess.TensorLen, len(input))}
	}

	classifier, err := p.acquire()
	if err != nil {
		return nil, &PredictionError{Op: "load", Err: err}
	}

	scores, err := classifier.Classify(input)
	if err != nil {
		p.logger.Error("classification failed", zap.Error(err))
		return nil, &PredictionError{Op: "classify", Err: err}
	}
	if len(scores) != p.catalog.Len() {
		return nil, &PredictionError{Op: "classify", Err: fmt.Errorf("expected %d scores, got %d", p.catalog.Len(), len(scores))}
	}

	idx, confidence, err := model.Top1(scores)
	if err != nil {
		return nil, &PredictionError{Op: "select", Err: err}
	}
	label, _ := p.catalog.Label(idx)
	diagnosis := p.parser.Parse(label)

	result := &Result{
		PlantType:  diagnosis.PlantType,
		Condition:  diagnosis.Condition,
		IsHealthy:  diagnosis.IsHealthy,
		Confidence: confidence,
		Success:    true,
		Label:      label,
		ClassIndex: idx,
	}
	for _, r := range model.TopK(scores, p.topK) {
		l, _ := p.catalog.Label(r.Index)
		result.Top = append(result.Top, Candidate{Label: l, ClassIndex: r.Index, Score: r.Score})
	}

	p.logger.Debug("prediction complete",
		zap.String("label", label),
		zap.Int("class_index", idx),
		zap.Float32("confidence", confidence))
	return result, nil
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pipeline) acquire() (model.Classifier, error) {
	if p.closed {
		return nil, model.ErrClassifierClosed
	}
	if p.classifier != nil {
		return p.classifier, nil
	}

	classifier, err := p.open()
	if err != nil {
		p.logger.Error("failed to load classifier", zap.Error(err))
		return nil, err
	}
	p.classifier = classifier
	p.logger.Info("classifier loaded", zap.Int("classes", p.catalog.Len()))
	return classifier, nil
}

// Close releases the classifier. Later calls are no-ops and every later
// prediction fails with model.ErrClassifierClosed.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.classifier == nil {
		return nil
	}
	err := p.classifier.Close()
	p.classifier = nil
	logging.WithOperation(p.logger, "pipeline.close", "").Info("classifier released")
	return err
}
