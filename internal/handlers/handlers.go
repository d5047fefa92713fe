package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Brownie44l1/plant-disease-api/internal/logging"
	"github.com/Brownie44l1/plant-disease-api/internal/model"
	"github.com/Brownie44l1/plant-disease-api/internal/pipeline"
	"github.com/Brownie44l1/plant-disease-api/internal/preprocess"
)

const maxUploadSize = 10 << 20

// Predictor is the part of the pipeline the HTTP layer needs.
type Predictor interface {
	Predict(imagePath string) (*pipeline.Result, error)
	PredictReader(r io.Reader) (*pipeline.Result, error)
	PredictTensor(input []float32) (*pipeline.Result, error)
}

type PathRequest struct {
	ImagePath string `json:"imagePath"`
}

type TensorRequest struct {
	Image []float32 `json:"image"`
}

// ErrorResponse is returned instead of a result on any failure.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errOutsideRoot = errors.New("imagePath is outside the image root")

type Handler struct {
	predictor Predictor
	imageRoot string
	logger    *zap.Logger
}

// NewHandler serves predictions from predictor. Paths sent to /predict must
// resolve inside imageRoot.
func NewHandler(predictor Predictor, imageRoot string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		predictor: predictor,
		imageRoot: imageRoot,
		logger:    logger.Named("handlers"),
	}
}

// Routes registers every endpoint on a new mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", enableCORS(h.Health))
	mux.HandleFunc("/predict", enableCORS(h.Predict))
	mux.HandleFunc("/predict/image", enableCORS(h.PredictFromImage))
	mux.HandleFunc("/predict/tensor", enableCORS(h.PredictFromTensor))
	return mux
}

func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Predict classifies an image that already exists on the server's filesystem.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	log := h.requestLogger("handlers.predict")

	var req PathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON")
		return
	}
	if req.ImagePath == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "imagePath is required")
		return
	}

	path, err := h.resolveImagePath(req.ImagePath)
	if err != nil {
		log.Warn("rejected image path", zap.String("image_path", req.ImagePath), zap.Error(err))
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", errOutsideRoot.Error())
		return
	}

	result, err := h.predictor.Predict(path)
	h.respond(w, log, result, err)
}

func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	log := h.requestLogger("handlers.predict_image")

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "failed to parse form")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "no image file provided, use 'image' as the form field name")
		return
	}
	defer file.Close()

	log.Debug("received image", zap.String("filename", header.Filename), zap.Int64("size", header.Size))

	result, err := h.predictor.PredictReader(file)
	h.respond(w, log, result, err)
}

// PredictFromTensor accepts an already preprocessed 224x224x3 NHWC tensor.
func (h *Handler) PredictFromTensor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	log := h.requestLogger("handlers.predict_tensor")

	var req TensorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON")
		return
	}
	if len(req.Image) != preprocess.TensorLen {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST",
			fmt.Sprintf("expected %d values, got %d", preprocess.TensorLen, len(req.Image)))
		return
	}

	result, err := h.predictor.PredictTensor(req.Image)
	h.respond(w, log, result, err)
}

func (h *Handler) requestLogger(operation string) *zap.Logger {
	return logging.WithOperation(h.logger, operation, uuid.NewString())
}

// resolveImagePath joins relative paths onto the image root and rejects any
// path whose cleaned form leaves it.
func (h *Handler) resolveImagePath(imagePath string) (string, error) {
	if h.imageRoot == "" {
		return "", errors.New("no image root configured")
	}
	root, err := filepath.Abs(h.imageRoot)
	if err != nil {
		return "", err
	}

	path := imagePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errOutsideRoot
	}
	return path, nil
}

func (h *Handler) respond(w http.ResponseWriter, log *zap.Logger, result *pipeline.Result, err error) {
	if err != nil {
		status, code := classify(err)
		log.Error("prediction failed", zap.String("code", code), zap.Error(err))
		writeError(w, status, code, errorMessages[code])
		return
	}
	log.Info("prediction served",
		zap.String("plant_type", result.PlantType),
		zap.String("condition", result.Condition),
		zap.Float32("confidence", result.Confidence))
	writeJSON(w, http.StatusOK, result)
}

// Clients get a fixed message per code; the cause is only logged.
var errorMessages = map[string]string{
	"IMAGE_DECODE_ERROR":    "image could not be decoded",
	"CLASSIFIER_CLOSED":     "classifier is closed",
	"CLASSIFIER_LOAD_ERROR": "classifier is unavailable",
	"PREDICTION_ERROR":      "prediction failed",
}

func classify(err error) (int, string) {
	var loadErr *model.LoadError
	switch {
	case errors.Is(err, preprocess.ErrImageDecode):
		return http.StatusBadRequest, "IMAGE_DECODE_ERROR"
	case errors.Is(err, model.ErrClassifierClosed):
		return http.StatusServiceUnavailable, "CLASSIFIER_CLOSED"
	case errors.As(err, &loadErr):
		return http.StatusServiceUnavailable, "CLASSIFIER_LOAD_ERROR"
	default:
		return http.StatusInternalServerError, "PREDICTION_ERROR"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
