package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/mattjoyce/sketchar/internal/config"
	"github.com/mattjoyce/sketchar/internal/log"
	"github.com/mattjoyce/sketchar/internal/metrics"
)

// ErrUnavailable is returned when no model credential was configured.
var ErrUnavailable = errors.New("object detection is unavailable: no vision API key configured")

// ErrInvalidImage reports an upload that cannot be decoded.
var ErrInvalidImage = errors.New("image could not be decoded")

const detectPrompt = `Detect all objects in this image and return a JSON array.
Each entry should have:
- name (string)
- bounding_box: [x1, y1, x2, y2] in pixel coordinates
Example:
[
{"name": "cup", "bounding_box": [120, 80, 180, 200]},
{"name": "table", "bounding_box": [0, 250, 400, 400]}
]`

// Model sends one image plus prompt to a multimodal model and returns its
// text reply.
type Model interface {
	Generate(ctx context.Context, image []byte, mimeType, prompt string) (string, error)
}

// Result is the detection output returned to clients.
type Result struct {
	Objects []Object `json:"objects"`
	Image   string   `json:"image"`
}

// Detector finds objects in images and draws them.
type Detector struct {
	model   Model
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewDetector builds a Gemini-backed detector. Without an API key the
// detector is created in unavailable mode and every call fails with
// ErrUnavailable.
func NewDetector(ctx context.Context, cfg config.VisionConfig, m *metrics.Collector) (*Detector, error) {
	logger := log.WithComponent("vision")
	if cfg.APIKey == "" {
		logger.Warn("vision API key not set, object detection disabled")
		return &Detector{metrics: m, logger: logger}, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	logger.Info("object detection enabled", "model", cfg.Model)
	return &Detector{
		model:   &geminiModel{client: client, name: cfg.Model},
		metrics: m,
		logger:  logger,
	}, nil
}

// NewWithModel builds a detector around an explicit model.
func NewWithModel(model Model, m *metrics.Collector) *Detector {
	return &Detector{model: model, metrics: m, logger: log.WithComponent("vision")}
}

// Available reports whether detection can be attempted.
func (d *Detector) Available() bool { return d != nil && d.model != nil }

// Detect asks the model for objects in data and returns them with an
// annotated copy of the image.
func (d *Detector) Detect(ctx context.Context, data []byte) (*Result, error) {
	if !d.Available() {
		return nil, ErrUnavailable
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	start := time.Now()
	text, err := d.model.Generate(ctx, data, http.DetectContentType(data), detectPrompt)
	if err != nil {
		d.metrics.RecordDetection("model_error", time.Since(start))
		return nil, fmt.Errorf("vision model call: %w", err)
	}

	objects, err := ParseObjects(text)
	if err != nil {
		d.metrics.RecordDetection("parse_error", time.Since(start))
		d.logger.Warn("could not parse model reply", "error", err)
		return nil, err
	}
	d.metrics.RecordDetection("ok", time.Since(start))
	d.logger.Debug("objects detected", "count", len(objects), "duration", time.Since(start))

	url, err := DataURL(Annotate(img, objects))
	if err != nil {
		return nil, fmt.Errorf("encode annotated image: %w", err)
	}
	return &Result{Objects: objects, Image: url}, nil
}

type geminiModel struct {
	client *genai.Client
	name   string
}

func (g *geminiModel) Generate(ctx context.Context, data []byte, mimeType, prompt string) (string, error) {
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
			{Text: prompt},
		},
	}}
	resp, err := g.client.Models.GenerateContent(ctx, g.name, contents, nil)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", fmt.Errorf("received empty response from Gemini API")
	}
	return resp.Text(), nil
}
