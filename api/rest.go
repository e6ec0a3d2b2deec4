// Package api exposes the prediction pipeline over REST and gRPC.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"mri-inference-service/condition"
	"mri-inference-service/data"
	"mri-inference-service/metrics"
	"mri-inference-service/model"
	"mri-inference-service/patient"
	"mri-inference-service/report"
	"mri-inference-service/service"
)

// Runner runs the prediction pipeline. *service.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, sub patient.Submission) (*service.Result, error)
}

// History reads persisted predictions.
type History interface {
	FindById(ctx context.Context, id string) (*data.Prediction, error)
	FindAll(ctx context.Context, pagination data.Pagination) ([]data.Prediction, error)
}

// ObjectStore archives rendered reports and signs download links. It is
// optional.
type ObjectStore interface {
	ArchiveReport(ctx context.Context, analysisID string, pdf []byte) (string, error)
	GetPresignedURL(ctx context.Context, objectName string) (string, error)
}

type Deps struct {
	Pipeline    Runner
	History     History
	Store       ObjectStore
	Metrics     *metrics.Metrics
	Log         zerolog.Logger
	BodyLimitMB int
}

type PredictionResponse struct {
	AnalysisID        string    `json:"analysis_id"`
	AnalysisTimestamp time.Time `json:"analysis_timestamp"`
	Condition         string    `json:"condition"`
	ClassIndex        int       `json:"class_index"`
	Precautions       []string  `json:"precautions,omitempty"`
	Message           string    `json:"message,omitempty"`
	Scores            []Score   `json:"scores,omitempty"`
	RecordID          string    `json:"record_id,omitempty"`
	ReportKey         string    `json:"report_key,omitempty"`
	Warnings          []string  `json:"warnings,omitempty"`
	Report            []byte    `json:"report,omitempty"`
}

// Score is one class probability, labelled for the caller.
type Score struct {
	Condition   string  `json:"condition"`
	Probability float32 `json:"probability"`
}

type ErrorResponse struct {
	Error  string   `json:"error"`
	Errors []string `json:"errors,omitempty"`
}

type PredictionView struct {
	data.Prediction
	ScanURL string `json:"scan_url,omitempty"`
}

// NewApp builds the fiber application with every route registered.
func NewApp(deps Deps) *fiber.App {
	limit := deps.BodyLimitMB
	if limit <= 0 {
		limit = 10
	}
	app := fiber.New(fiber.Config{
		BodyLimit:             limit << 20,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(RequestLogger(deps.Log))

	app.Get("/health", HandleHealth)
	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics.Handler()))
	}

	predictions := app.Group("/api/predictions")
	predictions.Post("/", HandlePrediction(deps.Pipeline, deps.Store, deps.Log))
	predictions.Post("/report", HandleReportDownload(deps.Pipeline, deps.Log))
	if deps.History != nil {
		predictions.Get("/", HandleListPredictions(deps.History))
		predictions.Get("/:id", HandleGetPrediction(deps.History, deps.Store, deps.Log))
	}

	return app
}

// RequestLogger logs one line per request.
func RequestLogger(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Dur("latency", time.Since(start)).
			Msg("request")
		return err
	}
}

func HandleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy"})
}

// readSubmission collects the form. A missing file is left empty so the
// validator can report it together with every other problem.
func readSubmission(c *fiber.Ctx) (patient.Submission, error) {
	sub := patient.Submission{
		Name:    c.FormValue("name"),
		Age:     c.FormValue("age"),
		Gender:  c.FormValue("gender"),
		Contact: c.FormValue("contact"),
	}

	file, err := c.FormFile("file")
	if err != nil {
		return sub, nil
	}
	sub.Filename = file.Filename

	fileContent, err := file.Open()
	if err != nil {
		return sub, fmt.Errorf("failed to open file: %w", err)
	}
	defer fileContent.Close()

	sub.Image, err = io.ReadAll(fileContent)
	if err != nil {
		return sub, fmt.Errorf("failed to read file: %w", err)
	}
	return sub, nil
}

// runPipeline reads the form and runs the pipeline, writing an error
// response itself when the run halts. A nil result means a response has
// already been sent.
func runPipeline(c *fiber.Ctx, pipeline Runner, log zerolog.Logger) (*service.Result, error) {
	sub, err := readSubmission(c)
	if err != nil {
		log.Error().Err(err).Msg("failed to read upload")
		return nil, c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "Failed to read file"})
	}

	res, err := pipeline.Run(c.UserContext(), sub)
	if err == nil {
		return res, nil
	}
	return nil, writePipelineError(c, err)
}

func writePipelineError(c *fiber.Ctx, err error) error {
	var stageErr *service.StageError
	if errors.As(err, &stageErr) && stageErr.Stage == service.Validating {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:  "Invalid submission",
			Errors: stageErr.Validation.Messages(),
		})
	}
	if service.IsInputError(err) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(ErrorResponse{Error: err.Error()})
	}
	if errors.Is(err, model.ErrModelNotFound) || errors.Is(err, model.ErrModelClosed) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "Model unavailable"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "Inference failed"})
}

func HandlePrediction(pipeline Runner, store ObjectStore, log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := runPipeline(c, pipeline, log)
		if res == nil {
			return err
		}

		response := PredictionResponse{
			AnalysisID:        res.AnalysisID,
			AnalysisTimestamp: time.Now(),
			Condition:         string(res.Condition.Label),
			ClassIndex:        res.Condition.Index,
			Precautions:       res.Condition.Precautions,
			Message:           res.Condition.Message,
			RecordID:          res.RecordID,
			Report:            res.Report,
		}
		for _, s := range res.Scores {
			response.Scores = append(response.Scores, Score{
				Condition:   string(condition.Map(s.Index).Label),
				Probability: s.Probability,
			})
		}
		for _, w := range res.Warnings {
			response.Warnings = append(response.Warnings, w.Error())
		}

		if store != nil && res.Report != nil {
			key, err := store.ArchiveReport(c.UserContext(), res.AnalysisID, res.Report)
			if err != nil {
				log.Warn().Err(err).Str("analysis_id", res.AnalysisID).Msg("failed to archive report")
				response.Warnings = append(response.Warnings, "report archive: "+err.Error())
			} else {
				response.ReportKey = key
			}
		}

		return c.JSON(response)
	}
}

// HandleReportDownload runs the pipeline and answers with the PDF itself.
// The diagnosis travels in X-Condition so it reaches the caller even when
// the document could not be produced.
func HandleReportDownload(pipeline Runner, log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := runPipeline(c, pipeline, log)
		if res == nil {
			return err
		}

		c.Set("X-Analysis-ID", res.AnalysisID)
		c.Set("X-Condition", string(res.Condition.Label))
		if res.RecordID != "" {
			c.Set("X-Record-ID", res.RecordID)
		}

		if res.Report == nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":     "Report could not be generated",
				"condition": res.Condition.Label,
			})
		}

		c.Set(fiber.HeaderContentType, "application/pdf")
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%s", report.Filename))
		return c.Send(res.Report)
	}
}

func HandleListPredictions(history History) fiber.Handler {
	return func(c *fiber.Ctx) error {
		pagination := data.Pagination{
			Page:     c.QueryInt("page", 1),
			PageSize: c.QueryInt("page_size", 20),
		}.Normalize()

		predictions, err := history.FindAll(c.UserContext(), pagination)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "Failed to fetch history"})
		}

		return c.JSON(fiber.Map{
			"page":        pagination.Page,
			"page_size":   pagination.PageSize,
			"predictions": predictions,
		})
	}
}

func HandleGetPrediction(history History, store ObjectStore, log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		prediction, err := history.FindById(c.UserContext(), c.Params("id"))
		if err != nil {
			if errors.Is(err, data.ErrNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "Prediction not found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "Failed to fetch prediction"})
		}

		view := PredictionView{Prediction: *prediction}
		if store != nil && prediction.ImageKey != nil {
			url, err := store.GetPresignedURL(c.UserContext(), *prediction.ImageKey)
			if err != nil {
				log.Warn().Err(err).Str("object", *prediction.ImageKey).Msg("failed to sign scan url")
			} else {
				view.ScanURL = url
			}
		}
		return c.JSON(view)
	}
}
