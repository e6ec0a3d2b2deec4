package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mri-inference-service/condition"
	"mri-inference-service/data"
	"mri-inference-service/metrics"
	"mri-inference-service/model"
	"mri-inference-service/patient"
	"mri-inference-service/report"
	"mri-inference-service/service"
)

type stubClassifier struct {
	index int
}

func (s stubClassifier) Classify(model.Tensor) (int, error) {
	return s.index, nil
}

type scoringClassifier struct {
	probabilities []float32
}

func (s scoringClassifier) Classify(model.Tensor) (int, error) {
	return model.Argmax(s.probabilities), nil
}

func (s scoringClassifier) Predict(model.Tensor) ([]float32, error) {
	return s.probabilities, nil
}

func (s scoringClassifier) NumClasses() int {
	return model.NumClasses
}

type brokenRenderer struct{}

func (brokenRenderer) Generate(patient.Record, condition.Mapping, image.Image) ([]byte, error) {
	return nil, report.ErrReportRender
}

type memoryStore struct {
	reports map[string][]byte
	err     error
}

func (s *memoryStore) ArchiveReport(_ context.Context, analysisID string, pdf []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	key := "reports/" + analysisID + "/" + report.Filename
	s.reports[key] = pdf
	return key, nil
}

func (s *memoryStore) GetPresignedURL(_ context.Context, objectName string) (string, error) {
	return "http://minio.local/" + objectName, nil
}

func newRepo(t *testing.T) *data.PredictionRepository {
	t.Helper()
	db, err := data.Open(data.Config{Driver: "sqlite", DSN: ":memory:", MaxOpenConns: 1}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&data.Prediction{}))
	t.Cleanup(func() { _ = data.Close(db) })
	return data.NewPredictionRepository(db)
}

func newTestApp(t *testing.T, index int, renderer service.Renderer, store ObjectStore) (*fiber.App, *data.PredictionRepository) {
	t.Helper()
	repo := newRepo(t)
	pipeline := service.NewPipeline(stubClassifier{index: index}, repo, renderer)
	app := NewApp(Deps{
		Pipeline: pipeline,
		History:  repo,
		Store:    store,
		Metrics:  metrics.New(),
		Log:      zerolog.Nop(),
	})
	return app, repo
}

func scanPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 240, 240))
	for y := 0; y < 240; y++ {
		for x := 0; x < 240; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x + y)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, path string, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if file != nil {
		part, err := w.CreateFormFile("file", "scan.png")
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func janeDoe() map[string]string {
	return map[string]string{
		"name":    "Jane Doe",
		"age":     "70",
		"gender":  "Female",
		"contact": "+12345678901",
	}
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	app, _ := newTestApp(t, 2, report.NewGenerator(), nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", decode[map[string]string](t, resp)["status"])
}

func TestPredictionJSON(t *testing.T) {
	app, _ := newTestApp(t, 0, report.NewGenerator(report.WithCompression(false)), nil)

	resp, err := app.Test(uploadRequest(t, "/api/predictions", janeDoe(), scanPNG(t)), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[PredictionResponse](t, resp)
	assert.Equal(t, "Mild Dementia", body.Condition)
	assert.Equal(t, 0, body.ClassIndex)
	assert.Len(t, body.Precautions, 8)
	assert.NotEmpty(t, body.AnalysisID)
	assert.NotEmpty(t, body.RecordID)
	assert.Empty(t, body.Warnings)
	assert.True(t, bytes.HasPrefix(body.Report, []byte("%PDF")))
}

func TestPredictionIncludesLabelledScores(t *testing.T) {
	repo := newRepo(t)
	pipeline := service.NewPipeline(scoringClassifier{probabilities: []float32{0.05, 0.05, 0.1, 0.8}}, repo, report.NewGenerator())
	app := NewApp(Deps{Pipeline: pipeline, History: repo, Log: zerolog.Nop()})

	resp, err := app.Test(uploadRequest(t, "/api/predictions", janeDoe(), scanPNG(t)), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[PredictionResponse](t, resp)
	assert.Equal(t, "Very Mild Dementia", body.Condition)
	require.Len(t, body.Scores, 4)
	assert.Equal(t, Score{Condition: "Very Mild Dementia", Probability: 0.8}, body.Scores[0])
	assert.Equal(t, "No Dementia", body.Scores[1].Condition)
}

func TestPredictionValidationErrors(t *testing.T) {
	app, repo := newTestApp(t, 2, report.NewGenerator(), nil)

	fields := janeDoe()
	fields["name"] = "John123"
	fields["contact"] = "12"
	resp, err := app.Test(uploadRequest(t, "/api/predictions", fields, scanPNG(t)), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decode[ErrorResponse](t, resp)
	assert.Len(t, body.Errors, 2)

	rows, err := repo.FindAll(context.Background(), data.Pagination{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPredictionMissingFile(t *testing.T) {
	app, _ := newTestApp(t, 2, report.NewGenerator(), nil)

	resp, err := app.Test(uploadRequest(t, "/api/predictions", janeDoe(), nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPredictionUndecodableImage(t *testing.T) {
	app, _ := newTestApp(t, 2, report.NewGenerator(), nil)

	resp, err := app.Test(uploadRequest(t, "/api/predictions", janeDoe(), []byte("not an image")), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestPredictionArchivesReport(t *testing.T) {
	store := &memoryStore{reports: map[string][]byte{}}
	app, _ := newTestApp(t, 1, report.NewGenerator(), store)

	resp, err := app.Test(uploadRequest(t, "/api/predictions", janeDoe(), scanPNG(t)), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[PredictionResponse](t, resp)
	assert.Equal(t, "Moderate Dementia", body.Condition)
	require.Contains(t, store.reports, body.ReportKey)
	assert.Equal(t, body.Report, store.reports[body.ReportKey])
}

func TestPredictionReportArchiveFailureIsWarning(t *testing.T) {
	store := &memoryStore{reports: map[string][]byte{}, err: errors.New("bucket gone")}
	app, _ := newTestApp(t, 2, report.NewGenerator(), store)

	resp, err := app.Test(uploadRequest(t, "/api/predictions", janeDoe(), scanPNG(t)), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[PredictionResponse](t, resp)
	assert.Empty(t, body.ReportKey)
	require.Len(t, body.Warnings, 1)
	assert.Contains(t, body.Warnings[0], "bucket gone")
}

func TestReportDownload(t *testing.T) {
	app, _ := newTestApp(t, 2, report.NewGenerator(), nil)

	resp, err := app.Test(uploadRequest(t, "/api/predictions/report", janeDoe(), scanPNG(t)), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), report.Filename)
	assert.Equal(t, "No Dementia", resp.Header.Get("X-Condition"))
	assert.NotEmpty(t, resp.Header.Get("X-Record-ID"))

	pdf, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF")))
}

func TestReportDownloadWithoutDocument(t *testing.T) {
	app, _ := newTestApp(t, 3, brokenRenderer{}, nil)

	resp, err := app.Test(uploadRequest(t, "/api/predictions/report", janeDoe(), scanPNG(t)), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Very Mild Dementia", resp.Header.Get("X-Condition"))
}

func TestHistory(t *testing.T) {
	store := &memoryStore{reports: map[string][]byte{}}
	app, repo := newTestApp(t, 2, report.NewGenerator(), store)

	scanKey := "scans/abc/original.png"
	row := &data.Prediction{Name: "Jane Doe", Age: 70, Gender: "Female", Contact: "+12345678901", Condition: "No Dementia", ImageKey: &scanKey}
	require.NoError(t, repo.Create(context.Background(), row))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/predictions?page=1&page_size=5", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[struct {
		PageSize    int               `json:"page_size"`
		Predictions []data.Prediction `json:"predictions"`
	}](t, resp)
	assert.Equal(t, 5, list.PageSize)
	require.Len(t, list.Predictions, 1)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/predictions/"+row.ID.String(), nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[PredictionView](t, resp)
	assert.Equal(t, "No Dementia", view.Condition)
	assert.Equal(t, "http://minio.local/"+scanKey, view.ScanURL)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/predictions/not-a-uuid", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	app, _ := newTestApp(t, 2, report.NewGenerator(), nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}
