package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mri-inference-service/config"
	"mri-inference-service/model"
)

func execute(t *testing.T, args ...string) (*config.Context, error) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	ctx := &config.Context{}
	root := RootCommand(ctx)
	root.SetArgs(args)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	return ctx, root.Execute()
}

func TestPredictRefusesMissingModel(t *testing.T) {
	image := filepath.Join(t.TempDir(), "scan.png")
	require.NoError(t, os.WriteFile(image, []byte("png"), 0o600))
	t.Setenv("MRI_MODEL_PATH", filepath.Join(t.TempDir(), "absent.onnx"))
	t.Setenv("MRI_DATABASE_DRIVER", "sqlite")

	ctx, err := execute(t, "predict", "--log-level", "disabled",
		"--name", "Jane Doe", "--age", "70", "--gender", "Female",
		"--contact", "+12345678901", "--image", image)

	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrModelNotFound)
	require.NotNil(t, ctx.Settings)
	assert.Equal(t, "disabled", ctx.Settings.Log.Level)
}

func TestServeRefusesMissingModel(t *testing.T) {
	t.Setenv("MRI_MODEL_PATH", filepath.Join(t.TempDir(), "absent.onnx"))

	_, err := execute(t, "serve", "--log-level", "disabled")
	assert.ErrorIs(t, err, model.ErrModelNotFound)
}

func TestPredictRequiresImage(t *testing.T) {
	_, err := execute(t, "predict", "--name", "Jane Doe")
	assert.Error(t, err)
}

func TestInvalidConfigFails(t *testing.T) {
	t.Setenv("MRI_DATABASE_DRIVER", "oracle")

	_, err := execute(t, "serve")
	assert.Error(t, err)
}
