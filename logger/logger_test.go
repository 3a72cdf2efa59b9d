package logger

import (
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Parallel()

	testDir := t.TempDir()
	filePath := filepath.Join(testDir, "dummy", "file.log")

	t.Run("rotating empty", func(t *testing.T) {
		_, err := NewLogger(LoggerConfig{
			RotatingLogsEnabled: true,
		})
		require.Error(t, err)
	})

	t.Run("rotating with file path", func(t *testing.T) {
		logger, err := NewLogger(LoggerConfig{
			RotatingLogsEnabled: true,
			LogFilePath:         filePath,
		})

		require.NoError(t, err)
		require.NotNil(t, logger)
	})

	t.Run("empty", func(t *testing.T) {
		logger, err := NewLogger(LoggerConfig{})

		require.NoError(t, err)
		require.NotNil(t, logger)
	})

	t.Run("level from string", func(t *testing.T) {
		logger, err := NewLogger(LoggerConfig{Level: "debug"})

		require.NoError(t, err)
		require.Equal(t, hclog.Debug, logger.GetLevel())

		_, err = NewLogger(LoggerConfig{Level: "loud"})
		require.Error(t, err)
	})

	t.Run("with file path", func(t *testing.T) {
		logger, err := NewLogger(LoggerConfig{
			LogFilePath: filePath,
			AppendFile:  true,
		})

		require.NoError(t, err)
		require.NotNil(t, logger)
		require.FileExists(t, filePath)
	})
}

func TestGetLogFileWriter(t *testing.T) {
	t.Parallel()

	testDir := t.TempDir()
	filePathWithExtension := filepath.Join(testDir, "dummy1", "file.log")
	filePathWithoutExtension := filepath.Join(testDir, "dummy2", "file")

	t.Run("empty", func(t *testing.T) {
		f, err := getLogFileWriter(LoggerConfig{LogFilePath: " ", AppendFile: true})
		require.NoError(t, err)
		require.Nil(t, f)
	})

	t.Run("with append", func(t *testing.T) {
		f, err := getLogFileWriter(LoggerConfig{LogFilePath: filePathWithExtension, AppendFile: true})
		require.NoError(t, err)
		require.Equal(t, filePathWithExtension, f.Name())

		f, err = getLogFileWriter(LoggerConfig{LogFilePath: filePathWithoutExtension, AppendFile: true})
		require.NoError(t, err)
		require.Equal(t, filePathWithoutExtension, f.Name())
	})

	t.Run("without append", func(t *testing.T) {
		f, err := getLogFileWriter(LoggerConfig{LogFilePath: filePathWithExtension, AppendFile: false})
		require.NoError(t, err)
		require.Regexp(t, regexp.MustCompile(fmt.Sprintf("^%s/dummy1/file_.*\\.log$", testDir)), f.Name())

		f, err = getLogFileWriter(LoggerConfig{LogFilePath: filePathWithoutExtension, AppendFile: false})
		require.NoError(t, err)
		require.Regexp(t, regexp.MustCompile(fmt.Sprintf("^%s/dummy2/file_.*$", testDir)), f.Name())
	})
}

func TestLoggerContainer(t *testing.T) {
	t.Parallel()

	t.Run("components dir", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		container := NewLoggerContainer(LoggerConfig{
			Name:          "projector",
			ComponentsDir: dir,
			AppendFile:    true,
		}, hclog.NewNullLogger())

		first, err := container.GetLogger("confirm")
		require.NoError(t, err)
		require.Equal(t, "projector.confirm", first.Name())

		second, err := container.GetLogger("confirm")
		require.NoError(t, err)
		require.Same(t, first, second)

		other, err := container.GetLogger("storage")
		require.NoError(t, err)
		require.NotSame(t, first, other)

		require.FileExists(t, filepath.Join(dir, "confirm.log"))
		require.FileExists(t, filepath.Join(dir, "storage.log"))
	})

	t.Run("shared base logger", func(t *testing.T) {
		t.Parallel()

		base := hclog.New(&hclog.LoggerOptions{Name: "projector", Output: io.Discard})
		container := NewLoggerContainer(LoggerConfig{}, base)

		named, err := container.GetLogger("storage")
		require.NoError(t, err)
		require.Equal(t, "projector.storage", named.Name())
	})

	t.Run("invalid level", func(t *testing.T) {
		t.Parallel()

		container := NewLoggerContainer(LoggerConfig{
			Level:         "loud",
			ComponentsDir: t.TempDir(),
		}, hclog.NewNullLogger())

		_, err := container.GetLogger("storage")
		require.ErrorContains(t, err, "invalid log level")
	})
}
