package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

//nolint:gochecknoglobals // single process-wide log file
var (
	logFile   *os.File
	logTee    bool
	logFileMu sync.RWMutex
)

// InitializeLogFile opens a timestamped log file in logDir. With tee set, lines
// go to both stderr and the file; otherwise only to the file.
func InitializeLogFile(logDir string, tee bool) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}

	name := fmt.Sprintf("specforge-%s.log", time.Now().UTC().Format("20060102-150405"))
	f, err := os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	logFileMu.Lock()
	defer logFileMu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	logTee = tee
	return nil
}

// CloseLogFile closes the log file opened by InitializeLogFile, if any.
func CloseLogFile() error {
	logFileMu.Lock()
	defer logFileMu.Unlock()

	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	if err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}

func defaultOutput() io.Writer {
	logFileMu.RLock()
	defer logFileMu.RUnlock()

	switch {
	case logFile == nil:
		return os.Stderr
	case logTee:
		return io.MultiWriter(os.Stderr, logFile)
	default:
		return logFile
	}
}
