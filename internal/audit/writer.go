package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/violationsqa/violationsqa/internal/config"
)

// Writer appends records as JSON lines. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	out    io.Writer
	rotate func() error
	close  func() error
}

// NewWriter writes to a size-rotated file. Rotated backups are named
// <name>-<UTC timestamp><ext> next to the active file.
func NewWriter(cfg config.AuditConfig) *Writer {
	logger := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return &Writer{out: logger, rotate: logger.Rotate, close: logger.Close}
}

// NewStreamWriter writes to w without rotation.
func NewStreamWriter(w io.Writer) *Writer {
	return &Writer{out: w}
}

func (w *Writer) Write(record Record) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(line); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return nil
}

// Rotate closes the active file and starts a new one. Stream writers ignore it.
func (w *Writer) Rotate() error {
	if w.rotate == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotate()
}

func (w *Writer) Close() error {
	if w.close == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.close()
}
