package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 32*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// ReadJSONL decodes every line of every <prefix>-*.jsonl.zst file in dir,
// oldest file first, calling fn with the raw line.
func ReadJSONL(dir, prefix string, fn func(line []byte) error) error {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return err
	}
	sort.Strings(matches)
	for _, path := range matches {
		if err := readFile(path, fn); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func readFile(path string, fn func([]byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()
	br := bufio.NewReader(dec)
	for {
		line, err := br.ReadBytes('\n')
		if len(strings.TrimSpace(string(line))) > 0 {
			if ferr := fn(line); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// EditEntry is one applied terrain edit.
type EditEntry struct {
	Time     time.Time  `json:"time"`
	WorldID  string     `json:"world_id"`
	Center   [3]float64 `json:"center"`
	Radius   float64    `json:"radius"`
	Delta    float64    `json:"delta"`
	Material string     `json:"material"`
	Chunks   [][3]int   `json:"chunks"`
	Voxels   int        `json:"voxels"`
}

// SaveEntry is one chunk written to the archive.
type SaveEntry struct {
	Time    time.Time `json:"time"`
	WorldID string    `json:"world_id"`
	Chunk   [3]int    `json:"chunk"`
	Version uint64    `json:"version"`
	Digest  string    `json:"digest"`
	Bytes   int       `json:"bytes"`
}

// EditLogger journals edits and saves of one world (compressed).
type EditLogger struct {
	edits *JSONLZstdWriter
	saves *JSONLZstdWriter
}

func NewEditLogger(worldDir string) *EditLogger {
	return &EditLogger{
		edits: NewJSONLZstdWriter(filepath.Join(worldDir, "journal"), "edits"),
		saves: NewJSONLZstdWriter(filepath.Join(worldDir, "journal"), "saves"),
	}
}

func (l *EditLogger) WriteEdit(e EditEntry) error { return l.edits.Write(e) }
func (l *EditLogger) WriteSave(e SaveEntry) error { return l.saves.Write(e) }

func (l *EditLogger) Close() error {
	return errors.Join(l.edits.Close(), l.saves.Close())
}

// ReadEdits returns every journaled edit under worldDir in write order.
func ReadEdits(worldDir string) ([]EditEntry, error) {
	var out []EditEntry
	err := ReadJSONL(filepath.Join(worldDir, "journal"), "edits", func(line []byte) error {
		var e EditEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}
