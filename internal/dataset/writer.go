package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/angleyanalbedo/generatestcode/internal/task"
)

// Paths maps streams to files. An empty path disables the stream.
type Paths struct {
	SFT      string `mapstructure:"sft" yaml:"sft"`
	DPO      string `mapstructure:"dpo" yaml:"dpo"`
	Negative string `mapstructure:"negative" yaml:"negative"`
	History  string `mapstructure:"history" yaml:"history"`
}

// Of returns the path configured for a stream.
func (p Paths) Of(s Stream) string {
	switch s {
	case StreamSFT:
		return p.SFT
	case StreamDPO:
		return p.DPO
	case StreamNegative:
		return p.Negative
	case StreamHistory:
		return p.History
	}
	return ""
}

// Files returns the configured paths in stream order.
func (p Paths) Files() []string {
	var out []string
	for _, s := range []Stream{StreamSFT, StreamDPO, StreamNegative, StreamHistory} {
		if path := p.Of(s); path != "" {
			out = append(out, path)
		}
	}
	return out
}

// Writer appends JSON lines to the stream files. Records are never rewritten.
// It is safe for concurrent use.
type Writer struct {
	mu    sync.Mutex
	paths Paths
	files map[Stream]*os.File
}

// OpenWriter opens every configured stream for appending.
func OpenWriter(paths Paths) (*Writer, error) {
	w := &Writer{paths: paths, files: make(map[Stream]*os.File)}
	for _, s := range []Stream{StreamSFT, StreamDPO, StreamNegative, StreamHistory} {
		path := paths.Of(s)
		if path == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			w.Close()
			return nil, fmt.Errorf("create dir for %s: %w", s, err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("open %s stream: %w", s, err)
		}
		w.files[s] = f
	}
	return w, nil
}

// Enabled reports whether a stream has a file.
func (w *Writer) Enabled(s Stream) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.files[s]
	return ok
}

// Append writes v as one line. Appending to a disabled stream is a no-op.
func (w *Writer) Append(s Stream, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", s, err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	f, ok := w.files[s]
	if !ok {
		return nil
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append %s record: %w", s, err)
	}
	return nil
}

// WriteAssembly appends every record in a.
func (w *Writer) WriteAssembly(a Assembly) error {
	var errs []error
	if a.SFT != nil {
		errs = append(errs, w.Append(StreamSFT, a.SFT))
	}
	if a.DPO != nil {
		errs = append(errs, w.Append(StreamDPO, a.DPO))
	}
	if a.Negative != nil {
		errs = append(errs, w.Append(StreamNegative, a.Negative))
	}
	return errors.Join(errs...)
}

// Close syncs and closes all files.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	for s, f := range w.files {
		if err := f.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync %s: %w", s, err))
		}
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s, err))
		}
		delete(w.files, s)
	}
	return errors.Join(errs...)
}

// LoadSeenTasks collects the task descriptions already present in earlier
// output: the seed each SFT or history line was derived from, and its
// instruction with the instruction prefix removed. Missing files are skipped;
// malformed lines are ignored.
func LoadSeenTasks(paths ...string) (map[string]struct{}, error) {
	seen := make(map[string]struct{})
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := scanInstructions(path, seen); err != nil {
			return nil, err
		}
	}
	return seen, nil
}

func scanInstructions(path string, seen map[string]struct{}) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec struct {
			Instruction string `json:"instruction"`
			Seed        string `json:"seed"`
			Metadata    struct {
				Seed string `json:"seed"`
			} `json:"metadata"`
		}
		if json.Unmarshal(line, &rec) != nil {
			continue
		}
		for _, s := range []string{rec.Seed, rec.Metadata.Seed} {
			if s = strings.TrimSpace(s); s != "" {
				seen[s] = struct{}{}
			}
		}
		if rec.Instruction != "" {
			desc := strings.TrimSpace(strings.TrimPrefix(rec.Instruction, task.InstructionPrefix))
			seen[desc] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// ReadSFT returns the SFT records in path.
func ReadSFT(path string) ([]SFTRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var out []SFTRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec SFTRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("parse %s line %d: %w", path, lineNo, err)
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}
