package runlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/supervisor"
)

// RunFileName is the JSONL file written inside each run directory.
const RunFileName = "run.jsonl"

// Line kinds of the JSONL run format.
const (
	kindHeader     = "header"
	kindTick       = "tick"
	kindTransition = "transition"
	kindFooter     = "footer"
)

// line is one JSONL row. Exactly one payload field is set.
type line struct {
	Kind       string            `json:"kind"`
	Header     *Header           `json:"header,omitempty"`
	Entry      *Entry            `json:"entry,omitempty"`
	Transition *supervisor.Event `json:"transition,omitempty"`
	Footer     *Footer           `json:"footer,omitempty"`
}

// #region write
// WriteJSONL encodes the record: header, ticks, transitions, footer, one per line.
func WriteJSONL(w io.Writer, r *Record) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	if err := enc.Encode(line{Kind: kindHeader, Header: &r.Header}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	for i := range r.Entries {
		if err := enc.Encode(line{Kind: kindTick, Entry: &r.Entries[i]}); err != nil {
			return fmt.Errorf("encode tick %d: %w", i, err)
		}
	}
	for i := range r.Transitions {
		if err := enc.Encode(line{Kind: kindTransition, Transition: &r.Transitions[i]}); err != nil {
			return fmt.Errorf("encode transition %d: %w", i, err)
		}
	}
	if err := enc.Encode(line{Kind: kindFooter, Footer: &r.Footer}); err != nil {
		return fmt.Errorf("encode footer: %w", err)
	}
	return bw.Flush()
}

// FileSink persists records as <Dir>/<run_id>/run.jsonl.
type FileSink struct {
	Dir string
}

// PathFor returns the JSONL path of a run.
func (f FileSink) PathFor(runID string) string {
	return filepath.Join(f.Dir, runID, RunFileName)
}

// Persist implements Sink.
func (f FileSink) Persist(r *Record) error {
	path := f.PathFor(r.Header.RunID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create run file: %w", err)
	}
	if err := WriteJSONL(file, r); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close run file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename run file: %w", err)
	}
	return nil
}

// #endregion write

// #region read
// ReadJSONL decodes a record written by WriteJSONL. A missing footer is allowed so
// truncated files still load; the footer reason is then empty.
func ReadJSONL(rd io.Reader) (*Record, error) {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var rec *Record
	n := 0
	for sc.Scan() {
		n++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var l line
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			return nil, fmt.Errorf("decode line %d: %w", n, err)
		}
		if rec == nil && l.Kind != kindHeader {
			return nil, fmt.Errorf("line %d: expected header, got %q", n, l.Kind)
		}
		switch l.Kind {
		case kindHeader:
			if rec != nil || l.Header == nil {
				return nil, fmt.Errorf("line %d: unexpected header", n)
			}
			rec = NewRecord(*l.Header)
		case kindTick:
			if l.Entry == nil {
				return nil, fmt.Errorf("line %d: tick without entry", n)
			}
			if err := rec.Append(*l.Entry); err != nil {
				return nil, fmt.Errorf("line %d: %w", n, err)
			}
		case kindTransition:
			if l.Transition != nil {
				rec.Transitions = append(rec.Transitions, *l.Transition)
			}
		case kindFooter:
			if l.Footer != nil {
				rec.Footer = *l.Footer
			}
		default:
			return nil, fmt.Errorf("line %d: unknown kind %q", n, l.Kind)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read run file: %w", err)
	}
	if rec == nil {
		return nil, errors.New("run file is empty")
	}
	return rec, nil
}

// LoadJSONL reads a record from disk.
func LoadJSONL(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open run file: %w", err)
	}
	defer f.Close()
	rec, err := ReadJSONL(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return rec, nil
}

// #endregion read
