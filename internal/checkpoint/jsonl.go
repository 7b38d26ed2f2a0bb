package checkpoint

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// maxLineSize bounds a single JSON line; long conversations can exceed the
// bufio default of 64KiB.
const maxLineSize = 64 << 20

// ErrBlankLine is returned for an empty line inside a JSONL file. Record i
// is always physical line i+1, so a gap cannot be skipped.
var ErrBlankLine = eris.New("blank line")

// readJSONL decodes every line of path into a T.
func readJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "checkpoint: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	var out []T
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			return nil, eris.Wrapf(ErrBlankLine, "checkpoint: %s line %d", filepath.Base(path), line)
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, eris.Wrapf(err, "checkpoint: %s line %d", filepath.Base(path), line)
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "checkpoint: scan %s", path)
	}
	return out, nil
}

// encodeJSONL renders items one per line. Non-ASCII text is written as-is.
func encodeJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, it := range items {
		if err := enc.Encode(it); err != nil {
			return nil, eris.Wrap(err, "checkpoint: encode line")
		}
	}
	return buf.Bytes(), nil
}

// writeFileAtomic replaces path with data via a synced temp file and rename,
// so readers never observe a partially written file.
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return eris.Wrapf(err, "checkpoint: create temp in %s", dir)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return eris.Wrapf(err, "checkpoint: write %s", tmpName)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return eris.Wrapf(err, "checkpoint: sync %s", tmpName)
	}
	if err = tmp.Close(); err != nil {
		return eris.Wrapf(err, "checkpoint: close %s", tmpName)
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return eris.Wrapf(err, "checkpoint: chmod %s", tmpName)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return eris.Wrapf(err, "checkpoint: rename to %s", path)
	}
	return nil
}
