// Package checkpoint persists batch progress: it loads input batches and
// prior results, journals completions as chunk files, and merges those
// chunks into one result file per input source.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/batchquery/internal/model"
)

// ErrInputMissing is returned when the input directory is absent or holds no
// batch files.
var ErrInputMissing = eris.New("input batches missing")

const (
	batchExt     = ".jsonl"
	resultPrefix = "result_"
	chunkPrefix  = "tmp_"
)

// Source is one input batch file and its aligned results.
type Source struct {
	ID       string
	Path     string
	Requests []model.Request
	Results  []model.Result
}

// Pending returns the number of records whose result is not a success.
func (s *Source) Pending() int {
	n := 0
	for _, r := range s.Results {
		if !r.Success {
			n++
		}
	}
	return n
}

// RecoverReport summarizes one merge pass.
type RecoverReport struct {
	ChunksMerged   int
	EntriesApplied int
	EntriesSkipped int
	FilesWritten   int
	Unreadable     []string
}

// Store holds every source batch of a run in memory. It is not safe for
// concurrent mutation; the batch coordinator is its only writer.
type Store struct {
	inputDir  string
	outputDir string
	runID     string
	sources   []*Source
	byID      map[string]*Source
	nowFunc   func() time.Time
}

// Open scans inputDir for batch files, loads prior results from outputDir
// (created if absent), replays any chunk files left by an earlier run, and
// returns the populated store. Replayed chunks stay on disk until Recover
// has persisted them. runID only feeds chunk file naming.
func Open(inputDir, outputDir, runID string) (*Store, error) {
	info, err := os.Stat(inputDir)
	if err != nil {
		if isNotExist(err) {
			return nil, eris.Wrapf(ErrInputMissing, "checkpoint: input dir %s does not exist", inputDir)
		}
		return nil, eris.Wrapf(err, "checkpoint: stat %s", inputDir)
	}
	if !info.IsDir() {
		return nil, eris.Wrapf(ErrInputMissing, "checkpoint: %s is not a directory", inputDir)
	}

	paths, err := filepath.Glob(filepath.Join(inputDir, "*"+batchExt))
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: glob input")
	}
	if len(paths) == 0 {
		return nil, eris.Wrapf(ErrInputMissing, "checkpoint: no %s files in %s", batchExt, inputDir)
	}
	sort.Strings(paths)

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "checkpoint: create output dir %s", outputDir)
	}

	s := &Store{
		inputDir:  inputDir,
		outputDir: outputDir,
		runID:     runID,
		byID:      make(map[string]*Source, len(paths)),
		nowFunc:   time.Now,
	}
	for _, p := range paths {
		src, err := s.loadSource(p)
		if err != nil {
			return nil, err
		}
		s.sources = append(s.sources, src)
		s.byID[src.ID] = src
	}
	if err := s.replayChunks(); err != nil {
		return nil, err
	}
	return s, nil
}

// replayChunks applies leftover chunk files to memory without removing them.
// Unreadable chunks are skipped here; Recover reports them.
func (s *Store) replayChunks() error {
	chunks, err := s.ChunkFiles()
	if err != nil {
		return err
	}
	applied := 0
	for _, path := range chunks {
		entries, err := readJSONL[model.ChunkEntry](path)
		if err != nil {
			zap.L().Warn("unreadable chunk not replayed", zap.String("chunk", path), zap.Error(err))
			continue
		}
		for _, e := range entries {
			if err := s.Apply(e.Source, e.Index, e.Result()); err != nil {
				zap.L().Warn("skipping chunk entry", zap.String("chunk", filepath.Base(path)), zap.Error(err))
				continue
			}
			applied++
		}
	}
	if len(chunks) > 0 {
		zap.L().Info("replayed leftover chunks",
			zap.Int("chunks", len(chunks)),
			zap.Int("entries", applied),
		)
	}
	return nil
}

func (s *Store) loadSource(path string) (*Source, error) {
	id := strings.TrimSuffix(filepath.Base(path), batchExt)

	reqs, err := readJSONL[model.Request](path)
	if err != nil {
		return nil, err
	}
	for i, r := range reqs {
		if err := r.Validate(); err != nil {
			return nil, eris.Wrapf(err, "checkpoint: %s record %d", filepath.Base(path), i)
		}
	}

	results := make([]model.Result, len(reqs))
	for i := range results {
		results[i] = model.DefaultResult()
	}

	prior := s.resultPath(id)
	if _, err := os.Stat(prior); err == nil {
		loaded, err := readJSONL[model.Result](prior)
		if err != nil {
			return nil, err
		}
		if len(loaded) != len(reqs) {
			zap.L().Warn("prior result length differs from source; reconciling by index",
				zap.String("source", id),
				zap.Int("records", len(reqs)),
				zap.Int("results", len(loaded)),
			)
		}
		copy(results, loaded)
	}

	return &Source{ID: id, Path: path, Requests: reqs, Results: results}, nil
}

// Sources returns the loaded batches ordered by source id.
func (s *Store) Sources() []*Source {
	return s.sources
}

// Source returns the batch with the given id.
func (s *Store) Source(id string) (*Source, bool) {
	src, ok := s.byID[id]
	return src, ok
}

// OutputDir returns the directory results and chunks are written to.
func (s *Store) OutputDir() string {
	return s.outputDir
}

// Total returns the number of records across all sources.
func (s *Store) Total() int {
	n := 0
	for _, src := range s.sources {
		n += len(src.Requests)
	}
	return n
}

// Pending returns the number of records not yet successful.
func (s *Store) Pending() int {
	n := 0
	for _, src := range s.sources {
		n += src.Pending()
	}
	return n
}

// Apply overwrites the in-memory result of one record. A failure never
// replaces a success: successful records are final.
func (s *Store) Apply(source string, index int, res model.Result) error {
	src, ok := s.byID[source]
	if !ok {
		return eris.Errorf("checkpoint: unknown source %q", source)
	}
	if index < 0 || index >= len(src.Results) {
		return eris.Errorf("checkpoint: index %d out of range for %s (%d records)", index, source, len(src.Results))
	}
	if src.Results[index].Success && !res.Success {
		return nil
	}
	src.Results[index] = res
	return nil
}

// AppendChunk journals entries as one new chunk file and returns its path.
// An empty slice writes nothing.
func (s *Store) AppendChunk(entries []model.ChunkEntry) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}
	data, err := encodeJSONL(entries)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.outputDir, s.chunkName(data))
	if err := writeFileAtomic(path, data); err != nil {
		return "", eris.Wrap(err, "checkpoint: append chunk")
	}
	return path, nil
}

// chunkName derives a unique, otherwise meaningless, file name.
func (s *Store) chunkName(data []byte) string {
	h := sha256.New()
	h.Write(data)
	h.Write([]byte(s.runID))
	h.Write([]byte(strconv.FormatInt(s.nowFunc().UnixNano(), 10)))
	return chunkPrefix + hex.EncodeToString(h.Sum(nil)) + batchExt
}

// ChunkFiles lists pending chunk files, oldest first.
func (s *Store) ChunkFiles() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(s.outputDir, chunkPrefix+"*"+batchExt))
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: glob chunks")
	}
	type chunk struct {
		path string
		mod  time.Time
	}
	chunks := make([]chunk, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			if isNotExist(err) {
				continue
			}
			return nil, eris.Wrapf(err, "checkpoint: stat %s", p)
		}
		chunks = append(chunks, chunk{path: p, mod: info.ModTime()})
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].mod.Equal(chunks[j].mod) {
			return chunks[i].path < chunks[j].path
		}
		return chunks[i].mod.Before(chunks[j].mod)
	})
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.path
	}
	return out, nil
}

// Recover merges every pending chunk file into memory, rewrites every result
// file, and only then deletes the merged chunks. If any result write fails
// no chunk is removed. Unreadable chunks stay on disk and are reported as an
// error after the result files are written.
func (s *Store) Recover() (RecoverReport, error) {
	var report RecoverReport

	chunks, err := s.ChunkFiles()
	if err != nil {
		return report, err
	}

	merged := make([]string, 0, len(chunks))
	for _, path := range chunks {
		entries, err := readJSONL[model.ChunkEntry](path)
		if err != nil {
			zap.L().Error("unreadable chunk left on disk", zap.String("chunk", path), zap.Error(err))
			report.Unreadable = append(report.Unreadable, path)
			continue
		}
		for _, e := range entries {
			if err := s.Apply(e.Source, e.Index, e.Result()); err != nil {
				zap.L().Warn("skipping chunk entry", zap.String("chunk", filepath.Base(path)), zap.Error(err))
				report.EntriesSkipped++
				continue
			}
			report.EntriesApplied++
		}
		merged = append(merged, path)
	}

	for _, src := range s.sources {
		if err := s.writeResults(src); err != nil {
			return report, err
		}
		report.FilesWritten++
	}

	for _, path := range merged {
		if err := os.Remove(path); err != nil && !isNotExist(err) {
			return report, eris.Wrapf(err, "checkpoint: remove chunk %s", path)
		}
		report.ChunksMerged++
	}

	if len(report.Unreadable) > 0 {
		return report, eris.Errorf("checkpoint: %d chunk file(s) could not be read", len(report.Unreadable))
	}
	return report, nil
}

func (s *Store) writeResults(src *Source) error {
	data, err := encodeJSONL(src.Results)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.resultPath(src.ID), data); err != nil {
		return eris.Wrapf(err, "checkpoint: write results for %s", src.ID)
	}
	return nil
}

func (s *Store) resultPath(id string) string {
	return filepath.Join(s.outputDir, resultPrefix+id+batchExt)
}

func isNotExist(err error) bool {
	return eris.Is(err, fs.ErrNotExist) || os.IsNotExist(err)
}
