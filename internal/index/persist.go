package index

import (
	"bufio"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// On-disk layout of <path>.index: magic, version, dimension, row count, then
// row-major little-endian float32 vectors.
var indexMagic = [4]byte{'G', 'R', 'I', 'X'}

const indexVersion uint32 = 1

type indexHeader struct {
	Magic     [4]byte
	Version   uint32
	Dimension uint32
	Count     uint32
}

func (ix *Index) indexFile() string   { return ix.cfg.Path + ".index" }
func (ix *Index) docsFile() string    { return ix.cfg.Path + "_docs.json" }
func (ix *Index) mappingFile() string { return ix.cfg.Path + "_mapping.gob" }

// persist writes all three artifacts to temp files and renames them into
// place only after every write succeeded, so a failed write leaves the
// previous artifacts untouched.
func (ix *Index) persist(s *snapshot) error {
	if ix.cfg.Path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(ix.cfg.Path), 0o755); err != nil {
		return goerr.Wrap(err, "create index directory", goerr.V("path", ix.cfg.Path))
	}

	artifacts := []struct {
		path  string
		write func(io.Writer) error
	}{
		{ix.indexFile(), func(w io.Writer) error {
			return writeVectors(w, ix.cfg.Dimension, s.vectors)
		}},
		{ix.docsFile(), func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			rows := s.rows
			if rows == nil {
				rows = []Row{}
			}
			return enc.Encode(rows)
		}},
		// the mapping goes last since it can be rebuilt from the documents
		{ix.mappingFile(), func(w io.Writer) error {
			return gob.NewEncoder(w).Encode(s.pos)
		}},
	}

	staged := make([]string, 0, len(artifacts))
	defer func() {
		for _, tmp := range staged {
			_ = os.Remove(tmp)
		}
	}()
	for _, a := range artifacts {
		tmp, err := writeTemp(a.path, a.write)
		if err != nil {
			return goerr.Wrap(err, "write index artifact", goerr.V("path", a.path))
		}
		staged = append(staged, tmp)
	}
	for i, a := range artifacts {
		if err := os.Rename(staged[i], a.path); err != nil {
			return goerr.Wrap(err, "commit index artifact", goerr.V("path", a.path))
		}
	}
	return nil
}

// load returns (nil, nil) when nothing is persisted yet.
func (ix *Index) load() (*snapshot, error) {
	if ix.cfg.Path == "" {
		return nil, nil
	}
	_, errIdx := os.Stat(ix.indexFile())
	_, errDocs := os.Stat(ix.docsFile())
	if errors.Is(errIdx, os.ErrNotExist) && errors.Is(errDocs, os.ErrNotExist) {
		return nil, nil
	}
	if errIdx != nil || errDocs != nil {
		return nil, goerr.Wrap(ErrCorruptIndex, "index and documents must both be present",
			goerr.V("index_err", fmt.Sprint(errIdx)), goerr.V("docs_err", fmt.Sprint(errDocs)))
	}

	vectors, err := readVectors(ix.indexFile(), ix.cfg.Dimension)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(ix.docsFile())
	if err != nil {
		return nil, goerr.Wrap(err, "read documents file")
	}
	var rows []Row
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, goerr.Wrap(errors.Join(ErrCorruptIndex, err), "decode documents file")
	}
	if len(rows) != len(vectors) {
		return nil, goerr.Wrap(ErrCorruptIndex, "documents and vectors differ in length",
			goerr.V("documents", len(rows)), goerr.V("vectors", len(vectors)))
	}

	s := &snapshot{rows: rows, vectors: vectors, updatedAt: time.Now()}
	if info, err := os.Stat(ix.docsFile()); err == nil {
		s.updatedAt = info.ModTime()
	}

	s.pos, err = readMapping(ix.mappingFile(), rows)
	if err != nil {
		ix.logger.Warn("rebuilding id mapping from documents", "error", err)
		s.pos = mappingFromRows(rows)
	}
	return s, nil
}

func mappingFromRows(rows []Row) map[string]int {
	pos := make(map[string]int, len(rows))
	for i, r := range rows {
		pos[r.ID] = i
	}
	return pos
}

// readMapping loads the gob mapping and checks it against rows.
func readMapping(path string, rows []Row) (map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pos map[string]int
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&pos); err != nil {
		return nil, fmt.Errorf("decode mapping failed: %w", err)
	}
	if len(pos) != len(rows) {
		return nil, fmt.Errorf("mapping has %d entries for %d documents", len(pos), len(rows))
	}
	for i, r := range rows {
		if p, ok := pos[r.ID]; !ok || p != i {
			return nil, fmt.Errorf("mapping disagrees with documents at %q", r.ID)
		}
	}
	return pos, nil
}

func writeVectors(w io.Writer, dim int, vectors [][]float32) error {
	h := indexHeader{Magic: indexMagic, Version: indexVersion, Dimension: uint32(dim), Count: uint32(len(vectors))}
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return err
	}
	for _, v := range vectors {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func readVectors(path string, dim int) ([][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, goerr.Wrap(err, "open index file")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, goerr.Wrap(err, "stat index file")
	}

	var h indexHeader
	r := bufio.NewReader(f)
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, goerr.Wrap(errors.Join(ErrCorruptIndex, err), "read index header")
	}
	if h.Magic != indexMagic || h.Version != indexVersion {
		return nil, goerr.Wrap(ErrCorruptIndex, "unknown index format",
			goerr.V("magic", string(h.Magic[:])), goerr.V("version", h.Version))
	}
	if int(h.Dimension) != dim {
		return nil, goerr.Wrap(ErrCorruptIndex, "index dimension does not match configuration",
			goerr.V("file", h.Dimension), goerr.V("config", dim))
	}
	want := int64(binary.Size(h)) + int64(h.Count)*int64(h.Dimension)*4
	if info.Size() != want {
		return nil, goerr.Wrap(ErrCorruptIndex, "index file has wrong size",
			goerr.V("size", info.Size()), goerr.V("want", want))
	}

	vectors := make([][]float32, h.Count)
	for i := range vectors {
		v := make([]float32, h.Dimension)
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, goerr.Wrap(errors.Join(ErrCorruptIndex, err), "read vector", goerr.V("row", i))
		}
		vectors[i] = v
	}
	return vectors, nil
}

// writeTemp writes and syncs a temp file next to path and returns its name.
func writeTemp(path string, write func(io.Writer) error) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return "", err
	}
	bw := bufio.NewWriter(tmp)
	err = write(bw)
	if err == nil {
		err = bw.Flush()
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}
