// Package index is a flat inner-product vector index over documents and
// document chunks, persisted next to a JSON copy of the documents.
//
// Readers work on an immutable snapshot. Writers are serialized, persist the
// next snapshot and only then publish it, so a search never observes a
// half-built index.
package index

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/crypto/blake2b"

	"gopherai-rag/internal/model"
)

var (
	ErrCorruptIndex      = errors.New("persisted index is corrupt")
	ErrRebuildIncomplete = errors.New("rebuild could not embed every document")
)

const (
	MetaParentID   = "parent_doc_id"
	MetaChunkIndex = "chunk_index"
	MetaIsChunk    = "is_chunk"
)

// Embedder returns one vector per text in input order, with a nil entry for
// every text it could not embed.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Row is one indexed unit: a whole document or one of its chunks.
type Row struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	URL      string         `json:"url"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

func (r Row) ParentID() string {
	if p, ok := r.Metadata[MetaParentID].(string); ok {
		return p
	}
	return ""
}

type Config struct {
	// Path is the prefix of the persisted files. Empty keeps the index in memory.
	Path         string
	Dimension    int
	MaxResults   int
	DisplayChars int
}

type Stats struct {
	Rows        int       `json:"rows"`
	Documents   int       `json:"documents"`
	Dimension   int       `json:"dimension"`
	LastUpdated time.Time `json:"last_updated"`
	Path        string    `json:"path"`
}

type snapshot struct {
	rows      []Row
	vectors   [][]float32
	pos       map[string]int
	updatedAt time.Time
}

func emptySnapshot() *snapshot {
	return &snapshot{pos: map[string]int{}, updatedAt: time.Now()}
}

type Index struct {
	cfg      Config
	embedder Embedder
	logger   *slog.Logger

	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

type Option func(*Index)

func WithLogger(l *slog.Logger) Option {
	return func(ix *Index) { ix.logger = l }
}

// Open loads the persisted index at cfg.Path. Any load failure is logged and
// an empty index is used instead.
func Open(cfg Config, embedder Embedder, opts ...Option) *Index {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	if cfg.DisplayChars <= 0 {
		cfg.DisplayChars = 500
	}
	ix := &Index{cfg: cfg, embedder: embedder, logger: slog.Default()}
	for _, opt := range opts {
		opt(ix)
	}

	s, err := ix.load()
	switch {
	case err == nil && s != nil:
		ix.logger.Info("loaded persisted index", "rows", len(s.rows), "path", cfg.Path)
	case err != nil:
		ix.logger.Error("load persisted index failed, starting empty", "path", cfg.Path, "error", err)
		s = emptySnapshot()
	default:
		s = emptySnapshot()
	}
	ix.snap.Store(s)
	return ix
}

// DocumentID derives a stable id from content.
func DocumentID(content string) string {
	sum := blake2b.Sum256([]byte(content))
	return "doc_" + hex.EncodeToString(sum[:16])
}

func ChunkID(parent string, i int) string {
	return fmt.Sprintf("%s_chunk_%d", parent, i)
}

// AddDocuments indexes docs and returns the number of rows added. Invalid
// documents and ids already present are skipped. A text that fails to embed
// drops only its own row.
func (ix *Index) AddDocuments(ctx context.Context, docs []model.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	cur := ix.snap.Load()
	pending := ix.expand(cur, docs)
	if len(pending) == 0 {
		return 0, nil
	}

	texts := make([]string, len(pending))
	for i, r := range pending {
		texts[i] = r.Content
	}
	vecs, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, goerr.Wrap(err, "embed documents", goerr.V("count", len(texts)))
	}
	if len(vecs) != len(pending) {
		return 0, goerr.New("embedder returned wrong number of vectors",
			goerr.V("want", len(pending)), goerr.V("got", len(vecs)))
	}

	next := &snapshot{
		rows:      slices.Clone(cur.rows),
		vectors:   slices.Clone(cur.vectors),
		pos:       maps.Clone(cur.pos),
		updatedAt: time.Now(),
	}
	added := 0
	for i, r := range pending {
		if _, dup := next.pos[r.ID]; dup {
			continue
		}
		v, ok := ix.normalize(vecs[i])
		if !ok {
			ix.logger.Warn("dropping row that failed to embed", "id", r.ID)
			continue
		}
		next.pos[r.ID] = len(next.rows)
		next.rows = append(next.rows, r)
		next.vectors = append(next.vectors, v)
		added++
	}
	if added == 0 {
		return 0, nil
	}

	if err := ix.persist(next); err != nil {
		return 0, err
	}
	ix.snap.Store(next)
	ix.logger.Info("added documents to index", "rows", added, "total", len(next.rows))
	return added, nil
}

// expand validates docs and turns them into rows, skipping ids already known
// either to the snapshot or earlier in the same batch.
func (ix *Index) expand(cur *snapshot, docs []model.Document) []Row {
	seen := map[string]bool{}
	present := func(id string) bool {
		_, ok := cur.pos[id]
		return ok || seen[id]
	}
	known := func(id string) bool {
		return present(id) || present(ChunkID(id, 0))
	}

	var rows []Row
	for _, d := range docs {
		if err := d.Validate(); err != nil {
			ix.logger.Warn("skipping invalid document", "id", d.ID, "title", d.Title)
			continue
		}
		id := d.ID
		if id == "" {
			id = DocumentID(d.Content)
		}
		if known(id) {
			continue
		}
		seen[id] = true

		if len(d.Chunks) == 0 {
			meta := maps.Clone(d.Metadata)
			if meta == nil {
				meta = map[string]any{}
			}
			meta[MetaIsChunk] = false
			rows = append(rows, Row{ID: id, Title: d.Title, URL: d.URL, Content: d.Content, Metadata: meta})
			continue
		}
		for i, c := range d.Chunks {
			cid := ChunkID(id, i)
			if strings.TrimSpace(c.Text) == "" || present(cid) {
				continue
			}
			seen[cid] = true
			meta := maps.Clone(d.Metadata)
			if meta == nil {
				meta = map[string]any{}
			}
			meta[MetaParentID] = id
			meta[MetaChunkIndex] = i
			meta[MetaIsChunk] = true
			rows = append(rows, Row{ID: cid, Title: d.Title, URL: d.URL, Content: c.Text, Metadata: meta})
		}
	}
	return rows
}

// Delete removes the row with this id, or every chunk of the document with
// this id, and rebuilds the index from the remaining rows. Nothing changes
// when the rebuild fails.
func (ix *Index) Delete(ctx context.Context, id string) (bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	cur := ix.snap.Load()
	kept := make([]Row, 0, len(cur.rows))
	for _, r := range cur.rows {
		if r.ID == id || r.ParentID() == id {
			continue
		}
		kept = append(kept, r)
	}
	if len(kept) == len(cur.rows) {
		return false, nil
	}

	next, err := ix.build(ctx, kept)
	if err != nil {
		return false, goerr.Wrap(err, "rebuild after delete", goerr.V("id", id))
	}
	if err := ix.persist(next); err != nil {
		return false, err
	}
	ix.snap.Store(next)
	ix.logger.Info("deleted from index", "id", id, "removed", len(cur.rows)-len(kept))
	return true, nil
}

// Rebuild re-embeds every row and swaps the result in.
func (ix *Index) Rebuild(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	cur := ix.snap.Load()
	if len(cur.rows) == 0 {
		ix.logger.Warn("no documents to rebuild index")
		return nil
	}
	next, err := ix.build(ctx, cur.rows)
	if err != nil {
		return err
	}
	if err := ix.persist(next); err != nil {
		return err
	}
	ix.snap.Store(next)
	ix.logger.Info("index rebuilt", "rows", len(next.rows))
	return nil
}

func (ix *Index) Clear(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	next := emptySnapshot()
	if err := ix.persist(next); err != nil {
		return err
	}
	ix.snap.Store(next)
	ix.logger.Info("index cleared")
	return nil
}

// build embeds rows into a fresh snapshot. Any failed row aborts the build.
func (ix *Index) build(ctx context.Context, rows []Row) (*snapshot, error) {
	next := &snapshot{
		rows:      slices.Clone(rows),
		vectors:   make([][]float32, len(rows)),
		pos:       make(map[string]int, len(rows)),
		updatedAt: time.Now(),
	}
	if len(rows) == 0 {
		return next, nil
	}

	texts := make([]string, len(rows))
	for i, r := range rows {
		texts[i] = r.Content
	}
	vecs, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, goerr.Wrap(err, "embed rows for rebuild", goerr.V("count", len(rows)))
	}
	if len(vecs) != len(rows) {
		return nil, goerr.Wrap(ErrRebuildIncomplete, "embedder returned wrong number of vectors",
			goerr.V("want", len(rows)), goerr.V("got", len(vecs)))
	}
	for i, r := range rows {
		v, ok := ix.normalize(vecs[i])
		if !ok {
			return nil, goerr.Wrap(ErrRebuildIncomplete, "row failed to embed", goerr.V("id", r.ID))
		}
		next.vectors[i] = v
		next.pos[r.ID] = i
	}
	return next, nil
}

// normalize returns an L2-normalized copy, or false for a vector that cannot
// be indexed.
func (ix *Index) normalize(v []float32) ([]float32, bool) {
	if len(v) == 0 || len(v) != ix.cfg.Dimension {
		return nil, false
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, false
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out, true
}

// Lookup returns the row with this id, or every chunk row of the document
// with this id, in index order.
func (ix *Index) Lookup(id string) []Row {
	s := ix.snap.Load()
	if p, ok := s.pos[id]; ok && p < len(s.rows) {
		return []Row{s.rows[p]}
	}
	var out []Row
	for _, r := range s.rows {
		if r.ParentID() == id {
			out = append(out, r)
		}
	}
	return out
}

// Contains reports whether id is an indexed row.
func (ix *Index) Contains(id string) bool {
	_, ok := ix.snap.Load().pos[id]
	return ok
}

func (ix *Index) Size() int {
	return len(ix.snap.Load().rows)
}

func (ix *Index) Stats() Stats {
	s := ix.snap.Load()
	docs := map[string]struct{}{}
	for _, r := range s.rows {
		if p := r.ParentID(); p != "" {
			docs[p] = struct{}{}
		} else {
			docs[r.ID] = struct{}{}
		}
	}
	return Stats{
		Rows:        len(s.rows),
		Documents:   len(docs),
		Dimension:   ix.cfg.Dimension,
		LastUpdated: s.updatedAt,
		Path:        ix.cfg.Path,
	}
}
