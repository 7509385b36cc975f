// Package ingest decodes extraction exports into nodes and watches export
// directories for new data.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/constellation/internal/privacy"
	"github.com/thebtf/constellation/pkg/models"
)

// DefaultCollection is the export collection holding extracted prompts.
const DefaultCollection = "extractions"

// ErrUnsupportedFormat is returned for input that is neither an export
// object nor a JSON array of records.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// Loader decodes export files.
type Loader struct {
	newID      func() string
	collection string
	redact     bool
}

// NewLoader creates a loader reading the named collection.
// An empty name selects DefaultCollection. Credential redaction is on.
func NewLoader(collection string) *Loader {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Loader{collection: collection, newID: uuid.NewString, redact: true}
}

// SetRedaction turns credential redaction of loaded nodes on or off.
func (l *Loader) SetRedaction(on bool) {
	l.redact = on
}

// Collection returns the collection the loader reads.
func (l *Loader) Collection() string {
	return l.collection
}

// record is one extracted prompt. The fields mirror the extractor's output.
type record struct {
	ID        string          `json:"id"`
	Content   string          `json:"content"`
	Category  string          `json:"category"`
	Keywords  []string        `json:"keywords"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// documentData is a document body: either a single prompt or a batch.
type documentData struct {
	ID        string          `json:"id"`
	Content   string          `json:"content"`
	Category  string          `json:"category"`
	Keywords  []string        `json:"keywords"`
	Timestamp json.RawMessage `json:"timestamp"`
	Prompts   []record        `json:"prompts"`
}

func (d documentData) single() record {
	return record{
		ID:        d.ID,
		Content:   d.Content,
		Category:  d.Category,
		Keywords:  d.Keywords,
		Timestamp: d.Timestamp,
	}
}

type document struct {
	ID   string       `json:"id"`
	Data documentData `json:"data"`
}

type export struct {
	ExtractionInfo json.RawMessage            `json:"extractionInfo"`
	Collections    map[string]json.RawMessage `json:"collections"`
}

// LoadFile decodes the export at path.
func (l *Loader) LoadFile(path string) ([]*models.Node, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export: %w", err)
	}
	defer f.Close()

	nodes, err := l.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nodes, nil
}

// LoadDir decodes every *.json file under dir in lexical order. Files that
// fail to decode are logged and skipped. Ids already seen in an earlier file
// are dropped.
func (l *Loader) LoadDir(ctx context.Context, dir string) ([]*models.Node, error) {
	var nodes []*models.Node
	seen := make(map[string]struct{})

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			log.Error().Err(walkErr).Str("path", path).Msg("Walk export file")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !IsExportFile(path) {
			return nil
		}

		loaded, err := l.LoadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Skipping unreadable export")
			return nil
		}
		for _, n := range loaded {
			if _, dup := seen[n.ID]; dup {
				continue
			}
			seen[n.ID] = struct{}{}
			nodes = append(nodes, n)
		}
		return nil
	})
	if err != nil {
		return nodes, fmt.Errorf("walk export directory: %w", err)
	}

	return nodes, nil
}

// Load reads path as a single export file or, for a directory, every
// export file inside it.
func (l *Loader) Load(ctx context.Context, path string) ([]*models.Node, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat export: %w", err)
	}
	if info.IsDir() {
		return l.LoadDir(ctx, path)
	}
	return l.LoadFile(path)
}

// IsExportFile reports whether path looks like a JSON export.
func IsExportFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// Decode reads an export from r. Two shapes are accepted: the document
// store export written by the extraction scripts, and a plain JSON array of
// records. Duplicate ids keep their first occurrence.
func (l *Loader) Decode(r io.Reader) ([]*models.Node, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrUnsupportedFormat)
	}

	var records []record
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		for i := range records {
			if records[i].ID == "" {
				records[i].ID = l.newID()
			}
		}
	case '{':
		records, err = l.decodeExport(trimmed)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrUnsupportedFormat
	}

	return l.toNodes(records), nil
}

func (l *Loader) decodeExport(data []byte) ([]record, error) {
	var exp export
	if err := json.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}
	if exp.Collections == nil {
		return nil, fmt.Errorf("%w: no collections", ErrUnsupportedFormat)
	}

	raw, ok := exp.Collections[l.collection]
	if !ok {
		log.Warn().Str("collection", l.collection).Msg("Collection not present in export")
		return nil, nil
	}

	// A collection the extractor failed on is stored as {"error": "..."}.
	if t := bytes.TrimSpace(raw); len(t) > 0 && t[0] != '[' {
		var failed struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(t, &failed); err == nil && failed.Error != "" {
			log.Warn().Str("collection", l.collection).Str("error", failed.Error).Msg("Skipping failed collection")
			return nil, nil
		}
		return nil, fmt.Errorf("%w: collection %q is not an array", ErrUnsupportedFormat, l.collection)
	}

	var docs []document
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("decode collection %q: %w", l.collection, err)
	}

	records := make([]record, 0, len(docs))
	for _, doc := range docs {
		docID := doc.ID
		if docID == "" {
			docID = doc.Data.ID
		}
		if docID == "" {
			docID = l.newID()
		}

		if len(doc.Data.Prompts) == 0 {
			rec := doc.Data.single()
			rec.ID = docID
			records = append(records, rec)
			continue
		}

		for i, p := range doc.Data.Prompts {
			if p.ID == "" {
				p.ID = docID + "#" + strconv.Itoa(i)
			}
			if len(p.Timestamp) == 0 {
				p.Timestamp = doc.Data.Timestamp
			}
			records = append(records, p)
		}
	}

	return records, nil
}

func (l *Loader) toNodes(records []record) []*models.Node {
	nodes := make([]*models.Node, 0, len(records))
	seen := make(map[string]struct{}, len(records))

	for _, rec := range records {
		if _, dup := seen[rec.ID]; dup {
			log.Warn().Str("id", rec.ID).Msg("Duplicate record id in export")
			continue
		}
		seen[rec.ID] = struct{}{}

		ts, err := parseTimestamp(rec.Timestamp)
		if err != nil {
			log.Debug().Err(err).Str("id", rec.ID).Msg("Ignoring unparseable timestamp")
		}

		n := &models.Node{
			ID:        rec.ID,
			Content:   rec.Content,
			Category:  rec.Category,
			Keywords:  rec.Keywords,
			Timestamp: ts,
		}
		if l.redact && privacy.RedactNode(n) {
			log.Info().Str("id", n.ID).Msg("Redacted credentials from record")
		}
		nodes = append(nodes, n)
	}

	return nodes
}

// parseTimestamp accepts epoch milliseconds (number or numeric string),
// RFC 3339 strings, and the {"_seconds","_nanoseconds"} object the
// document store SDK serializes. Missing values yield 0.
func parseTimestamp(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, nil
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return ms, nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return 0, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		return t.UnixMilli(), nil
	case '{':
		var ts struct {
			Seconds     int64 `json:"_seconds"`
			Nanoseconds int64 `json:"_nanoseconds"`
		}
		if err := json.Unmarshal(raw, &ts); err != nil {
			return 0, err
		}
		return time.Unix(ts.Seconds, ts.Nanoseconds).UnixMilli(), nil
	default:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return 0, fmt.Errorf("parse timestamp: %w", err)
		}
		return int64(f), nil
	}
}
