package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"go-query-pipeline/internal/model"
	"go-query-pipeline/internal/store"
	"go-query-pipeline/pkg/utils"
)

// Vocabulary holds the known values of text dimensions (segments,
// categories) so they can be spotted inside a question
type Vocabulary struct {
	mu      sync.RWMutex
	entries map[string][]vocabEntry // entity key -> values, longest first
}

type vocabEntry struct {
	normalized string
	original   string
}

// vocabularyFile is the YAML shape of interpreter.vocabulary_file
type vocabularyFile struct {
	Segments   []string `yaml:"segments"`
	Categories []string `yaml:"categories"`
}

// NewVocabulary creates an empty vocabulary
func NewVocabulary() *Vocabulary {
	return &Vocabulary{entries: make(map[string][]vocabEntry)}
}

// Add registers a value for an entity key. Blank and duplicate values are skipped.
func (v *Vocabulary) Add(kind, value string) {
	value = strings.TrimSpace(value)
	n := NormalizeQuery(value)
	if n == "" {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	list := v.entries[kind]
	for _, e := range list {
		if e.normalized == n {
			return
		}
	}
	list = append(list, vocabEntry{normalized: n, original: value})
	sort.SliceStable(list, func(i, j int) bool {
		if len(list[i].normalized) != len(list[j].normalized) {
			return len(list[i].normalized) > len(list[j].normalized)
		}
		return list[i].normalized < list[j].normalized
	})
	v.entries[kind] = list
}

// Match finds the longest known value of kind appearing as whole words in
// an already normalized question, returning the value as stored in the dataset
func (v *Vocabulary) Match(kind, normalizedQuery string) (string, bool) {
	if v == nil {
		return "", false
	}
	padded := " " + normalizedQuery + " "

	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, e := range v.entries[kind] {
		if strings.Contains(padded, " "+e.normalized+" ") {
			return e.original, true
		}
	}
	return "", false
}

// Len counts values for kind
func (v *Vocabulary) Len(kind string) int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries[kind])
}

// ------------------- Loading -------------------

// LoadVocabulary reads interpreter.vocabulary_file when set, otherwise the
// distinct segment and category values of the dataset
func LoadVocabulary(ctx context.Context, cfg model.InterpreterConfig, pool *store.Pool, dialect store.Dialect, table string, logger *slog.Logger) (*Vocabulary, error) {
	if cfg.VocabularyFile != "" {
		vocab, err := LoadVocabularyFile(cfg.VocabularyFile)
		if err != nil {
			return nil, err
		}
		logger.Info("vocabulary loaded from file", "path", cfg.VocabularyFile,
			"segments", vocab.Len(model.EntitySegment), "categories", vocab.Len(model.EntityCategory))
		return vocab, nil
	}

	vocab, err := LoadVocabularyFromDataset(ctx, pool, dialect, table)
	if err != nil {
		return nil, err
	}
	logger.Info("vocabulary loaded from dataset", "table", table,
		"segments", vocab.Len(model.EntitySegment), "categories", vocab.Len(model.EntityCategory))
	return vocab, nil
}

// LoadVocabularyFile reads a YAML (segments/categories lists) or CSV
// (kind,value rows) vocabulary file
func LoadVocabularyFile(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocabulary file: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return readVocabularyYAML(f)
	case ".csv":
		return readVocabularyCSV(f)
	default:
		return nil, fmt.Errorf("unknown vocabulary file type: %s", path)
	}
}

func readVocabularyYAML(r io.Reader) (*Vocabulary, error) {
	var file vocabularyFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse vocabulary yaml: %w", err)
	}
	vocab := NewVocabulary()
	for _, s := range file.Segments {
		vocab.Add(model.EntitySegment, s)
	}
	for _, c := range file.Categories {
		vocab.Add(model.EntityCategory, c)
	}
	return vocab, nil
}

func readVocabularyCSV(r io.Reader) (*Vocabulary, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 2
	reader.TrimLeadingSpace = true

	vocab := NewVocabulary()
	line := 0
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read vocabulary csv: %w", err)
		}
		line++
		switch strings.ToLower(strings.TrimSpace(rec[0])) {
		case "segment", "segmento":
			vocab.Add(model.EntitySegment, rec[1])
		case "category", "categoria":
			vocab.Add(model.EntityCategory, rec[1])
		case "kind", "tipo":
			if line == 1 {
				continue // header
			}
			fallthrough
		default:
			return nil, fmt.Errorf("vocabulary csv line %d: unknown kind %q", line, rec[0])
		}
	}
	return vocab, nil
}

// LoadVocabularyFromDataset collects DISTINCT segment and category values
func LoadVocabularyFromDataset(ctx context.Context, pool *store.Pool, dialect store.Dialect, table string) (*Vocabulary, error) {
	vocab := NewVocabulary()
	columns := map[string]string{
		model.EntitySegment:  store.ColSegment,
		model.EntityCategory: store.ColCategory,
	}

	err := pool.With(ctx, func(pc *store.PooledConnection) error {
		for kind, col := range columns {
			q := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL",
				dialect.QuoteIdent(col), dialect.QuoteIdent(table), dialect.QuoteIdent(col))
			rs, err := pc.Query(ctx, q)
			if err != nil {
				return fmt.Errorf("failed to load %s vocabulary: %w", kind, err)
			}
			for _, row := range rs.Rows {
				vocab.Add(kind, utils.AsString(row[0]))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vocab, nil
}
