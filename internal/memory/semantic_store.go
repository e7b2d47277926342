package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/harrison/kaizen/internal/analysis"
)

const (
	semanticCollection = "kaizen-memory"
	embeddingDims      = 256
)

// SemanticStore ranks records by similarity using an embedded chromem database.
// Embeddings are hashed bags of keywords, so similar wording ranks higher without
// any model download.
type SemanticStore struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewSemanticStore opens a persistent database under dir, or an in-memory one
// when dir is empty.
func NewSemanticStore(dir string, compress bool) (*SemanticStore, error) {
	var db *chromem.DB
	if dir == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
			return nil, fmt.Errorf("create semantic store directory: %w", err)
		}
		var err error
		db, err = chromem.NewPersistentDB(dir, compress)
		if err != nil {
			return nil, fmt.Errorf("open semantic store %s: %w", dir, err)
		}
	}

	collection, err := db.GetOrCreateCollection(semanticCollection, nil, HashEmbedding)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", semanticCollection, err)
	}
	return &SemanticStore{db: db, collection: collection}, nil
}

// HashEmbedding maps text onto a fixed-size vector by hashing its keywords.
// It never returns a zero vector.
func HashEmbedding(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, embeddingDims+1)
	vec[embeddingDims] = 0.01
	for _, kw := range analysis.Keywords(text) {
		h := fnv.New32a()
		h.Write([]byte(kw))
		vec[h.Sum32()%embeddingDims]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

// Append embeds and stores a record.
func (s *SemanticStore) Append(ctx context.Context, rec Record) error {
	content := rec.Content
	if content == "" {
		content = rec.Type
	}
	doc := chromem.Document{
		ID:      rec.ID,
		Content: content,
		Metadata: map[string]string{
			"type":      rec.Type,
			"category":  rec.Category,
			"timestamp": rec.Timestamp.UTC().Format(time.RFC3339Nano),
			"data":      string(rec.Data),
		},
	}
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("adding record %s: %w", rec.ID, err)
	}
	return nil
}

// Search returns the records most similar to query. A query equal to a record
// type filters on that type; an empty query lists records newest first.
func (s *SemanticStore) Search(ctx context.Context, query string, limit int) ([]Record, error) {
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}

	var where map[string]string
	if query == TypeTaskExecution || query == TypeRecoverySession || query == TypePDCACycle {
		where = map[string]string{"type": query}
	}

	var results []chromem.Result
	var err error
	byTime := query == "" || where != nil
	if byTime {
		neutral, _ := HashEmbedding(ctx, "")
		results, err = s.collection.QueryEmbedding(ctx, neutral, count, where, nil)
	} else {
		n := limit
		if n <= 0 || n > count {
			n = count
		}
		results, err = s.collection.Query(ctx, query, n, nil, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", semanticCollection, err)
	}

	out := make([]Record, 0, len(results))
	for _, r := range results {
		rec, err := recordFromResult(r)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if byTime {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Timestamp.After(out[j].Timestamp)
		})
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func recordFromResult(r chromem.Result) (Record, error) {
	rec := Record{
		ID:       r.ID,
		Type:     r.Metadata["type"],
		Category: r.Metadata["category"],
		Content:  r.Content,
	}
	if ts := r.Metadata["timestamp"]; ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return Record{}, fmt.Errorf("record %s timestamp: %w", r.ID, err)
		}
		rec.Timestamp = t
	}
	if data := r.Metadata["data"]; data != "" {
		rec.Data = json.RawMessage(data)
	}
	return rec, nil
}

// Close is a no-op; chromem persists each document as it is added.
func (s *SemanticStore) Close() error {
	return nil
}
