package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/marquee/catalog/internal/config"
	"github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"
	"go.uber.org/zap"
)

const indexMapping = `{
  "settings": {
    "number_of_shards": 1,
    "number_of_replicas": 0
  },
  "mappings": {
    "properties": {
      "id": {"type": "keyword"},
      "slug": {"type": "keyword"},
      "title": {"type": "text", "fields": {"raw": {"type": "keyword"}}},
      "description": {"type": "text"},
      "type": {"type": "keyword"},
      "release_date": {"type": "date"},
      "cover_image": {"type": "keyword", "index": false},
      "genres": {"type": "keyword"},
      "cast": {"type": "text"},
      "average_rating": {"type": "float"},
      "total_ratings": {"type": "long"},
      "trending_score": {"type": "float"},
      "recent_ratings_count": {"type": "long"},
      "rating_distribution": {"type": "object"},
      "created_at": {"type": "date"},
      "updated_at": {"type": "date"}
    }
  }
}`

// OpenSearchIndex stores movie documents in one OpenSearch index.
type OpenSearchIndex struct {
	client *opensearchapi.Client
	name   string
	log    *zap.Logger
}

func NewOpenSearchIndex(cfg config.Config, log *zap.Logger) (*OpenSearchIndex, error) {
	client, err := opensearchapi.NewClient(opensearchapi.Config{
		Client: opensearch.Config{
			Addresses: cfg.Search.Addresses,
			Username:  cfg.Search.Username,
			Password:  cfg.Search.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opensearch client: %w", err)
	}
	name := strings.TrimSpace(cfg.Search.IndexName)
	if name == "" {
		name = "movies"
	}
	return &OpenSearchIndex{client: client, name: name, log: log.Named("search.opensearch")}, nil
}

func (i *OpenSearchIndex) IndexDocument(ctx context.Context, doc Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = i.client.Index(ctx, opensearchapi.IndexReq{
		Index:      i.name,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(body),
	})
	return wrap("index document", err)
}

func (i *OpenSearchIndex) UpdateDocument(ctx context.Context, doc Document) error {
	body, err := json.Marshal(map[string]any{"doc": doc, "doc_as_upsert": true})
	if err != nil {
		return err
	}
	_, err = i.client.Update(ctx, opensearchapi.UpdateReq{
		Index:      i.name,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(body),
	})
	return wrap("update document", err)
}

func (i *OpenSearchIndex) UpdateRatingFields(ctx context.Context, movieID string, fields RatingFields) error {
	body, err := json.Marshal(map[string]any{"doc": fields})
	if err != nil {
		return err
	}
	_, err = i.client.Update(ctx, opensearchapi.UpdateReq{
		Index:      i.name,
		DocumentID: movieID,
		Body:       bytes.NewReader(body),
	})
	return wrap("update rating fields", err)
}

// BulkIndex writes docs in one request and returns how many were accepted.
func (i *OpenSearchIndex) BulkIndex(ctx context.Context, docs []Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		action := map[string]any{"index": map[string]any{"_index": i.name, "_id": doc.ID}}
		if err := enc.Encode(action); err != nil {
			return 0, err
		}
		if err := enc.Encode(doc); err != nil {
			return 0, err
		}
	}

	resp, err := i.client.Bulk(ctx, opensearchapi.BulkReq{
		Index: i.name,
		Body:  &buf,
	})
	if err != nil {
		return 0, wrap("bulk index", err)
	}
	if !resp.Errors {
		return len(docs), nil
	}

	failed := 0
	for _, item := range resp.Items {
		for _, result := range item {
			if result.Status >= http.StatusBadRequest {
				failed++
			}
		}
	}
	i.log.Warn("bulk index partially failed", zap.Int("failed", failed), zap.Int("total", len(docs)))
	return len(docs) - failed, nil
}

func (i *OpenSearchIndex) DocumentExists(ctx context.Context, movieID string) (bool, error) {
	resp, err := i.client.Document.Exists(ctx, opensearchapi.DocumentExistsReq{
		Index:      i.name,
		DocumentID: movieID,
	})
	return existsResult(resp, err, "document exists")
}

func (i *OpenSearchIndex) Healthy(ctx context.Context) (bool, error) {
	resp, err := i.client.Cluster.Health(ctx, nil)
	if err != nil {
		return false, wrap("cluster health", err)
	}
	return resp.Status == "green" || resp.Status == "yellow", nil
}

func (i *OpenSearchIndex) Stats(ctx context.Context) (Stats, error) {
	resp, err := i.client.Indices.Count(ctx, &opensearchapi.IndicesCountReq{Indices: []string{i.name}})
	if err != nil {
		return Stats{}, wrap("index stats", err)
	}
	return Stats{Name: i.name, DocCount: int64(resp.Count)}, nil
}

func (i *OpenSearchIndex) CreateIndex(ctx context.Context) error {
	resp, err := i.client.Indices.Exists(ctx, opensearchapi.IndicesExistsReq{Indices: []string{i.name}})
	exists, err := existsResult(resp, err, "index exists")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = i.client.Indices.Create(ctx, opensearchapi.IndicesCreateReq{
		Index: i.name,
		Body:  strings.NewReader(indexMapping),
	})
	if err != nil {
		return wrap("create index", err)
	}
	i.log.Info("search index created", zap.String("index", i.name))
	return nil
}

func (i *OpenSearchIndex) DeleteIndex(ctx context.Context) error {
	_, err := i.client.Indices.Delete(ctx, opensearchapi.IndicesDeleteReq{Indices: []string{i.name}})
	return wrap("delete index", err)
}

// existsResult maps a HEAD response to a boolean. 404 is an answer, not an
// error.
func existsResult(resp *opensearch.Response, err error, op string) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, wrap(op, err)
	}
	return resp != nil && resp.StatusCode == http.StatusOK, nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrIndexUnavailable, err)
}
