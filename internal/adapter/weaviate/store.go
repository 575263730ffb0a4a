package weaviate

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"docrag/internal/collection"
	"docrag/internal/document"
	"docrag/internal/vector"
)

const batchSize = 100

// Store is a collection.Store backed by one Weaviate class.
type Store struct {
	client    *weaviate.Client
	schema    vector.SchemaClient
	className string
	location  string
}

func NewStore(client *weaviate.Client, collectionName, location string) *Store {
	return &Store{
		client:    client,
		schema:    vector.NewWeaviateClientAdapter(client),
		className: vector.ClassName(collectionName),
		location:  location,
	}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureClass(ctx, s.schema, s.className)
}

func (s *Store) Location() string {
	return s.location + "/" + s.className
}

func (s *Store) Close() error {
	return nil
}

// objectID maps a record ID onto a stable UUID so re-imports overwrite.
func objectID(recordID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(recordID)).String())
}

// Replace drops and recreates the class, then imports records in batches.
// Weaviate has no atomic class swap; callers serialise this against queries.
func (s *Store) Replace(ctx context.Context, records []collection.Record) error {
	if err := vector.ResetClass(ctx, s.schema, s.className); err != nil {
		return fmt.Errorf("reset class %s: %w", s.className, err)
	}

	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}

		objects := make([]*models.Object, 0, end-start)
		for i, r := range records[start:end] {
			props := map[string]interface{}{
				"text":       r.Text,
				"sourceFile": r.Metadata.SourceFile,
				"recordId":   r.ID,
				"position":   start + i,
			}
			if r.Metadata.Page != nil {
				props["page"] = *r.Metadata.Page
			}
			objects = append(objects, &models.Object{
				Class:      s.className,
				ID:         objectID(r.ID),
				Properties: props,
				Vector:     r.Vector,
			})
		}

		resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
		if err != nil {
			return fmt.Errorf("batch import: %w", err)
		}
		for _, res := range resp {
			if res.Result != nil && res.Result.Errors != nil && len(res.Result.Errors.Error) > 0 {
				return fmt.Errorf("batch import object %s: %s", res.ID, res.Result.Errors.Error[0].Message)
			}
		}
	}

	return nil
}

func (s *Store) Query(ctx context.Context, vec []float32, k int) ([]collection.Match, error) {
	if k <= 0 {
		return nil, nil
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	fields := []graphql.Field{
		{Name: "text"},
		{Name: "sourceFile"},
		{Name: "page"},
		{Name: "recordId"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithNearVector(nearVector).
		WithLimit(k).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}

	if len(res.Errors) > 0 {
		// An unbuilt index is an empty collection, not a failure.
		if classMissing(res.Errors) {
			return nil, nil
		}
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	var matches []collection.Match
	if data, ok := res.Data["Get"].(map[string]interface{}); ok {
		if objs, ok := data[s.className].([]interface{}); ok {
			for _, o := range objs {
				props, ok := o.(map[string]interface{})
				if !ok {
					continue
				}
				matches = append(matches, parseMatch(props))
			}
		}
	}

	collection.SortByDistance(matches)
	return matches, nil
}

func parseMatch(props map[string]interface{}) collection.Match {
	var m collection.Match
	if text, ok := props["text"].(string); ok {
		m.Text = text
	}
	if src, ok := props["sourceFile"].(string); ok {
		m.Metadata.SourceFile = src
	}
	if page, ok := props["page"].(float64); ok {
		m.Metadata.Page = document.Page(int(page))
	}
	if id, ok := props["recordId"].(string); ok {
		m.ID = id
	}
	if additional, ok := props["_additional"].(map[string]interface{}); ok {
		if d, ok := additional["distance"].(float64); ok {
			m.Distance = d
		}
	}
	return m
}

func classMissing(errs []*models.GraphQLError) bool {
	for _, e := range errs {
		if e != nil && strings.Contains(e.Message, "Cannot query field") {
			return true
		}
	}
	return false
}

func (s *Store) Count(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(s.className).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		if classMissing(res.Errors) {
			return 0, nil
		}
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	if data, ok := res.Data["Aggregate"].(map[string]interface{}); ok {
		if groups, ok := data[s.className].([]interface{}); ok && len(groups) > 0 {
			if group, ok := groups[0].(map[string]interface{}); ok {
				if meta, ok := group["meta"].(map[string]interface{}); ok {
					if count, ok := meta["count"].(float64); ok {
						return int(count), nil
					}
				}
			}
		}
	}
	return 0, nil
}

var _ collection.Store = (*Store)(nil)
