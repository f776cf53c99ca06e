// Package milvus implements index.Backend on Milvus using the official Go SDK.
package milvus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/poiesic/ragify/core"
	"github.com/poiesic/ragify/index"
)

const (
	// DefaultAddress is Milvus' default gRPC address.
	DefaultAddress = "localhost:19530"

	idField         = "id"
	documentIDField = "document_id"
	pageNumberField = "page_number"
	textField       = "text"
	vectorField     = "vector"

	maxTextLength = 65535
)

// milvusClient is the subset of client.Client the backend uses.
type milvusClient interface {
	HasCollection(ctx context.Context, collName string) (bool, error)
	DescribeCollection(ctx context.Context, collName string) (*entity.Collection, error)
	CreateCollection(ctx context.Context, schema *entity.Schema, shardsNum int32, opts ...client.CreateCollectionOption) error
	CreateIndex(ctx context.Context, collName string, fieldName string, idx entity.Index, async bool, opts ...client.IndexOption) error
	LoadCollection(ctx context.Context, collName string, async bool, opts ...client.LoadCollectionOption) error
	Upsert(ctx context.Context, collName string, partitionName string, columns ...entity.Column) (entity.Column, error)
	Delete(ctx context.Context, collName string, partitionName string, expr string) error
	Search(ctx context.Context, collName string, partitions []string, expr string, outputFields []string,
		vectors []entity.Vector, vectorField string, metricType entity.MetricType, topK int, sp entity.SearchParam,
		opts ...client.SearchQueryOptionFunc) ([]client.SearchResult, error)
	Close() error
}

// Config holds connection settings.
type Config struct {
	Address  string
	Database string
	Username string
	Password string
	UseTLS   bool
}

// Backend stores tenant collections in Milvus.
type Backend struct {
	client milvusClient
	logger *slog.Logger
}

var _ index.Backend = (*Backend)(nil)

// New connects to Milvus.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	c, err := client.NewClient(ctx, client.Config{
		Address:       cfg.Address,
		DBName:        cfg.Database,
		Username:      cfg.Username,
		Password:      cfg.Password,
		EnableTLSAuth: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}
	return newWithClient(c), nil
}

func newWithClient(c milvusClient) *Backend {
	return &Backend{
		client: c,
		logger: slog.Default().With("component", "milvus"),
	}
}

// pingCollection is looked up by Ping; it does not need to exist.
const pingCollection = "ragify_ping"

// Ping makes a cheap metadata call to verify the connection.
func (b *Backend) Ping(ctx context.Context) error {
	_, err := b.client.HasCollection(ctx, pingCollection)
	return err
}

func (b *Backend) requireCollection(ctx context.Context, name string) error {
	ok, err := b.client.HasCollection(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", index.ErrCollectionNotFound, name)
	}
	return nil
}

// DescribeCollection reads the vector field's dimension.
func (b *Backend) DescribeCollection(ctx context.Context, name string) (*index.CollectionInfo, error) {
	if err := b.requireCollection(ctx, name); err != nil {
		return nil, err
	}
	coll, err := b.client.DescribeCollection(ctx, name)
	if err != nil {
		return nil, err
	}
	info := &index.CollectionInfo{Name: name}
	if coll.Schema != nil {
		for _, f := range coll.Schema.Fields {
			if f.Name != vectorField {
				continue
			}
			if info.Dimensions, err = strconv.Atoi(f.TypeParams[entity.TypeParamDim]); err != nil {
				return nil, fmt.Errorf("collection %s has invalid dimension %q: %w", name, f.TypeParams[entity.TypeParamDim], err)
			}
		}
	}
	return info, nil
}

func isAlreadyExists(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already exist")
}

// CreateCollection creates the collection with an HNSW cosine index on the vector field.
func (b *Backend) CreateCollection(ctx context.Context, name string, dim int) error {
	ok, err := b.client.HasCollection(ctx, name)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %s", index.ErrCollectionExists, name)
	}

	schema := &entity.Schema{
		CollectionName: name,
		Description:    "tenant document chunks",
		Fields: []*entity.Field{
			{Name: idField, DataType: entity.FieldTypeInt64, PrimaryKey: true, AutoID: false},
			{Name: documentIDField, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{entity.TypeParamMaxLength: "256"}},
			{Name: index.FileNameField, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{entity.TypeParamMaxLength: "1024"}},
			{Name: pageNumberField, DataType: entity.FieldTypeInt64},
			{Name: textField, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{entity.TypeParamMaxLength: strconv.Itoa(maxTextLength)}},
			{Name: vectorField, DataType: entity.FieldTypeFloatVector, TypeParams: map[string]string{entity.TypeParamDim: strconv.Itoa(dim)}},
		},
	}
	if err := b.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		if isAlreadyExists(err) {
			return fmt.Errorf("%w: %w", index.ErrCollectionExists, err)
		}
		return err
	}

	idx, err := entity.NewIndexHNSW(entity.COSINE, 8, 64)
	if err != nil {
		return err
	}
	if err := b.client.CreateIndex(ctx, name, vectorField, idx, false); err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("failed to create vector index: %w", err)
	}
	return nil
}

// CreateKeywordIndex adds a scalar index on field and loads the collection for search.
func (b *Backend) CreateKeywordIndex(ctx context.Context, name, field string) error {
	if err := b.client.CreateIndex(ctx, name, field, entity.NewScalarIndex(), false); err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("failed to create %s index: %w", field, err)
	}
	return b.client.LoadCollection(ctx, name, false)
}

// Upsert writes points column by column.
func (b *Backend) Upsert(ctx context.Context, name string, points []core.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	if err := b.requireCollection(ctx, name); err != nil {
		return err
	}
	var (
		ids     = make([]int64, len(points))
		docIDs  = make([]string, len(points))
		files   = make([]string, len(points))
		pages   = make([]int64, len(points))
		texts   = make([]string, len(points))
		vectors = make([][]float32, len(points))
	)
	for i, p := range points {
		ids[i] = int64(p.ID)
		docIDs[i] = p.Payload.DocumentID
		files[i] = p.Payload.FileName
		pages[i] = int64(p.Payload.PageNumber)
		texts[i] = p.Payload.Text
		vectors[i] = p.Vector
	}
	_, err := b.client.Upsert(ctx, name, "",
		entity.NewColumnInt64(idField, ids),
		entity.NewColumnVarChar(documentIDField, docIDs),
		entity.NewColumnVarChar(index.FileNameField, files),
		entity.NewColumnInt64(pageNumberField, pages),
		entity.NewColumnVarChar(textField, texts),
		entity.NewColumnFloatVector(vectorField, len(vectors[0]), vectors),
	)
	return err
}

// Search runs an HNSW cosine search and reads back the payload fields.
func (b *Backend) Search(ctx context.Context, name string, vector []float32, limit int) ([]core.ScoredPoint, error) {
	if err := b.requireCollection(ctx, name); err != nil {
		return nil, err
	}
	sp, err := entity.NewIndexHNSWSearchParam(max(64, limit))
	if err != nil {
		return nil, err
	}
	results, err := b.client.Search(ctx, name, nil, "",
		[]string{documentIDField, index.FileNameField, pageNumberField, textField},
		[]entity.Vector{entity.FloatVector(vector)}, vectorField, entity.COSINE, limit, sp)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return []core.ScoredPoint{}, nil
	}
	result := results[0]
	if result.Err != nil {
		return nil, result.Err
	}
	return scoredPoints(result), nil
}

func scoredPoints(result client.SearchResult) []core.ScoredPoint {
	var (
		ids    []int64
		docIDs []string
		files  []string
		pages  []int64
		texts  []string
	)
	if col, ok := result.IDs.(*entity.ColumnInt64); ok {
		ids = col.Data()
	}
	for _, field := range result.Fields {
		switch col := field.(type) {
		case *entity.ColumnVarChar:
			switch col.Name() {
			case documentIDField:
				docIDs = col.Data()
			case index.FileNameField:
				files = col.Data()
			case textField:
				texts = col.Data()
			}
		case *entity.ColumnInt64:
			if col.Name() == pageNumberField {
				pages = col.Data()
			}
		}
	}

	at := func(s []string, i int) string {
		if i < len(s) {
			return s[i]
		}
		return ""
	}
	points := make([]core.ScoredPoint, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		p := core.ScoredPoint{
			Payload: core.Payload{
				DocumentID: at(docIDs, i),
				FileName:   at(files, i),
				Text:       at(texts, i),
			},
		}
		if i < len(ids) {
			p.ID = core.ID(ids[i])
		}
		if i < len(pages) {
			p.Payload.PageNumber = int(pages[i])
		}
		if i < len(result.Scores) {
			p.Score = result.Scores[i]
		}
		points = append(points, p)
	}
	return points
}

// DeleteByField removes points whose field equals value.
func (b *Backend) DeleteByField(ctx context.Context, name, field, value string) error {
	if err := b.requireCollection(ctx, name); err != nil {
		return err
	}
	return b.client.Delete(ctx, name, "", fmt.Sprintf("%s == %s", field, strconv.Quote(value)))
}

// DeletePoints removes points by primary key.
func (b *Backend) DeletePoints(ctx context.Context, name string, ids []core.ID) error {
	if len(ids) == 0 {
		return nil
	}
	if err := b.requireCollection(ctx, name); err != nil {
		return err
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return b.client.Delete(ctx, name, "", fmt.Sprintf("%s in [%s]", idField, strings.Join(parts, ",")))
}

// Close closes the gRPC connection.
func (b *Backend) Close() error {
	if b.client == nil {
		return errors.New("milvus client is not connected")
	}
	return b.client.Close()
}
