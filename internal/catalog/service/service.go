package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/modelhub/modelhub-api/internal/catalog"
	"github.com/modelhub/modelhub-api/internal/store"
	"github.com/modelhub/modelhub-api/pkg/logger"
	"github.com/modelhub/modelhub-api/pkg/metrics"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrMissingSearchText = errors.New("search text is required")
	ErrEmptyUpdate       = errors.New("update body has no fields")
)

// ArtifactSigner issues download URLs for model artifacts.
type ArtifactSigner interface {
	DownloadURL(ctx context.Context, key string) (string, error)
}

// DownloadResult bundles the raw results of the two writes made for one download.
type DownloadResult struct {
	Result          *store.InsertOneResult `json:"result"`
	DownloadCounted *store.UpdateResult    `json:"downloadCounted"`
	FileURL         string                 `json:"fileUrl,omitempty"`
}

// Service runs one store operation per call (two for RecordDownload) and hands
// back the raw result.
type Service struct {
	models    store.Collection
	downloads store.Collection
	signer    ArtifactSigner
}

func New(models, downloads store.Collection) *Service {
	return &Service{models: models, downloads: downloads}
}

// WithArtifacts enables presigned artifact URLs on recorded downloads.
func (s *Service) WithArtifacts(signer ArtifactSigner) *Service {
	s.signer = signer
	return s
}

func (s *Service) ListModels(ctx context.Context) ([]bson.M, error) {
	return s.models.Find(ctx, bson.M{}, nil)
}

// GetModel returns (nil, nil) when the model does not exist.
func (s *Service) GetModel(ctx context.Context, id string) (bson.M, error) {
	oid, err := store.ParseID(id)
	if err != nil {
		return nil, err
	}
	return s.models.FindOne(ctx, store.ByID(oid))
}

// LatestModels returns up to catalog.LatestLimit models, newest created_at first.
func (s *Service) LatestModels(ctx context.Context) ([]bson.M, error) {
	return s.models.Find(ctx, bson.M{}, &store.FindOptions{
		Sort:  bson.D{{Key: catalog.FieldCreatedAt, Value: -1}},
		Limit: catalog.LatestLimit,
	})
}

// CreateModel stores the body as submitted.
func (s *Service) CreateModel(ctx context.Context, doc bson.M) (*store.InsertOneResult, error) {
	return s.models.InsertOne(ctx, doc)
}

// UpdateModel replaces exactly the fields present in fields.
func (s *Service) UpdateModel(ctx context.Context, id string, fields bson.M) (*store.UpdateResult, error) {
	oid, err := store.ParseID(id)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrEmptyUpdate
	}
	return s.models.UpdateOne(ctx, store.ByID(oid), bson.M{"$set": fields})
}

// DeleteModel removes the model only; its download records are left in place.
func (s *Service) DeleteModel(ctx context.Context, id string) (*store.DeleteResult, error) {
	oid, err := store.ParseID(id)
	if err != nil {
		return nil, err
	}
	return s.models.DeleteOne(ctx, store.ByID(oid))
}

func (s *Service) ModelsByCreator(ctx context.Context, createdBy string) ([]bson.M, error) {
	return s.models.Find(ctx, bson.M{catalog.FieldCreatedBy: createdBy}, nil)
}

// SearchModels matches text as a literal, case-insensitive substring of name.
func (s *Service) SearchModels(ctx context.Context, text string) ([]bson.M, error) {
	if text == "" {
		return nil, ErrMissingSearchText
	}
	filter := bson.M{catalog.FieldName: bson.M{"$regex": regexp.QuoteMeta(text), "$options": "i"}}
	return s.models.Find(ctx, filter, nil)
}

// RecordDownload inserts the download record and then increments the model's
// counter. The writes are independent: when the increment fails the record
// stays and the error is returned alongside the partial result. The model is
// not required to exist.
func (s *Service) RecordDownload(ctx context.Context, modelID string, record bson.M) (*DownloadResult, error) {
	oid, err := store.ParseID(modelID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = bson.M{}
	}
	inserted, err := s.downloads.InsertOne(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("insert download record: %w", err)
	}
	metrics.DownloadsRecorded.Inc()

	res := &DownloadResult{Result: inserted}
	counted, err := s.models.UpdateOne(ctx, store.ByID(oid), bson.M{"$inc": bson.M{catalog.FieldDownloads: 1}})
	if err != nil {
		metrics.DownloadCountFailures.Inc()
		return res, fmt.Errorf("increment downloads of %s after recording %v: %w", modelID, inserted.InsertedID, err)
	}
	res.DownloadCounted = counted

	if s.signer != nil && counted.MatchedCount > 0 {
		res.FileURL = s.artifactURL(ctx, oid)
	}
	return res, nil
}

// artifactURL signs the model's file_key; failures only cost the URL.
func (s *Service) artifactURL(ctx context.Context, id primitive.ObjectID) string {
	m, err := s.models.FindOne(ctx, store.ByID(id))
	if err != nil || m == nil {
		return ""
	}
	key, _ := m[catalog.FieldFileKey].(string)
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return ""
	}
	u, err := s.signer.DownloadURL(ctx, key)
	if err != nil {
		logger.Warnf("artifact url for model %s: %v", id.Hex(), err)
		return ""
	}
	return u
}

func (s *Service) DownloadsByUser(ctx context.Context, downloadedBy string) ([]bson.M, error) {
	return s.downloads.Find(ctx, bson.M{catalog.FieldDownloadedBy: downloadedBy}, nil)
}
