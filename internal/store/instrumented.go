package store

import (
	"context"

	"github.com/modelhub/modelhub-api/pkg/metrics"
	"go.mongodb.org/mongo-driver/bson"
)

// Instrumented wraps a Collection and counts every call in
// metrics.StoreOperations by collection, operation and result.
type Instrumented struct {
	next Collection
}

func WithMetrics(c Collection) *Instrumented {
	return &Instrumented{next: c}
}

func (i *Instrumented) observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.StoreOperations.WithLabelValues(i.next.Name(), op, result).Inc()
}

func (i *Instrumented) Name() string { return i.next.Name() }

func (i *Instrumented) Find(ctx context.Context, filter bson.M, opts *FindOptions) ([]bson.M, error) {
	out, err := i.next.Find(ctx, filter, opts)
	i.observe("find", err)
	return out, err
}

func (i *Instrumented) FindOne(ctx context.Context, filter bson.M) (bson.M, error) {
	out, err := i.next.FindOne(ctx, filter)
	i.observe("find_one", err)
	return out, err
}

func (i *Instrumented) InsertOne(ctx context.Context, doc bson.M) (*InsertOneResult, error) {
	out, err := i.next.InsertOne(ctx, doc)
	i.observe("insert_one", err)
	return out, err
}

func (i *Instrumented) UpdateOne(ctx context.Context, filter, update bson.M) (*UpdateResult, error) {
	out, err := i.next.UpdateOne(ctx, filter, update)
	i.observe("update_one", err)
	return out, err
}

func (i *Instrumented) DeleteOne(ctx context.Context, filter bson.M) (*DeleteResult, error) {
	out, err := i.next.DeleteOne(ctx, filter)
	i.observe("delete_one", err)
	return out, err
}
