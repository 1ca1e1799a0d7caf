// Package store exposes the minimal document-store surface the API needs:
// find, findOne, insertOne, updateOne and deleteOne over schemaless bson.M
// documents. MongoCollection talks to MongoDB; MemoryCollection keeps
// documents in process for tests and store-less local runs.
package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IDField is the primary key of every stored document.
const IDField = "_id"

var (
	ErrInvalidID           = errors.New("invalid id")
	ErrUnsupportedOperator = errors.New("unsupported operator")
	ErrInvalidUpdate       = errors.New("invalid update")
)

// FindOptions narrows a Find call. The zero value returns every match in
// natural order.
type FindOptions struct {
	Sort  bson.D
	Limit int64
}

// InsertOneResult mirrors the acknowledgement returned by the database.
type InsertOneResult struct {
	Acknowledged bool        `json:"acknowledged"`
	InsertedID   interface{} `json:"insertedId"`
}

type UpdateResult struct {
	Acknowledged  bool        `json:"acknowledged"`
	MatchedCount  int64       `json:"matchedCount"`
	ModifiedCount int64       `json:"modifiedCount"`
	UpsertedCount int64       `json:"upsertedCount"`
	UpsertedID    interface{} `json:"upsertedId"`
}

type DeleteResult struct {
	Acknowledged bool  `json:"acknowledged"`
	DeletedCount int64 `json:"deletedCount"`
}

// Collection is implemented by MongoCollection and MemoryCollection.
type Collection interface {
	Name() string
	Find(ctx context.Context, filter bson.M, opts *FindOptions) ([]bson.M, error)
	// FindOne returns (nil, nil) when nothing matches.
	FindOne(ctx context.Context, filter bson.M) (bson.M, error)
	InsertOne(ctx context.Context, doc bson.M) (*InsertOneResult, error)
	UpdateOne(ctx context.Context, filter, update bson.M) (*UpdateResult, error)
	DeleteOne(ctx context.Context, filter bson.M) (*DeleteResult, error)
}

// ParseID converts the hex form of an ObjectID as it appears in URLs.
func ParseID(hex string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", ErrInvalidID, hex)
	}
	return id, nil
}

// ByID is the filter selecting a single document by primary key.
func ByID(id primitive.ObjectID) bson.M {
	return bson.M{IDField: id}
}
