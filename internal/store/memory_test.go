package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMemoryCollectionCRUD(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCollection("models")

	doc := bson.M{"name": "ResNet-50", "created_by": "a@b.c", "tags": []interface{}{"vision"}}
	ins, err := c.InsertOne(ctx, doc)
	require.NoError(t, err)
	require.True(t, ins.Acknowledged)
	id, ok := ins.InsertedID.(primitive.ObjectID)
	require.True(t, ok)
	require.Equal(t, id, doc[IDField], "insert writes the id back")

	got, err := c.FindOne(ctx, ByID(id))
	require.NoError(t, err)
	require.Equal(t, doc, got)

	// stored copy is isolated from caller mutation
	doc["name"] = "changed"
	got, err = c.FindOne(ctx, ByID(id))
	require.NoError(t, err)
	require.Equal(t, "ResNet-50", got["name"])

	upd, err := c.UpdateOne(ctx, ByID(id), bson.M{"$set": bson.M{"name": "ResNet-101"}})
	require.NoError(t, err)
	require.Equal(t, int64(1), upd.MatchedCount)
	require.Equal(t, int64(1), upd.ModifiedCount)

	// identical $set matches but does not modify
	upd, err = c.UpdateOne(ctx, ByID(id), bson.M{"$set": bson.M{"name": "ResNet-101"}})
	require.NoError(t, err)
	require.Equal(t, int64(1), upd.MatchedCount)
	require.Equal(t, int64(0), upd.ModifiedCount)

	del, err := c.DeleteOne(ctx, ByID(id))
	require.NoError(t, err)
	require.Equal(t, int64(1), del.DeletedCount)

	got, err = c.FindOne(ctx, ByID(id))
	require.NoError(t, err)
	require.Nil(t, got)

	del, err = c.DeleteOne(ctx, ByID(id))
	require.NoError(t, err)
	require.Equal(t, int64(0), del.DeletedCount)
}

func TestMemoryCollectionIncrement(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCollection("models")
	ins, err := c.InsertOne(ctx, bson.M{"name": "a"})
	require.NoError(t, err)
	id := ins.InsertedID.(primitive.ObjectID)

	for i := 0; i < 3; i++ {
		_, err := c.UpdateOne(ctx, ByID(id), bson.M{"$inc": bson.M{"downloads": 1}})
		require.NoError(t, err)
	}
	got, err := c.FindOne(ctx, ByID(id))
	require.NoError(t, err)
	require.EqualValues(t, 3, got["downloads"])

	// counters decoded from JSON are float64
	ins, err = c.InsertOne(ctx, bson.M{"name": "b", "downloads": float64(4)})
	require.NoError(t, err)
	_, err = c.UpdateOne(ctx, ByID(ins.InsertedID.(primitive.ObjectID)), bson.M{"$inc": bson.M{"downloads": 1}})
	require.NoError(t, err)
	got, err = c.FindOne(ctx, ByID(ins.InsertedID.(primitive.ObjectID)))
	require.NoError(t, err)
	require.Equal(t, float64(5), got["downloads"])

	// unknown id matches nothing
	res, err := c.UpdateOne(ctx, ByID(primitive.NewObjectID()), bson.M{"$inc": bson.M{"downloads": 1}})
	require.NoError(t, err)
	require.Equal(t, int64(0), res.MatchedCount)
}

func TestMemoryCollectionInvalidUpdates(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCollection("models")
	ins, err := c.InsertOne(ctx, bson.M{"name": "a"})
	require.NoError(t, err)
	filter := ByID(ins.InsertedID.(primitive.ObjectID))

	_, err = c.UpdateOne(ctx, filter, bson.M{"$set": bson.M{}})
	require.True(t, errors.Is(err, ErrInvalidUpdate))

	_, err = c.UpdateOne(ctx, filter, bson.M{"$set": bson.M{IDField: "x"}})
	require.True(t, errors.Is(err, ErrInvalidUpdate))

	_, err = c.UpdateOne(ctx, filter, bson.M{"$unset": bson.M{"name": ""}})
	require.True(t, errors.Is(err, ErrUnsupportedOperator))

	_, err = c.UpdateOne(ctx, filter, bson.M{"$inc": bson.M{"name": 1}})
	require.True(t, errors.Is(err, ErrInvalidUpdate), "incrementing a string field fails")
}

func TestMemoryCollectionFindFilters(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCollection("models")
	for _, d := range []bson.M{
		{"name": "Stable Diffusion", "created_by": "ann@x.io"},
		{"name": "diffusers-lite", "created_by": "bob@x.io"},
		{"name": "Whisper", "created_by": "ann@x.io"},
	} {
		_, err := c.InsertOne(ctx, d)
		require.NoError(t, err)
	}

	all, err := c.Find(ctx, bson.M{}, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)

	mine, err := c.Find(ctx, bson.M{"created_by": "ann@x.io"}, nil)
	require.NoError(t, err)
	require.Len(t, mine, 2)

	hits, err := c.Find(ctx, bson.M{"name": bson.M{"$regex": "DIFFUS", "$options": "i"}}, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	none, err := c.Find(ctx, bson.M{"created_by": "nobody"}, nil)
	require.NoError(t, err)
	require.NotNil(t, none)
	require.Empty(t, none)

	_, err = c.Find(ctx, bson.M{"name": bson.M{"$gt": "a"}}, nil)
	require.True(t, errors.Is(err, ErrUnsupportedOperator))
}

func TestMemoryCollectionSortAndLimit(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCollection("models")
	stamps := []string{"2024-03-01", "2024-01-01", "2024-05-01", "2024-02-01", "2024-04-01", "2024-06-01", "2023-12-01"}
	for _, s := range stamps {
		_, err := c.InsertOne(ctx, bson.M{"created_at": s})
		require.NoError(t, err)
	}
	_, err := c.InsertOne(ctx, bson.M{"name": "no date"})
	require.NoError(t, err)

	out, err := c.Find(ctx, bson.M{}, &FindOptions{Sort: bson.D{{Key: "created_at", Value: -1}}, Limit: 6})
	require.NoError(t, err)
	require.Len(t, out, 6)
	require.Equal(t, "2024-06-01", out[0]["created_at"])
	for i := 1; i < len(out); i++ {
		require.GreaterOrEqual(t, compareValues(out[i-1]["created_at"], out[i]["created_at"]), 0)
	}
}

func TestParseID(t *testing.T) {
	id := primitive.NewObjectID()
	got, err := ParseID(id.Hex())
	require.NoError(t, err)
	require.Equal(t, id, got)

	_, err = ParseID("not-an-id")
	require.True(t, errors.Is(err, ErrInvalidID))
}
