package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/ceolin/mobilidade/backend/go-services/internal/document"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestMongoRepo(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ns := func(mt *mtest.T) string { return mt.Coll.Database().Name() + "." + mt.Coll.Name() }

	mt.Run("read missing", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch))
		_, err := NewMongoRepo(mt.Coll, "banco.json").Read(context.Background())
		require.ErrorIs(mt, err, document.ErrNotFound)
	})

	mt.Run("read existing", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "banco.json"},
			{Key: "content", Value: `{"users":[]}`},
			{Key: "version", Value: "v-1"},
		}))
		blob, err := NewMongoRepo(mt.Coll, "banco.json").Read(context.Background())
		require.NoError(mt, err)
		require.Equal(mt, `{"users":[]}`, string(blob.Content))
		require.Equal(mt, document.Version("v-1"), blob.Version)
	})

	mt.Run("create", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		res, err := NewMongoRepo(mt.Coll, "banco.json").WriteIfMatch(context.Background(), []byte(`{}`), "", "CMS: init")
		require.NoError(mt, err)
		require.NotEmpty(mt, res.Version)
		require.Equal(mt, "mongo", res.Store)
	})

	mt.Run("create over existing conflicts", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "duplicate key error"}))
		_, err := NewMongoRepo(mt.Coll, "banco.json").WriteIfMatch(context.Background(), []byte(`{}`), "", "CMS: init")
		require.ErrorIs(mt, err, document.ErrConflict)
	})

	mt.Run("update with current version", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}))
		res, err := NewMongoRepo(mt.Coll, "banco.json").WriteIfMatch(context.Background(), []byte(`{}`), "v-1", "CMS: update")
		require.NoError(mt, err)
		require.NotEqual(mt, document.Version("v-1"), res.Version)
	})

	mt.Run("update with stale version conflicts", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}))
		_, err := NewMongoRepo(mt.Coll, "banco.json").WriteIfMatch(context.Background(), []byte(`{}`), "stale", "CMS: update")
		require.ErrorIs(mt, err, document.ErrConflict)
	})

	mt.Run("command failure is a store error", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 2, Message: "bad value"}))
		_, err := NewMongoRepo(mt.Coll, "banco.json").Read(context.Background())
		var se *document.StoreError
		require.True(mt, errors.As(err, &se))
		require.Equal(mt, "read", se.Op)
	})
}
