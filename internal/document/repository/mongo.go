package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ceolin/mobilidade/backend/go-services/internal/document"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// mongoRecord is the stored form of the document: one record keyed by path.
type mongoRecord struct {
	Path      string    `bson:"_id"`
	Content   string    `bson:"content"`
	Version   string    `bson:"version"`
	Message   string    `bson:"message"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// MongoRepo implements the document store on a MongoDB collection.
// Creates rely on the unique _id; updates filter on the expected version.
type MongoRepo struct {
	col  *mongo.Collection
	path string
}

func NewMongoRepo(col *mongo.Collection, path string) *MongoRepo {
	return &MongoRepo{col: col, path: path}
}

func (m *MongoRepo) Name() string { return "mongo" }

func (m *MongoRepo) Read(ctx context.Context) (*document.Blob, error) {
	var rec mongoRecord
	err := m.col.FindOne(ctx, bson.M{"_id": m.path}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, document.ErrNotFound
		}
		return nil, &document.StoreError{Store: m.Name(), Op: "read", Err: err}
	}
	return &document.Blob{Content: []byte(rec.Content), Version: document.Version(rec.Version)}, nil
}

func (m *MongoRepo) WriteIfMatch(ctx context.Context, content []byte, expected document.Version, message string) (*document.WriteResult, error) {
	now := time.Now().UTC()
	next := uuid.NewString()

	if expected.IsZero() {
		rec := mongoRecord{Path: m.path, Content: string(content), Version: next, Message: message, UpdatedAt: now}
		if _, err := m.col.InsertOne(ctx, rec); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, document.ErrConflict
			}
			return nil, &document.StoreError{Store: m.Name(), Op: "write", Err: err}
		}
	} else {
		filter := bson.M{"_id": m.path, "version": string(expected)}
		set := bson.M{"$set": bson.M{"content": string(content), "version": next, "message": message, "updatedAt": now}}
		res, err := m.col.UpdateOne(ctx, filter, set)
		if err != nil {
			return nil, &document.StoreError{Store: m.Name(), Op: "write", Err: err}
		}
		if res.MatchedCount == 0 {
			return nil, document.ErrConflict
		}
	}
	return &document.WriteResult{
		Store:       m.Name(),
		Path:        m.path,
		Version:     document.Version(next),
		CommitID:    next,
		Message:     message,
		CommittedAt: now,
	}, nil
}
