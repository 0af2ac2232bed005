// Package mongo stores transfer list snapshots in MongoDB so the list
// survives restarts even when the local state directory is lost.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"swarmhub/internal/domain"
)

type SnapshotStore struct {
	collection *mongo.Collection
}

type snapshotDoc struct {
	ID        string   `bson:"_id"` // fingerprint
	Name      string   `bson:"name"`
	SavePath  string   `bson:"savePath"`
	Trackers  []string `bson:"trackers,omitempty"`
	UpdatedAt int64    `bson:"updatedAt"`
}

func NewSnapshotStore(client *mongo.Client, dbName, collectionName string) *SnapshotStore {
	return &SnapshotStore{collection: client.Database(dbName).Collection(collectionName)}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	return mongo.Connect(ctx, opts...)
}

// WriteSnapshot replaces the stored list wholesale. The list is small enough
// that diffing individual documents is not worth the complexity.
func (s *SnapshotStore) WriteSnapshot(ctx context.Context, entries []domain.TorrentSnapshot) error {
	if _, err := s.collection.DeleteMany(ctx, bson.D{}); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	docs := make([]any, 0, len(entries))
	now := time.Now().Unix()
	for _, e := range entries {
		docs = append(docs, toDoc(e, now))
	}
	if _, err := s.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) ReadSnapshot(ctx context.Context) ([]domain.TorrentSnapshot, error) {
	cursor, err := s.collection.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []domain.TorrentSnapshot
	for cursor.Next(ctx) {
		var doc snapshotDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode snapshot entry: %w", err)
		}
		entries = append(entries, fromDoc(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot: %w", err)
	}
	return entries, nil
}

func toDoc(e domain.TorrentSnapshot, updatedAt int64) snapshotDoc {
	return snapshotDoc{
		ID:        string(e.Fingerprint),
		Name:      e.Name,
		SavePath:  e.SavePath,
		Trackers:  e.Trackers,
		UpdatedAt: updatedAt,
	}
}

func fromDoc(doc snapshotDoc) domain.TorrentSnapshot {
	return domain.TorrentSnapshot{
		Fingerprint: domain.Fingerprint(doc.ID),
		Name:        doc.Name,
		SavePath:    doc.SavePath,
		Trackers:    doc.Trackers,
	}
}
