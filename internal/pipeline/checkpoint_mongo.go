package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoCheckpointCollection = "checkpoints"

type mongoCheckpoint struct {
	RunId     string    `bson:"_id"`
	Stage     string    `bson:"stage"`
	State     string    `bson:"state"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoCheckpoints stores one document per run, keyed by run id.
type MongoCheckpoints struct {
	collection *mongo.Collection
}

func NewMongoCheckpoints(client *mongo.Client, database string) *MongoCheckpoints {
	return &MongoCheckpoints{
		collection: client.Database(database).Collection(mongoCheckpointCollection),
	}
}

func (m *MongoCheckpoints) Load(ctx context.Context, runId string) (*Run, error) {
	var doc mongoCheckpoint
	if err := m.collection.FindOne(ctx, bson.M{"_id": runId}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("error loading checkpoint: %w", err)
	}
	return decodeRun([]byte(doc.State))
}

func (m *MongoCheckpoints) Save(ctx context.Context, run *Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}

	doc := mongoCheckpoint{
		RunId:     run.RunId,
		Stage:     string(run.Stage),
		State:     string(data),
		UpdatedAt: time.Now().UTC(),
	}
	_, err = m.collection.ReplaceOne(ctx, bson.M{"_id": run.RunId}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("error saving checkpoint: %w", err)
	}
	return nil
}

func (m *MongoCheckpoints) Delete(ctx context.Context, runId string) error {
	_, err := m.collection.DeleteOne(ctx, bson.M{"_id": runId})
	return err
}
