package guard

import (
	"context"

	"sso-session-svc/src/clients"
	"sso-session-svc/src/internal/models"

	"go.mongodb.org/mongo-driver/mongo"
)

// AttemptLog is the permanent, append-only record of login attempts.
type AttemptLog interface {
	Append(ctx context.Context, attempt models.LoginAttempt) error
}

type mongoAttemptLog struct {
	collection *mongo.Collection
}

func NewMongoAttemptLog(db *clients.MongoDB, collectionName string) AttemptLog {
	return &mongoAttemptLog{collection: db.Database.Collection(collectionName)}
}

func (l *mongoAttemptLog) Append(ctx context.Context, attempt models.LoginAttempt) error {
	if _, err := l.collection.InsertOne(ctx, attempt); err != nil {
		return models.ErrDatabaseInsert
	}
	return nil
}
