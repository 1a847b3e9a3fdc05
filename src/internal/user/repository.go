package user

import (
	"context"
	"errors"
	"time"

	"sso-session-svc/src/clients"
	"sso-session-svc/src/internal/models"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type Repository interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, userID string) (*User, error)
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
}

type userRepository struct {
	Collection *mongo.Collection
}

func NewUserRepository(mongoClient *clients.MongoDB, collectionName string) Repository {
	return &userRepository{
		Collection: mongoClient.Database.Collection(collectionName),
	}
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	filter := bson.M{
		"email":      email,
		"deleted_at": bson.M{"$exists": false},
	}
	return r.findOne(ctx, filter)
}

func (r *userRepository) GetByID(ctx context.Context, userID string) (*User, error) {
	id, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, models.ErrRecordNotFound
	}
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *userRepository) findOne(ctx context.Context, filter bson.M) (*User, error) {
	var user User
	err := r.Collection.FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrRecordNotFound
		}
		logrus.WithError(err).Error("Failed to find user")
		return nil, models.ErrDatabaseQuery
	}
	return &user, nil
}

func (r *userRepository) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	id, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return models.ErrRecordNotFound
	}

	update := bson.M{"$set": bson.M{
		"last_login_at": at,
		"updated_at":    at,
	}}

	result, err := r.Collection.UpdateByID(ctx, id, update)
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("Failed to update last login")
		return models.ErrDatabaseUpdate
	}
	if result.MatchedCount == 0 {
		return models.ErrRecordNotFound
	}

	logrus.WithField("user_id", userID).Debug("Last login updated")
	return nil
}
