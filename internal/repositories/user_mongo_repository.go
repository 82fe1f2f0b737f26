package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"handmade/internal/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const userQueryTimeout = 10 * time.Second

// MongoUserRepository stores users in the "users" collection.
type MongoUserRepository struct {
	coll *mongo.Collection
}

// NewMongoUserRepository creates a new instance of MongoUserRepository.
func NewMongoUserRepository(db *mongo.Database) *MongoUserRepository {
	return &MongoUserRepository{
		coll: db.Collection("users"),
	}
}

// EnsureIndexes makes email unique.
func (r *MongoUserRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create user indexes: %w", err)
	}
	return nil
}

// Create inserts a new user document.
func (r *MongoUserRepository) Create(user *models.User) error {
	ctx, cancel := context.WithTimeout(context.Background(), userQueryTimeout)
	defer cancel()

	user.Email = NormalizeEmail(user.Email)
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now

	if _, err := r.coll.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("failed to create user: %s: %w", user.Email, ErrEmailTaken)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByEmail retrieves a user by email.
func (r *MongoUserRepository) GetByEmail(email string) (*models.User, error) {
	email = NormalizeEmail(email)
	return r.findOne(bson.M{"email": email}, fmt.Sprintf("user with email %s", email))
}

// GetByID retrieves a user by ID.
func (r *MongoUserRepository) GetByID(id string) (*models.User, error) {
	return r.findOne(bson.M{"_id": id}, fmt.Sprintf("user with ID %s", id))
}

func (r *MongoUserRepository) findOne(filter bson.M, what string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(context.Background(), userQueryTimeout)
	defer cancel()

	var user models.User
	if err := r.coll.FindOne(ctx, filter).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s %w", what, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s: %w", what, err)
	}
	return &user, nil
}
