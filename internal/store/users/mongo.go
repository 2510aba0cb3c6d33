// SPDX-License-Identifier: MIT

package users

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/flockd/internal/session/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore stores accounts in the users collection. User IDs are allocated
// from an atomic counter document so concurrent registrations never collide.
type MongoStore struct {
	users    *mongo.Collection
	counters *mongo.Collection
}

// NewMongoStore wraps an already connected client.
func NewMongoStore(ctx context.Context, client *mongo.Client, database string) (*MongoStore, error) {
	db := client.Database(database)
	s := &MongoStore{
		users:    db.Collection("users"),
		counters: db.Collection("counters"),
	}
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "phone", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// nextUserID increments the allocation counter and maps it into the web-tier
// ID range.
func (s *MongoStore) nextUserID(ctx context.Context) (int64, error) {
	var doc struct {
		Value int64 `bson:"value"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "webUserId"},
		bson.M{"$inc": bson.M{"value": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return model.WebTierThreshold + doc.Value - 1, nil
}

func (s *MongoStore) Register(ctx context.Context, phone, password string) (*Account, error) {
	phone = model.NormalizePhone(phone)
	if _, err := s.GetByPhone(ctx, phone); err == nil {
		return nil, ErrPhoneTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}
	userID, err := s.nextUserID(ctx)
	if err != nil {
		return nil, err
	}

	acct := &Account{
		UserID:       userID,
		Phone:        phone,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	if _, err := s.users.InsertOne(ctx, acct); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrPhoneTaken
		}
		return nil, err
	}
	return acct, nil
}

func (s *MongoStore) Authenticate(ctx context.Context, phone, password string) (*Account, error) {
	acct, err := s.GetByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := checkPassword(acct.PasswordHash, password); err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *MongoStore) GetByPhone(ctx context.Context, phone string) (*Account, error) {
	var acct Account
	err := s.users.FindOne(ctx, bson.M{"phone": model.NormalizePhone(phone)}).Decode(&acct)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

func (s *MongoStore) GetByID(ctx context.Context, userID int64) (*Account, error) {
	var acct Account
	err := s.users.FindOne(ctx, bson.M{"userId": userID}).Decode(&acct)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// Close is a no-op; the shared client is owned by the caller.
func (s *MongoStore) Close(ctx context.Context) error { return nil }
