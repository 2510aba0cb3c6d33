// SPDX-License-Identifier: MIT

package sessionstore

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ManuGH/flockd/internal/log"
	"github.com/ManuGH/flockd/internal/session/model"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoConnectTimeout = 10 * time.Second
	mongoPingTimeout    = 5 * time.Second
	mongoProbeInterval  = 10 * time.Second
)

// MongoStore implements Store on a MongoDB collection.
type MongoStore struct {
	client    *mongo.Client
	coll      *mongo.Collection
	connected atomic.Bool
	stop      chan struct{}
	logger    zerolog.Logger
}

// OpenMongo connects to uri and prepares the sessions collection. A failed
// initial ping does not fail the open; the store starts disconnected and a
// background probe flips it online when the server becomes reachable.
func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	s := &MongoStore{
		client: client,
		coll:   client.Database(database).Collection("sessions"),
		stop:   make(chan struct{}),
		logger: log.WithComponent("sessionstore.mongo"),
	}

	pingCtx, cancelPing := context.WithTimeout(ctx, mongoPingTimeout)
	defer cancelPing()
	if err := client.Ping(pingCtx, nil); err != nil {
		s.logger.Warn().Err(err).Msg("mongo unreachable at startup, starting disconnected")
	} else {
		s.connected.Store(true)
		s.ensureIndexes(ctx)
	}

	go s.probeLoop()
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) {
	idxCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()
	_, err := s.coll.Indexes().CreateMany(idxCtx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "sessionId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "source", Value: 1}, {Key: "isConnected", Value: 1}}},
		{Keys: bson.D{{Key: "phoneNumber", Value: 1}}},
		{Keys: bson.D{{Key: "updatedAt", Value: -1}}},
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to ensure session indexes")
	}
}

// probeLoop keeps the connected flag honest.
func (s *MongoStore) probeLoop() {
	ticker := time.NewTicker(mongoProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), mongoPingTimeout)
			err := s.client.Ping(ctx, nil)
			cancel()
			was := s.connected.Swap(err == nil)
			if err == nil && !was {
				s.logger.Info().Msg("mongo backing reconnected")
				s.ensureIndexes(context.Background())
			}
			if err != nil && was {
				s.logger.Warn().Err(err).Msg("mongo backing lost")
			}
		}
	}
}

func (s *MongoStore) Save(ctx context.Context, rec *model.Session) error {
	doc := rec.Clone()
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now()
	}
	_, err := s.coll.ReplaceOne(ctx,
		bson.M{"sessionId": doc.SessionID},
		doc,
		options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	var rec model.Session
	err := s.coll.FindOne(ctx, bson.M{"sessionId": sessionID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *MongoStore) Update(ctx context.Context, sessionID string, patch model.Patch) error {
	set := bson.M{}
	for k, v := range touch(patch, time.Now()) {
		set[k] = v
	}
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"sessionId": sessionID},
		bson.M{"$set": set},
		options.Update().SetUpsert(true))
	return err
}

func (s *MongoStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"sessionId": sessionID})
	return err
}

func (s *MongoStore) find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]*model.Session, error) {
	cur, err := s.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []*model.Session
	for cur.Next(ctx) {
		var rec model.Session
		if err := cur.Decode(&rec); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, cur.Err()
}

func (s *MongoStore) List(ctx context.Context) ([]*model.Session, error) {
	return s.find(ctx, bson.M{})
}

func (s *MongoStore) GetByPhone(ctx context.Context, phone string) (*model.Session, error) {
	var rec model.Session
	err := s.coll.FindOne(ctx, bson.M{"phoneNumber": phone}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *MongoStore) ListResumable(ctx context.Context) ([]*model.Session, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"isConnected": true},
		bson.M{"connectionStatus": bson.M{"$in": bson.A{
			string(model.StatusConnected), string(model.StatusConnecting),
		}}},
	}}
	return s.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}}))
}

func (s *MongoStore) ListHandoverCandidates(ctx context.Context) ([]*model.Session, error) {
	return s.find(ctx, bson.M{
		"source":      string(model.SourceWeb),
		"detected":    false,
		"isConnected": true,
	})
}

func (s *MongoStore) ClaimForWorker(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"sessionId": sessionID, "detected": false},
		bson.M{"$set": bson.M{"detected": true, "updatedAt": time.Now()}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (s *MongoStore) Connected() bool { return s.connected.Load() }

func (s *MongoStore) Close(ctx context.Context) error {
	close(s.stop)
	return s.client.Disconnect(ctx)
}
