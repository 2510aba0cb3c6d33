// SPDX-License-Identifier: MIT

package credstore

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ManuGH/flockd/internal/log"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoOpTimeout     = 10 * time.Second
	mongoPingTimeout   = 5 * time.Second
	mongoProbeInterval = 10 * time.Second
)

// credentialDoc is the stored shape of one credential record.
type credentialDoc struct {
	SessionID string    `bson:"sessionId"`
	FileName  string    `bson:"fileName"`
	Data      string    `bson:"data"` // sealbox ciphertext, base64
	UpdatedAt time.Time `bson:"updatedAt"`
}

// MongoBackend stores sealed credential records in the auth collection.
type MongoBackend struct {
	client    *mongo.Client
	coll      *mongo.Collection
	connected atomic.Bool
	stop      chan struct{}
	logger    zerolog.Logger
}

// OpenMongo connects to uri. Unreachable servers leave the backend
// disconnected; a background probe flips it online later.
func OpenMongo(ctx context.Context, uri, database string) (*MongoBackend, error) {
	connectCtx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	b := &MongoBackend{
		client: client,
		coll:   client.Database(database).Collection("auth"),
		stop:   make(chan struct{}),
		logger: log.WithComponent("credstore.mongo"),
	}

	pingCtx, cancelPing := context.WithTimeout(ctx, mongoPingTimeout)
	defer cancelPing()
	if err := client.Ping(pingCtx, nil); err != nil {
		b.logger.Warn().Err(err).Msg("mongo unreachable at startup, starting disconnected")
	} else {
		b.connected.Store(true)
		b.ensureIndexes(ctx)
	}

	go b.probeLoop()
	return b, nil
}

func (b *MongoBackend) ensureIndexes(ctx context.Context) {
	idxCtx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()
	_, err := b.coll.Indexes().CreateOne(idxCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "sessionId", Value: 1}, {Key: "fileName", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		b.logger.Warn().Err(err).Msg("failed to ensure auth indexes")
	}
}

func (b *MongoBackend) probeLoop() {
	ticker := time.NewTicker(mongoProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), mongoPingTimeout)
			err := b.client.Ping(ctx, nil)
			cancel()
			was := b.connected.Swap(err == nil)
			if err == nil && !was {
				b.logger.Info().Msg("mongo credential backing reconnected")
				b.ensureIndexes(context.Background())
			}
			if err != nil && was {
				b.logger.Warn().Err(err).Msg("mongo credential backing lost")
			}
		}
	}
}

func (b *MongoBackend) Get(ctx context.Context, sessionID, fileName string) (string, error) {
	var doc credentialDoc
	err := b.coll.FindOne(ctx, bson.M{"sessionId": sessionID, "fileName": fileName}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return doc.Data, nil
}

func (b *MongoBackend) Set(ctx context.Context, sessionID, fileName, sealed string) error {
	_, err := b.coll.ReplaceOne(ctx,
		bson.M{"sessionId": sessionID, "fileName": fileName},
		credentialDoc{SessionID: sessionID, FileName: fileName, Data: sealed, UpdatedAt: time.Now()},
		options.Replace().SetUpsert(true))
	return err
}

func (b *MongoBackend) Delete(ctx context.Context, sessionID, fileName string) error {
	_, err := b.coll.DeleteOne(ctx, bson.M{"sessionId": sessionID, "fileName": fileName})
	return err
}

func (b *MongoBackend) List(ctx context.Context, sessionID string) (map[string]string, error) {
	cur, err := b.coll.Find(ctx, bson.M{"sessionId": sessionID})
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	out := make(map[string]string)
	for cur.Next(ctx) {
		var doc credentialDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out[doc.FileName] = doc.Data
	}
	return out, cur.Err()
}

func (b *MongoBackend) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := b.coll.DeleteMany(ctx, bson.M{"sessionId": sessionID})
	return err
}

func (b *MongoBackend) Connected() bool { return b.connected.Load() }

func (b *MongoBackend) Close() error {
	close(b.stop)
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()
	return b.client.Disconnect(ctx)
}
