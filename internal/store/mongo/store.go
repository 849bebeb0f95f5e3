// Package mongo is the MongoDB sample store. Documents live in the "price"
// collection as {symbol, price, timestamp}.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"cryptocollector/internal/model"
)

const (
	PriceCollection = "price"
	DefaultDatabase = "cryptoCollector"

	batchSize  = 500
	flushDelay = 250 * time.Millisecond
)

// Config configures the MongoDB store.
type Config struct {
	URI      string // e.g. "mongodb://localhost:27017/"
	Database string
}

// Store persists price samples in MongoDB.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	log    *zap.Logger

	// OnCommit is called after each successful InsertMany (optional).
	OnCommit func(n int, elapsed time.Duration)
}

var _ model.SampleStore = (*Store)(nil)

// New connects, pings the server and ensures the (symbol, timestamp) index.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(PriceCollection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "symbol", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo index: %w", err)
	}

	log = log.Named("mongo")
	log.Info("connected", zap.String("db", cfg.Database))
	return &Store{client: client, coll: coll, log: log}, nil
}

// priceDoc is the stored shape of a sample.
type priceDoc struct {
	Symbol    string               `bson:"symbol"`
	Price     primitive.Decimal128 `bson:"price"`
	Timestamp time.Time            `bson:"timestamp"`
}

func toDoc(s model.Sample) (priceDoc, error) {
	p, err := primitive.ParseDecimal128(s.Price.String())
	if err != nil {
		return priceDoc{}, fmt.Errorf("price %s: %w", s.Price, err)
	}
	return priceDoc{Symbol: s.Symbol, Price: p, Timestamp: s.TS.UTC()}, nil
}

// rawDoc tolerates prices written as doubles or strings by other writers.
type rawDoc struct {
	Symbol    string        `bson:"symbol"`
	Price     bson.RawValue `bson:"price"`
	Timestamp time.Time     `bson:"timestamp"`
}

func fromDoc(d rawDoc) (model.Sample, error) {
	var (
		price decimal.Decimal
		err   error
	)
	switch d.Price.Type {
	case bsontype.Decimal128:
		price, err = decimal.NewFromString(d.Price.Decimal128().String())
	case bsontype.Double:
		price = decimal.NewFromFloat(d.Price.Double())
	case bsontype.String:
		price, err = decimal.NewFromString(d.Price.StringValue())
	case bsontype.Int64:
		price = decimal.NewFromInt(d.Price.Int64())
	case bsontype.Int32:
		price = decimal.NewFromInt(int64(d.Price.Int32()))
	default:
		err = fmt.Errorf("unsupported price type %s", d.Price.Type)
	}
	if err != nil {
		return model.Sample{}, fmt.Errorf("%w: %s price: %v", model.ErrInvalidInput, d.Symbol, err)
	}
	return model.Sample{Symbol: d.Symbol, TS: d.Timestamp.UTC(), Price: price}, nil
}

// rangeFilter selects symbol samples with from <= timestamp <= to.
func rangeFilter(symbol string, from, to time.Time) bson.M {
	return bson.M{
		"symbol": symbol,
		"timestamp": bson.M{
			"$gte": from.UTC(),
			"$lte": to.UTC(),
		},
	}
}

// InsertSamples writes the batch with one unordered InsertMany.
func (s *Store) InsertSamples(ctx context.Context, samples []model.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	start := time.Now()
	docs := make([]any, len(samples))
	for i, smp := range samples {
		d, err := toDoc(smp)
		if err != nil {
			return fmt.Errorf("mongo insert: %w", err)
		}
		docs[i] = d
	}
	if _, err := s.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false)); err != nil {
		return fmt.Errorf("mongo insert: %w", err)
	}
	elapsed := time.Since(start)
	s.log.Debug("inserted samples", zap.Int("samples", len(samples)), zap.Duration("elapsed", elapsed))
	if s.OnCommit != nil {
		s.OnCommit(len(samples), elapsed)
	}
	return nil
}

// Run inserts samples from ch, one InsertMany per poll burst. A burst ends
// when ch stays idle for flushDelay or holds batchSize samples.
func (s *Store) Run(ctx context.Context, ch <-chan model.Sample) {
	batch := make([]model.Sample, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.InsertSamples(context.Background(), batch); err != nil {
			s.log.Error("batch insert error", zap.Int("samples", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		var idle <-chan time.Time
		if len(batch) > 0 {
			idle = time.After(flushDelay)
		}
		select {
		case <-ctx.Done():
			flush()
			return
		case smp, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, smp)
			if len(batch) >= batchSize {
				flush()
			}
		case <-idle:
			flush()
		}
	}
}

// ReadSamples returns samples for symbol with from <= ts <= to, ascending.
// A zero to means now.
func (s *Store) ReadSamples(ctx context.Context, symbol string, from, to time.Time) ([]model.Sample, error) {
	if to.IsZero() {
		to = time.Now()
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cur, err := s.coll.Find(ctx, rangeFilter(symbol, from, to), opts)
	if err != nil {
		return nil, fmt.Errorf("mongo find: %w", err)
	}
	defer cur.Close(ctx)

	out := make([]model.Sample, 0)
	for cur.Next(ctx) {
		var d rawDoc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("mongo decode: %w", err)
		}
		smp, err := fromDoc(d)
		if err != nil {
			return nil, err
		}
		out = append(out, smp)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongo cursor: %w", err)
	}
	return out, nil
}

// LastTimestamp returns the newest stored sample time for symbol, or the
// zero time when there is none.
func (s *Store) LastTimestamp(ctx context.Context, symbol string) (time.Time, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetProjection(bson.M{"timestamp": 1})
	var d struct {
		Timestamp time.Time `bson:"timestamp"`
	}
	err := s.coll.FindOne(ctx, bson.M{"symbol": symbol}, opts).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("mongo last ts: %w", err)
	}
	return d.Timestamp.UTC(), nil
}

// Symbols lists every symbol with at least one stored sample.
func (s *Store) Symbols(ctx context.Context) ([]string, error) {
	vals, err := s.coll.Distinct(ctx, "symbol", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongo distinct: %w", err)
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if sym, ok := v.(string); ok {
			out = append(out, sym)
		}
	}
	return out, nil
}

// Ping verifies the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
