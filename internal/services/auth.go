package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"solana-portfolio-api/internal/config"
	"solana-portfolio-api/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var (
	ErrInvalidAPIKey  = errors.New("invalid API key")
	ErrInactiveAPIKey = errors.New("API key is inactive")
	ErrDatabaseError  = errors.New("database error")
)

// validatedKey is a cached positive validation result
type validatedKey struct {
	apiKey    *models.APIKey
	timestamp time.Time
}

// AuthService handles API key authentication using MongoDB. Positive
// validations are cached briefly so hot keys don't hit the database on
// every request.
type AuthService struct {
	db         *mongo.Database
	collection *mongo.Collection
	config     *config.MongoDBConfig

	mu       sync.RWMutex
	validated map[string]validatedKey
	cacheTTL  time.Duration
}

// NewAuthService creates a new authentication service with optimized MongoDB connection
func NewAuthService(cfg *config.MongoDBConfig) (*AuthService, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(cfg.URI)

	// Connection pool optimization
	clientOptions.SetMaxPoolSize(cfg.MaxPoolSize)
	clientOptions.SetMinPoolSize(uint64(cfg.MaxPoolSize / 4)) // 25% of max as minimum
	clientOptions.SetMaxConnIdleTime(30 * time.Minute)
	clientOptions.SetMaxConnecting(uint64(cfg.MaxPoolSize / 2))

	// Timeout configurations for performance
	clientOptions.SetConnectTimeout(cfg.ConnectTimeout)
	clientOptions.SetSocketTimeout(30 * time.Second)
	clientOptions.SetServerSelectionTimeout(5 * time.Second)
	clientOptions.SetHeartbeatInterval(10 * time.Second)

	clientOptions.SetCompressors([]string{"snappy", "zlib", "zstd"})
	clientOptions.SetReadPreference(readpref.SecondaryPreferred())
	clientOptions.SetRetryWrites(true)
	clientOptions.SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	db := client.Database(cfg.Database)
	collection := db.Collection(cfg.APIKeyCollection)

	// Create index on key field for fast lookups
	indexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true),
	}

	// Index might already exist, which is fine
	_, _ = collection.Indexes().CreateOne(ctx, indexModel)

	return &AuthService{
		db:         db,
		collection: collection,
		config:     cfg,
		validated:  make(map[string]validatedKey),
		cacheTTL:   30 * time.Second,
	}, nil
}

// ValidateAPIKey validates an API key against the MongoDB database
func (a *AuthService) ValidateAPIKey(key string) (*models.APIKey, error) {
	if key == "" {
		return nil, ErrInvalidAPIKey
	}

	a.mu.RLock()
	if cached, found := a.validated[key]; found && time.Since(cached.timestamp) < a.cacheTTL {
		a.mu.RUnlock()
		return cached.apiKey, nil
	}
	a.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var apiKey models.APIKey
	filter := bson.M{"key": key}

	err := a.collection.FindOne(ctx, filter).Decode(&apiKey)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrInvalidAPIKey
		}
		return nil, ErrDatabaseError
	}

	// Check if API key is active
	if !apiKey.Active {
		return nil, ErrInactiveAPIKey
	}

	a.mu.Lock()
	a.validated[key] = validatedKey{apiKey: &apiKey, timestamp: time.Now()}
	a.mu.Unlock()

	// Update last used timestamp
	go a.updateLastUsed(apiKey.ID)

	return &apiKey, nil
}

// updateLastUsed updates the last_used timestamp for an API key
func (a *AuthService) updateLastUsed(id interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now()
	filter := bson.M{"_id": id}
	update := bson.M{"$set": bson.M{"last_used": now}}

	a.collection.UpdateOne(ctx, filter, update)
}

// Close closes the MongoDB connection
func (a *AuthService) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return a.db.Client().Disconnect(ctx)
}
