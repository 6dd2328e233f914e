package services

import (
	"context"
	"time"

	"solana-portfolio-api/internal/config"
	"solana-portfolio-api/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SnapshotRepository persists aggregated portfolio results to MongoDB so
// callers can look up a wallet's last known portfolio without refetching
type SnapshotRepository struct {
	db         *mongo.Database
	collection *mongo.Collection
	config     *config.MongoDBConfig
}

// snapshotDocument is the stored shape of an AggregatedResult
type snapshotDocument struct {
	WalletAddress string            `bson:"wallet_address"`
	Positions     []models.Position `bson:"positions"`
	TotalValue    float64           `bson:"total_value"`
	WeightedApy   float64           `bson:"weighted_apy"`
	TotalRewards  float64           `bson:"total_rewards"`
	UpdatedAt     time.Time         `bson:"updated_at"`
}

// NewSnapshotRepository connects to MongoDB and prepares the snapshot
// collection with its wallet/time index
func NewSnapshotRepository(cfg *config.MongoDBConfig) (*SnapshotRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(cfg.URI)
	clientOptions.SetMaxPoolSize(cfg.MaxPoolSize)
	clientOptions.SetConnectTimeout(cfg.ConnectTimeout)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	db := client.Database(cfg.Database)
	collection := db.Collection(cfg.SnapshotCollection)

	indexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "wallet_address", Value: 1},
			{Key: "updated_at", Value: -1},
		},
	}

	// Index might already exist, which is fine
	_, _ = collection.Indexes().CreateOne(ctx, indexModel)

	return &SnapshotRepository{
		db:         db,
		collection: collection,
		config:     cfg,
	}, nil
}

// Save inserts one snapshot document for the result
func (r *SnapshotRepository) Save(ctx context.Context, result *models.AggregatedResult) error {
	doc := snapshotDocument{
		WalletAddress: result.WalletAddress,
		Positions:     result.Positions,
		TotalValue:    result.TotalValue,
		WeightedApy:   result.WeightedApy,
		TotalRewards:  result.TotalRewards,
		UpdatedAt:     result.UpdatedAt,
	}

	_, err := r.collection.InsertOne(ctx, doc)
	return err
}

// Latest returns the most recent snapshot for a wallet, or nil if none
// exists
func (r *SnapshotRepository) Latest(ctx context.Context, wallet string) (*models.AggregatedResult, error) {
	filter := bson.M{"wallet_address": wallet}
	opts := options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}})

	var doc snapshotDocument
	err := r.collection.FindOne(ctx, filter, opts).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}

	byProtocol := make(map[string][]models.Position)
	for _, position := range doc.Positions {
		byProtocol[position.Protocol] = append(byProtocol[position.Protocol], position)
	}

	return &models.AggregatedResult{
		WalletAddress: doc.WalletAddress,
		Positions:     doc.Positions,
		ByProtocol:    byProtocol,
		TotalValue:    doc.TotalValue,
		WeightedApy:   doc.WeightedApy,
		TotalRewards:  doc.TotalRewards,
		Cached:        true,
		UpdatedAt:     doc.UpdatedAt,
	}, nil
}

// Close closes the MongoDB connection
func (r *SnapshotRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return r.db.Client().Disconnect(ctx)
}
