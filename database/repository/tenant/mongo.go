package tenantRepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tablebook/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoTenantRepo struct {
	coll       *mongo.Collection
	fallbackTZ string
}

func NewMongoTenantRepo(db *mongo.Database, fallbackTZ string) *MongoTenantRepo {
	return &MongoTenantRepo{coll: db.Collection("tenants"), fallbackTZ: fallbackTZ}
}

func (r *MongoTenantRepo) FindByID(ctx context.Context, id string) (*models.Tenant, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var tenant models.Tenant
	if err := r.coll.FindOne(ctx, bson.M{"id": id}).Decode(&tenant); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("error fetching tenant with id %s: %w", id, err)
	}
	if err := tenant.Resolve(r.fallbackTZ); err != nil {
		return nil, err
	}
	return &tenant, nil
}

// Upsert stores a tenant document. Used by seeding and tests against a live database.
func (r *MongoTenantRepo) Upsert(ctx context.Context, tenant *models.Tenant) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.Replace().SetUpsert(true)
	if _, err := r.coll.ReplaceOne(ctx, bson.M{"id": tenant.ID}, tenant, opts); err != nil {
		return fmt.Errorf("failed to upsert tenant %s: %w", tenant.ID, err)
	}
	return nil
}

// EnsureIndexes creates the unique id index on tenants.
func (r *MongoTenantRepo) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("unique_id"),
	})
	if err != nil {
		return fmt.Errorf("failed to create tenant indexes: %w", err)
	}
	return nil
}
