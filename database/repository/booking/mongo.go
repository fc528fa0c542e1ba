package bookingRepo

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

// MongoBookingRepo implements BookingRepository using MongoDB.
type MongoBookingRepo struct {
	bookingColl *mongo.Collection
}

// NewMongoBookingRepo constructs a new instance of MongoBookingRepo.
func NewMongoBookingRepo(db *mongo.Database) *MongoBookingRepo {
	return &MongoBookingRepo{bookingColl: db.Collection("bookings")}
}

func (repo *MongoBookingRepo) Create(ctx context.Context, booking *models.Booking) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := repo.bookingColl.InsertOne(ctx, booking); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

func (repo *MongoBookingRepo) FindByID(ctx context.Context, tenantID, id string) (*models.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var booking models.Booking
	err := repo.bookingColl.FindOne(ctx, bson.M{"id": id, "tenant_id": tenantID}).Decode(&booking)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("error fetching booking with id %s: %w", id, err)
	}
	return &booking, nil
}

func (repo *MongoBookingRepo) FindByUser(ctx context.Context, tenantID, userPhone string) ([]models.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "start_at", Value: -1}})
	cursor, err := repo.bookingColl.Find(ctx, bson.M{"tenant_id": tenantID, "user_phone": userPhone}, opts)
	if err != nil {
		return nil, fmt.Errorf("error finding user bookings: %w", err)
	}
	return decodeBookings(ctx, cursor)
}

func (repo *MongoBookingRepo) FindOverlapping(ctx context.Context, tenantID string, from, to time.Time) ([]models.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"tenant_id": tenantID,
		"status":    models.BookingConfirmed,
		"start_at":  bson.M{"$lt": to},
		"end_at":    bson.M{"$gt": from},
	}
	opts := options.Find().SetSort(bson.D{{Key: "start_at", Value: 1}})
	cursor, err := repo.bookingColl.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error finding overlapping bookings: %w", err)
	}
	return decodeBookings(ctx, cursor)
}

func (repo *MongoBookingRepo) UpdateVersioned(ctx context.Context, tenantID, id string, patch models.BookingPatch, expectedVersion int, now time.Time) (*models.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	set := bson.M{"updated_at": now}
	if patch.Name != nil {
		set["name"] = *patch.Name
	}
	if patch.People != nil {
		set["people"] = *patch.People
	}
	if patch.StartAt != nil {
		set["start_at"] = *patch.StartAt
	}
	if patch.EndAt != nil {
		set["end_at"] = *patch.EndAt
	}
	if patch.Status != nil {
		set["status"] = *patch.Status
	}

	filter := bson.M{"id": id, "tenant_id": tenantID, "version": expectedVersion}
	update := bson.M{"$set": set, "$inc": bson.M{"version": 1}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.Booking
	err := repo.bookingColl.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to update booking: %w", err)
	}
	// Nothing matched: distinguish a missing booking from a stale version.
	if _, findErr := repo.FindByID(ctx, tenantID, id); findErr != nil {
		return nil, findErr
	}
	return nil, ErrVersionConflict
}

func (repo *MongoBookingRepo) Cancel(ctx context.Context, tenantID, id string, now time.Time) (*models.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"id": id, "tenant_id": tenantID}
	update := bson.M{
		"$set": bson.M{"status": models.BookingCancelled, "updated_at": now},
		"$inc": bson.M{"version": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var cancelled models.Booking
	if err := repo.bookingColl.FindOneAndUpdate(ctx, filter, update, opts).Decode(&cancelled); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to cancel booking: %w", err)
	}
	return &cancelled, nil
}

func decodeBookings(ctx context.Context, cursor *mongo.Cursor) ([]models.Booking, error) {
	defer cursor.Close(ctx)

	var bookings []models.Booking
	for cursor.Next(ctx) {
		var b models.Booking
		if err := cursor.Decode(&b); err != nil {
			return nil, fmt.Errorf("error decoding booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return bookings, nil
}
