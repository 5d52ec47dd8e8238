package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mamun007molla/blood-donation-server/services/donation-service/models"
)

const UsersCollection = "users"

// DonorRepository reads registered users.
type DonorRepository interface {
	Search(ctx context.Context, filter models.DonorFilter) ([]models.Donor, error)
	// RoleOf returns the stored role of email, or "" if the user is unknown.
	RoleOf(ctx context.Context, email string) (string, error)
}

type MongoDonorRepository struct {
	coll *mongo.Collection
}

func NewMongoDonorRepository(db *mongo.Database) *MongoDonorRepository {
	return &MongoDonorRepository{coll: db.Collection(UsersCollection)}
}

func (r *MongoDonorRepository) Search(ctx context.Context, f models.DonorFilter) ([]models.Donor, error) {
	q := bson.M{}
	if f.BloodGroup != "" {
		q["blood"] = f.BloodGroup
	}
	if f.District != "" {
		q["district"] = f.District
	}
	if f.SubDistrict != "" {
		q["subDistrict"] = f.SubDistrict
	}

	opts := options.Find().SetProjection(bson.M{"password": 0})
	cursor, err := r.coll.Find(ctx, q, opts)
	if err != nil {
		return nil, fmt.Errorf("find donors: %w", err)
	}
	defer cursor.Close(ctx)

	donors := []models.Donor{}
	if err := cursor.All(ctx, &donors); err != nil {
		return nil, fmt.Errorf("decode donors: %w", err)
	}
	return donors, nil
}

func (r *MongoDonorRepository) RoleOf(ctx context.Context, email string) (string, error) {
	var doc struct {
		Role string `bson:"role"`
	}
	opts := options.FindOne().SetProjection(bson.M{"role": 1})
	err := r.coll.FindOne(ctx, bson.M{"email": strings.ToLower(email)}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", nil
		}
		return "", fmt.Errorf("find role for %s: %w", email, err)
	}
	return doc.Role, nil
}
