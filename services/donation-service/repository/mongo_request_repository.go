package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mamun007molla/blood-donation-server/services/donation-service/models"
)

const RequestsCollection = "requests"

// MongoRequestRepository stores requests in the "requests" collection.
type MongoRequestRepository struct {
	coll *mongo.Collection
}

func NewMongoRequestRepository(db *mongo.Database) *MongoRequestRepository {
	return &MongoRequestRepository{coll: db.Collection(RequestsCollection)}
}

type mongoDonor struct {
	Name  string `bson:"name"`
	Email string `bson:"email"`
}

type mongoRequest struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	RequesterName  string             `bson:"requesterName"`
	RequesterEmail string             `bson:"requesterEmail"`
	RecipientName  string             `bson:"recipientName"`
	BloodGroup     string             `bson:"bloodGroup"`
	District       string             `bson:"district"`
	SubDistrict    string             `bson:"subDistrict"`
	HospitalName   string             `bson:"hospitalName"`
	FullAddress    string             `bson:"fullAddress"`
	DonationDate   string             `bson:"donationDate"`
	DonationTime   string             `bson:"donationTime"`
	RequestMessage string             `bson:"requestMessage,omitempty"`
	DonationStatus string             `bson:"donationStatus"`
	Donor          *mongoDonor        `bson:"donor,omitempty"`
	CreatedAt      time.Time          `bson:"createdAt"`
	UpdatedAt      time.Time          `bson:"updatedAt,omitempty"`
}

func toMongoRequest(r *models.DonationRequest) mongoRequest {
	doc := mongoRequest{
		RequesterName:  r.RequesterName,
		RequesterEmail: r.RequesterEmail,
		RecipientName:  r.RecipientName,
		BloodGroup:     r.BloodGroup,
		District:       r.District,
		SubDistrict:    r.SubDistrict,
		HospitalName:   r.HospitalName,
		FullAddress:    r.FullAddress,
		DonationDate:   r.DonationDate,
		DonationTime:   r.DonationTime,
		RequestMessage: r.RequestMessage,
		DonationStatus: string(r.DonationStatus),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.Donor != nil {
		doc.Donor = &mongoDonor{Name: r.Donor.Name, Email: r.Donor.Email}
	}
	return doc
}

func (d mongoRequest) toModel() models.DonationRequest {
	r := models.DonationRequest{
		ID:             d.ID.Hex(),
		RequesterName:  d.RequesterName,
		RequesterEmail: d.RequesterEmail,
		RecipientName:  d.RecipientName,
		BloodGroup:     d.BloodGroup,
		District:       d.District,
		SubDistrict:    d.SubDistrict,
		HospitalName:   d.HospitalName,
		FullAddress:    d.FullAddress,
		DonationDate:   d.DonationDate,
		DonationTime:   d.DonationTime,
		RequestMessage: d.RequestMessage,
		DonationStatus: models.DonationStatus(d.DonationStatus),
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
	if d.Donor != nil {
		r.Donor = &models.DonorRef{Name: d.Donor.Name, Email: d.Donor.Email}
	}
	return r
}

// EnsureIndexes creates the indexes the listing queries rely on.
func (r *MongoRequestRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "donationStatus", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "requesterEmail", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create request indexes: %w", err)
	}
	return nil
}

func (r *MongoRequestRepository) Create(ctx context.Context, req *models.DonationRequest) error {
	doc := toMongoRequest(req)
	doc.ID = primitive.NewObjectID()

	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	req.ID = doc.ID.Hex()
	return nil
}

func (r *MongoRequestRepository) FindByID(ctx context.Context, id string) (*models.DonationRequest, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}

	var doc mongoRequest
	if err := r.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find request %s: %w", id, err)
	}
	m := doc.toModel()
	return &m, nil
}

func buildRequestFilter(f RequestFilter) bson.M {
	q := bson.M{}
	if f.Status != "" {
		q["donationStatus"] = string(f.Status)
	}
	if f.RequesterEmail != "" {
		q["requesterEmail"] = f.RequesterEmail
	}
	if f.BloodGroup != "" {
		q["bloodGroup"] = f.BloodGroup
	}
	if f.District != "" {
		q["district"] = f.District
	}
	if f.SubDistrict != "" {
		q["subDistrict"] = f.SubDistrict
	}
	return q
}

func (r *MongoRequestRepository) List(ctx context.Context, filter RequestFilter, page PageQuery) ([]models.DonationRequest, int64, error) {
	q := buildRequestFilter(filter)

	total, err := r.coll.CountDocuments(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}

	createdOrder := -1
	if page.Ascending {
		createdOrder = 1
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: createdOrder}, {Key: "_id", Value: 1}}).
		SetSkip(page.Skip()).
		SetLimit(int64(page.Size))

	cursor, err := r.coll.Find(ctx, q, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("find requests: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoRequest
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("decode requests: %w", err)
	}

	out := make([]models.DonationRequest, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toModel())
	}
	return out, total, nil
}

// UpdateStatus applies the change only while the stored status still equals
// change.From.
func (r *MongoRequestRepository) UpdateStatus(ctx context.Context, id string, change StatusChange) (*models.DonationRequest, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}

	set := bson.M{"donationStatus": string(change.To), "updatedAt": change.At}
	if change.Donor != nil {
		set["donor"] = mongoDonor{Name: change.Donor.Name, Email: change.Donor.Email}
	}

	updated, err := r.findOneAndUpdate(ctx,
		bson.M{"_id": oid, "donationStatus": string(change.From)},
		bson.M{"$set": set},
	)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, r.missOr(ctx, id, ErrStatusMismatch)
	}
	return updated, err
}

// UpdateIfPending applies patch only while the request is pending.
func (r *MongoRequestRepository) UpdateIfPending(ctx context.Context, id string, patch models.RequestPatch, at time.Time) (*models.DonationRequest, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}

	set := bson.M{"updatedAt": at}
	for k, v := range patch.Fields() {
		set[k] = v
	}

	updated, err := r.findOneAndUpdate(ctx,
		bson.M{"_id": oid, "donationStatus": string(models.StatusPending)},
		bson.M{"$set": set},
	)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, r.missOr(ctx, id, ErrNotPending)
	}
	return updated, err
}

func (r *MongoRequestRepository) Delete(ctx context.Context, id string, allowInProgress bool) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}

	filter := bson.M{"_id": oid}
	if !allowInProgress {
		filter["donationStatus"] = bson.M{"$ne": string(models.StatusInProgress)}
	}

	res, err := r.coll.DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("delete request %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return r.missOr(ctx, id, ErrInProgress)
	}
	return nil
}

func (r *MongoRequestRepository) findOneAndUpdate(ctx context.Context, filter, update bson.M) (*models.DonationRequest, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc mongoRequest
	if err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, err
		}
		return nil, fmt.Errorf("update request: %w", err)
	}
	m := doc.toModel()
	return &m, nil
}

// missOr explains a conditional write that matched nothing: the record is
// either gone or failed the condition.
func (r *MongoRequestRepository) missOr(ctx context.Context, id string, conditionErr error) error {
	if _, err := r.FindByID(ctx, id); err != nil {
		return err
	}
	return conditionErr
}
