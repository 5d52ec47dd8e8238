package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/mamun007molla/blood-donation-server/services/donation-service/models"
)

// DynamoAPI is the subset of *dynamodb.Client used by the repository.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoRequestRepository stores requests in a DynamoDB table keyed by "id".
// Listing scans with a filter expression and orders in memory.
type DynamoRequestRepository struct {
	client DynamoAPI
	table  string
}

func NewDynamoRequestRepository(client DynamoAPI, table string) *DynamoRequestRepository {
	return &DynamoRequestRepository{client: client, table: table}
}

type ddbRequest struct {
	ID             string `dynamodbav:"id"`
	RequesterName  string `dynamodbav:"requesterName"`
	RequesterEmail string `dynamodbav:"requesterEmail"`
	RecipientName  string `dynamodbav:"recipientName"`
	BloodGroup     string `dynamodbav:"bloodGroup"`
	District       string `dynamodbav:"district"`
	SubDistrict    string `dynamodbav:"subDistrict"`
	HospitalName   string `dynamodbav:"hospitalName"`
	FullAddress    string `dynamodbav:"fullAddress"`
	DonationDate   string `dynamodbav:"donationDate"`
	DonationTime   string `dynamodbav:"donationTime"`
	RequestMessage string `dynamodbav:"requestMessage,omitempty"`
	DonationStatus string `dynamodbav:"donationStatus"`
	DonorName      string `dynamodbav:"donorName,omitempty"`
	DonorEmail     string `dynamodbav:"donorEmail,omitempty"`
	CreatedAt      string `dynamodbav:"createdAt"`
	UpdatedAt      string `dynamodbav:"updatedAt,omitempty"`
}

func toDDBRequest(r *models.DonationRequest) ddbRequest {
	d := ddbRequest{
		ID:             r.ID,
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
		CreatedAt:      r.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if !r.UpdatedAt.IsZero() {
		d.UpdatedAt = r.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	if r.Donor != nil {
		d.DonorName, d.DonorEmail = r.Donor.Name, r.Donor.Email
	}
	return d
}

func (d ddbRequest) toModel() models.DonationRequest {
	r := models.DonationRequest{
		ID:             d.ID,
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
	}
	if t, err := time.Parse(time.RFC3339Nano, d.CreatedAt); err == nil {
		r.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, d.UpdatedAt); err == nil {
		r.UpdatedAt = t
	}
	if d.DonorEmail != "" {
		r.Donor = &models.DonorRef{Name: d.DonorName, Email: d.DonorEmail}
	}
	return r
}

func (r *DynamoRequestRepository) key(id string) (map[string]types.AttributeValue, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"id": id})
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	return key, nil
}

func (r *DynamoRequestRepository) Create(ctx context.Context, req *models.DonationRequest) error {
	item := toDDBRequest(req)
	item.ID = uuid.NewString()

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return fmt.Errorf("dynamodb PutItem failed: %w", err)
	}
	req.ID = item.ID
	return nil
}

func (r *DynamoRequestRepository) FindByID(ctx context.Context, id string) (*models.DonationRequest, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	key, err := r.key(id)
	if err != nil {
		return nil, err
	}

	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb GetItem failed: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var d ddbRequest
	if err := attributevalue.UnmarshalMap(out.Item, &d); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	m := d.toModel()
	return &m, nil
}

func scanFilter(f RequestFilter) (string, map[string]string, map[string]types.AttributeValue) {
	var conds []string
	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	add := func(attr, val string) {
		if val == "" {
			return
		}
		n, v := "#"+attr, ":"+attr
		conds = append(conds, n+" = "+v)
		names[n] = attr
		values[v] = &types.AttributeValueMemberS{Value: val}
	}
	add("donationStatus", string(f.Status))
	add("requesterEmail", f.RequesterEmail)
	add("bloodGroup", f.BloodGroup)
	add("district", f.District)
	add("subDistrict", f.SubDistrict)
	sort.Strings(conds)
	return strings.Join(conds, " AND "), names, values
}

func (r *DynamoRequestRepository) List(ctx context.Context, filter RequestFilter, page PageQuery) ([]models.DonationRequest, int64, error) {
	expr, names, values := scanFilter(filter)
	input := &dynamodb.ScanInput{TableName: aws.String(r.table)}
	if expr != "" {
		input.FilterExpression = aws.String(expr)
		input.ExpressionAttributeNames = names
		input.ExpressionAttributeValues = values
	}

	var all []models.DonationRequest
	for {
		out, err := r.client.Scan(ctx, input)
		if err != nil {
			return nil, 0, fmt.Errorf("dynamodb Scan failed: %w", err)
		}
		var items []ddbRequest
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, 0, fmt.Errorf("unmarshal requests: %w", err)
		}
		for _, it := range items {
			all = append(all, it.toModel())
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	result, total := Paginate(all, filter, page)
	return result, total, nil
}

func (r *DynamoRequestRepository) UpdateStatus(ctx context.Context, id string, change StatusChange) (*models.DonationRequest, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	key, err := r.key(id)
	if err != nil {
		return nil, err
	}

	expr := "SET #status = :to, #updated = :now"
	values := map[string]types.AttributeValue{
		":from": &types.AttributeValueMemberS{Value: string(change.From)},
		":to":   &types.AttributeValueMemberS{Value: string(change.To)},
		":now":  &types.AttributeValueMemberS{Value: change.At.UTC().Format(time.RFC3339Nano)},
	}
	names := map[string]string{"#status": "donationStatus", "#updated": "updatedAt"}
	if change.Donor != nil {
		expr += ", #donorName = :donorName, #donorEmail = :donorEmail"
		names["#donorName"], names["#donorEmail"] = "donorName", "donorEmail"
		values[":donorName"] = &types.AttributeValueMemberS{Value: change.Donor.Name}
		values[":donorEmail"] = &types.AttributeValueMemberS{Value: change.Donor.Email}
	}

	return r.conditionalUpdate(ctx, id, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.table),
		Key:                       key,
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(id) AND #status = :from"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	}, ErrStatusMismatch)
}

func (r *DynamoRequestRepository) UpdateIfPending(ctx context.Context, id string, patch models.RequestPatch, at time.Time) (*models.DonationRequest, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	key, err := r.key(id)
	if err != nil {
		return nil, err
	}

	fields := patch.Fields()
	attrs := make([]string, 0, len(fields))
	for k := range fields {
		attrs = append(attrs, k)
	}
	sort.Strings(attrs)

	sets := []string{"#updated = :now"}
	names := map[string]string{"#status": "donationStatus", "#updated": "updatedAt"}
	values := map[string]types.AttributeValue{
		":pending": &types.AttributeValueMemberS{Value: string(models.StatusPending)},
		":now":     &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339Nano)},
	}
	for i, attr := range attrs {
		n, v := fmt.Sprintf("#f%d", i), fmt.Sprintf(":v%d", i)
		sets = append(sets, n+" = "+v)
		names[n] = attr
		values[v] = &types.AttributeValueMemberS{Value: fields[attr]}
	}

	return r.conditionalUpdate(ctx, id, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.table),
		Key:                       key,
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       aws.String("attribute_exists(id) AND #status = :pending"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	}, ErrNotPending)
}

func (r *DynamoRequestRepository) Delete(ctx context.Context, id string, allowInProgress bool) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	key, err := r.key(id)
	if err != nil {
		return err
	}

	input := &dynamodb.DeleteItemInput{
		TableName:           aws.String(r.table),
		Key:                 key,
		ConditionExpression: aws.String("attribute_exists(id)"),
	}
	if !allowInProgress {
		input.ConditionExpression = aws.String("attribute_exists(id) AND #status <> :inprogress")
		input.ExpressionAttributeNames = map[string]string{"#status": "donationStatus"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":inprogress": &types.AttributeValueMemberS{Value: string(models.StatusInProgress)},
		}
	}

	if _, err := r.client.DeleteItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return r.missOr(ctx, id, ErrInProgress)
		}
		return fmt.Errorf("dynamodb DeleteItem failed: %w", err)
	}
	return nil
}

func (r *DynamoRequestRepository) conditionalUpdate(ctx context.Context, id string, input *dynamodb.UpdateItemInput, conditionErr error) (*models.DonationRequest, error) {
	out, err := r.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, r.missOr(ctx, id, conditionErr)
		}
		return nil, fmt.Errorf("dynamodb UpdateItem failed: %w", err)
	}

	var d ddbRequest
	if err := attributevalue.UnmarshalMap(out.Attributes, &d); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	m := d.toModel()
	return &m, nil
}

func (r *DynamoRequestRepository) missOr(ctx context.Context, id string, conditionErr error) error {
	if _, err := r.FindByID(ctx, id); err != nil {
		return err
	}
	return conditionErr
}
