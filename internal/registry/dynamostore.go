package registry

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/robosystems/graphplane/internal/identifier"
)

// DynamoStore is a Store backed by two DynamoDB tables: the graph
// registry (keyed by graph_id, with a GSI on instance_id) and the
// instance registry (keyed by instance_id, with a GSI on cluster_tier and
// one on node_type).
type DynamoStore struct {
	client          *dynamodb.Client
	databasesTable  string
	instancesTable  string
	instanceIDIndex string
	tierIndex       string
	nodeTypeIndex   string
}

// DynamoStoreConfig configures a DynamoStore.
type DynamoStoreConfig struct {
	DatabasesTable  string
	InstancesTable  string
	InstanceIDIndex string
	TierIndex       string
	NodeTypeIndex   string
}

// NewDynamoStore creates a DynamoStore against an already-configured
// DynamoDB client.
func NewDynamoStore(client *dynamodb.Client, cfg DynamoStoreConfig) *DynamoStore {
	if cfg.InstanceIDIndex == "" {
		cfg.InstanceIDIndex = "instance_id-index"
	}
	if cfg.TierIndex == "" {
		cfg.TierIndex = "cluster_tier-index"
	}
	if cfg.NodeTypeIndex == "" {
		cfg.NodeTypeIndex = "node_type-index"
	}
	return &DynamoStore{
		client:          client,
		databasesTable:  cfg.DatabasesTable,
		instancesTable:  cfg.InstancesTable,
		instanceIDIndex: cfg.InstanceIDIndex,
		tierIndex:       cfg.TierIndex,
		nodeTypeIndex:   cfg.NodeTypeIndex,
	}
}

func isConditionalCheckFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// GetDatabase implements Store.
func (s *DynamoStore) GetDatabase(ctx context.Context, graphID identifier.ID) (DatabaseRecord, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"graph_id": string(graphID)})
	if err != nil {
		return DatabaseRecord{}, err
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.databasesTable),
		Key:       key,
	})
	if err != nil {
		return DatabaseRecord{}, err
	}
	if out.Item == nil {
		return DatabaseRecord{}, ErrNotFound
	}

	var record DatabaseRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return DatabaseRecord{}, err
	}
	return record, nil
}

// PutDatabaseIfAbsent implements Store. It maps directly onto the
// `attribute_not_exists(graph_id)` conditional put the allocation manager's
// Step A uses to tolerate concurrent allocation of the same graph ID.
func (s *DynamoStore) PutDatabaseIfAbsent(ctx context.Context, record DatabaseRecord) error {
	if record.Version == 0 {
		record.Version = 1
	}

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return err
	}

	cond := expression.AttributeNotExists(expression.Name("graph_id"))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.databasesTable),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionalCheckFailure(err) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

// UpdateDatabaseStatus implements Store, conditioning the update on the
// status column still matching expectedCurrent (e.g. the deallocate path's
// `status <> :deleted_status` guard, expressed here as an equality check
// against the caller-observed current status).
func (s *DynamoStore) UpdateDatabaseStatus(ctx context.Context, graphID identifier.ID, expectedCurrent, next DatabaseStatus) error {
	key, err := attributevalue.MarshalMap(map[string]string{"graph_id": string(graphID)})
	if err != nil {
		return err
	}

	update := expression.Set(expression.Name("status"), expression.Value(next)).
		Set(expression.Name("version"), expression.Plus(expression.Name("version"), expression.Value(1)))
	cond := expression.Name("status").Equal(expression.Value(expectedCurrent))

	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return err
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.databasesTable),
		Key:                       key,
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionalCheckFailure(err) {
			return ErrConditionFailed
		}
		return err
	}
	return nil
}

// DeleteDatabaseRecord implements Store, conditioning the delete on the
// record's allocation_lock still matching expectedLock — the Step A
// rollback path.
func (s *DynamoStore) DeleteDatabaseRecord(ctx context.Context, graphID identifier.ID, expectedLock string) error {
	key, err := attributevalue.MarshalMap(map[string]string{"graph_id": string(graphID)})
	if err != nil {
		return err
	}

	cond := expression.Name("allocation_lock").Equal(expression.Value(expectedLock))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return err
	}

	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(s.databasesTable),
		Key:                       key,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionalCheckFailure(err) {
			return ErrConditionFailed
		}
		return err
	}
	return nil
}

// TouchLastAccessed implements Store as a best-effort, unconditional
// update.
func (s *DynamoStore) TouchLastAccessed(ctx context.Context, graphID identifier.ID) error {
	key, err := attributevalue.MarshalMap(map[string]string{"graph_id": string(graphID)})
	if err != nil {
		return err
	}

	update := expression.Set(expression.Name("last_accessed"), expression.Value(time.Now().UTC()))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return err
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.databasesTable),
		Key:                      key,
		UpdateExpression:         expr.Update(),
		ExpressionAttributeNames: expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return err
}

// ListInstancesByTier implements Store, querying the cluster_tier GSI and
// paginating until exhausted.
func (s *DynamoStore) ListInstancesByTier(ctx context.Context, tier string) ([]InstanceRecord, error) {
	keyCond := expression.Key("cluster_tier").Equal(expression.Value(tier))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, err
	}

	var out []InstanceRecord
	var lastKey map[string]types.AttributeValue
	for {
		resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.instancesTable),
			IndexName:                 aws.String(s.tierIndex),
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         lastKey,
		})
		if err != nil {
			return nil, err
		}

		var page []InstanceRecord
		if err := attributevalue.UnmarshalListOfMaps(resp.Items, &page); err != nil {
			return nil, err
		}
		out = append(out, page...)

		if len(resp.LastEvaluatedKey) == 0 {
			break
		}
		lastKey = resp.LastEvaluatedKey
	}
	return out, nil
}

// ListInstancesByNodeType implements Store, querying the node_type GSI and
// paginating until exhausted.
func (s *DynamoStore) ListInstancesByNodeType(ctx context.Context, nodeType NodeType) ([]InstanceRecord, error) {
	keyCond := expression.Key("node_type").Equal(expression.Value(nodeType))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, err
	}

	var out []InstanceRecord
	var lastKey map[string]types.AttributeValue
	for {
		resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.instancesTable),
			IndexName:                 aws.String(s.nodeTypeIndex),
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         lastKey,
		})
		if err != nil {
			return nil, err
		}

		var page []InstanceRecord
		if err := attributevalue.UnmarshalListOfMaps(resp.Items, &page); err != nil {
			return nil, err
		}
		out = append(out, page...)

		if len(resp.LastEvaluatedKey) == 0 {
			break
		}
		lastKey = resp.LastEvaluatedKey
	}
	return out, nil
}

// GetInstance implements Store.
func (s *DynamoStore) GetInstance(ctx context.Context, instanceID string) (InstanceRecord, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"instance_id": instanceID})
	if err != nil {
		return InstanceRecord{}, err
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.instancesTable),
		Key:       key,
	})
	if err != nil {
		return InstanceRecord{}, err
	}
	if out.Item == nil {
		return InstanceRecord{}, ErrNotFound
	}

	var record InstanceRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return InstanceRecord{}, err
	}
	return record, nil
}

// IncrementDatabaseCount implements Store, conditioning the increment on
// `database_count < max_databases` — the exact guard that prevents two
// concurrent allocators from ever pushing an instance past capacity.
func (s *DynamoStore) IncrementDatabaseCount(ctx context.Context, instanceID string) error {
	key, err := attributevalue.MarshalMap(map[string]string{"instance_id": instanceID})
	if err != nil {
		return err
	}

	update := expression.Set(expression.Name("database_count"), expression.Plus(expression.Name("database_count"), expression.Value(1))).
		Set(expression.Name("last_allocation"), expression.Value(time.Now().UTC())).
		Set(expression.Name("version"), expression.Plus(expression.Name("version"), expression.Value(1)))
	cond := expression.Name("database_count").LessThan(expression.Name("max_databases"))

	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return err
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.instancesTable),
		Key:                       key,
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionalCheckFailure(err) {
			return ErrConditionFailed
		}
		return err
	}
	return nil
}

// DecrementDatabaseCount implements Store, conditioning the decrement on
// `database_count > 0`.
func (s *DynamoStore) DecrementDatabaseCount(ctx context.Context, instanceID string) error {
	key, err := attributevalue.MarshalMap(map[string]string{"instance_id": instanceID})
	if err != nil {
		return err
	}

	update := expression.Set(expression.Name("database_count"), expression.Minus(expression.Name("database_count"), expression.Value(1))).
		Set(expression.Name("last_deallocation"), expression.Value(time.Now().UTC())).
		Set(expression.Name("version"), expression.Plus(expression.Name("version"), expression.Value(1)))
	cond := expression.Name("database_count").GreaterThan(expression.Value(0))

	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return err
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.instancesTable),
		Key:                       key,
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionalCheckFailure(err) {
			return ErrConditionFailed
		}
		return err
	}
	return nil
}

// ListDatabasesByInstance implements Store, querying the instance_id GSI
// and paginating until exhausted, filtering to active records only.
func (s *DynamoStore) ListDatabasesByInstance(ctx context.Context, instanceID string) ([]DatabaseRecord, error) {
	keyCond := expression.Key("instance_id").Equal(expression.Value(instanceID))
	filter := expression.Name("status").NotEqual(expression.Value(DatabaseDeleted))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).WithFilter(filter).Build()
	if err != nil {
		return nil, err
	}

	var out []DatabaseRecord
	var lastKey map[string]types.AttributeValue
	for {
		resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.databasesTable),
			IndexName:                 aws.String(s.instanceIDIndex),
			KeyConditionExpression:    expr.KeyCondition(),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         lastKey,
		})
		if err != nil {
			return nil, err
		}

		var page []DatabaseRecord
		if err := attributevalue.UnmarshalListOfMaps(resp.Items, &page); err != nil {
			return nil, err
		}
		out = append(out, page...)

		if len(resp.LastEvaluatedKey) == 0 {
			break
		}
		lastKey = resp.LastEvaluatedKey
	}
	return out, nil
}

var _ Store = (*DynamoStore)(nil)
