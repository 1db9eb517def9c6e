// Package registry defines the graph and instance registry data model and
// the conditional-write store contract the allocation manager and client
// factory depend on.
package registry

import (
	"time"

	"github.com/robosystems/graphplane/internal/identifier"
)

// DatabaseStatus is the lifecycle state of a DatabaseRecord.
type DatabaseStatus string

const (
	DatabaseCreating  DatabaseStatus = "creating"
	DatabaseActive    DatabaseStatus = "active"
	DatabaseMigrating DatabaseStatus = "migrating"
	DatabaseFailed    DatabaseStatus = "failed"
	DatabaseDeleted   DatabaseStatus = "deleted"
)

// GraphType distinguishes the two kinds of graph content a database can
// hold.
type GraphType string

const (
	GraphTypeEntity  GraphType = "entity"
	GraphTypeGeneric GraphType = "generic"
)

// DatabaseRecord is the registry's authoritative row for one graph
// database.
type DatabaseRecord struct {
	GraphID        identifier.ID  `json:"graph_id" dynamodbav:"graph_id"`
	TenantID       string         `json:"tenant_id" dynamodbav:"tenant_id"`
	GraphType      GraphType      `json:"graph_type" dynamodbav:"graph_type"`
	BackendType    string         `json:"backend_type" dynamodbav:"backend_type"`
	InstanceID     string         `json:"instance_id" dynamodbav:"instance_id"`
	PrivateIP      string         `json:"private_ip" dynamodbav:"private_ip"`
	AvailabilityZone string       `json:"availability_zone" dynamodbav:"availability_zone"`
	CreatedAt      time.Time      `json:"created_at" dynamodbav:"created_at"`
	LastAccessed   time.Time      `json:"last_accessed" dynamodbav:"last_accessed"`
	Status         DatabaseStatus `json:"status" dynamodbav:"status"`
	AllocationLock string         `json:"allocation_lock,omitempty" dynamodbav:"allocation_lock,omitempty"`
	Version        int64          `json:"version" dynamodbav:"version"`
}

// InstanceStatus is the health state of a worker instance.
type InstanceStatus string

const (
	InstanceHealthy     InstanceStatus = "healthy"
	InstanceUnhealthy   InstanceStatus = "unhealthy"
	InstanceTerminating InstanceStatus = "terminating"
)

// NodeType distinguishes the role a worker instance plays.
type NodeType string

const (
	NodeWriter        NodeType = "writer"
	NodeSharedMaster   NodeType = "shared_master"
	NodeSharedReplica  NodeType = "shared_replica"
)

// InstanceRecord is the registry's authoritative row for one worker
// instance.
type InstanceRecord struct {
	InstanceID       string         `json:"instance_id" dynamodbav:"instance_id"`
	PrivateIP        string         `json:"private_ip" dynamodbav:"private_ip"`
	AvailabilityZone string         `json:"availability_zone" dynamodbav:"availability_zone"`
	Status           InstanceStatus `json:"status" dynamodbav:"status"`
	DatabaseCount    int            `json:"database_count" dynamodbav:"database_count"`
	MaxDatabases     int            `json:"max_databases" dynamodbav:"max_databases"`
	ClusterTier      string         `json:"cluster_tier" dynamodbav:"cluster_tier"`
	NodeType         NodeType       `json:"node_type" dynamodbav:"node_type"`
	StackName        string         `json:"stack_name" dynamodbav:"stack_name"`
	CreatedAt        time.Time      `json:"created_at" dynamodbav:"created_at"`
	LastAllocation   time.Time      `json:"last_allocation,omitempty" dynamodbav:"last_allocation,omitempty"`
	LastDeallocation time.Time      `json:"last_deallocation,omitempty" dynamodbav:"last_deallocation,omitempty"`
	Version          int64          `json:"version" dynamodbav:"version"`
}

// ResidualCapacity returns how many more databases the instance can take
// before hitting MaxDatabases.
func (r InstanceRecord) ResidualCapacity() int {
	return r.MaxDatabases - r.DatabaseCount
}

// HasCapacity reports whether the instance can accept one more database.
func (r InstanceRecord) HasCapacity() bool {
	return r.DatabaseCount < r.MaxDatabases
}

// Location is the in-memory projection of a DatabaseRecord returned to
// callers resolving a graph ID to its physical placement.
type Location struct {
	GraphID          identifier.ID  `json:"graph_id"`
	InstanceID       string         `json:"instance_id"`
	PrivateIP        string         `json:"private_ip"`
	AvailabilityZone string         `json:"availability_zone"`
	Status           DatabaseStatus `json:"status"`
	BackendType      string         `json:"backend_type"`
}
