package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// DataKind names a class of cached aggregation. Callers specify the kind,
// not a raw TTL, so staleness policy stays centralized.
type DataKind string

const (
	KindCostSummary       DataKind = "cost_summary"
	KindComplianceSummary DataKind = "compliance_summary"
	KindResourceInventory DataKind = "resource_inventory"
	KindIdentityInventory DataKind = "identity_inventory"
	KindSyncStatus        DataKind = "sync_status"
)

// Kinds lists every known data kind, used by global invalidation
func Kinds() []DataKind {
	return []DataKind{
		KindCostSummary,
		KindComplianceSummary,
		KindResourceInventory,
		KindIdentityInventory,
		KindSyncStatus,
	}
}

// BuildKey constructs a cache key from a logical namespace, an optional
// tenant scope and a stable hash of any additional arguments. Two logically
// distinct queries never collide, and the tenant segment makes per-tenant
// invalidation a substring match.
//
//	BuildKey(KindCostSummary, "t-42", "monthly", 2026) -> "cost_summary:tenant:t-42:<hash>"
//	BuildKey(KindResourceInventory, "")                -> "resource_inventory:global:<hash>"
func BuildKey(kind DataKind, tenantID string, args ...interface{}) string {
	scope := "global"
	if tenantID != "" {
		scope = "tenant:" + tenantID
	}
	return fmt.Sprintf("%s:%s:%s", kind, scope, hashArgs(args))
}

// TenantPattern returns the substring matching every key scoped to a tenant
func TenantPattern(tenantID string) string {
	return "tenant:" + tenantID + ":"
}

// KindPattern returns the substring matching every key of one data kind
func KindPattern(kind DataKind) string {
	return string(kind) + ":"
}

// hashArgs produces a short stable digest of the argument list. Arguments
// are JSON-encoded so equal values always hash equally regardless of type
// pointer identity.
func hashArgs(args []interface{}) string {
	data, err := json.Marshal(args)
	if err != nil {
		// Unmarshalable arguments still need a deterministic key
		data = []byte(fmt.Sprintf("%v", args))
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
