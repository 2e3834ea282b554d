// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

/*
Package keyspace maps logical identities (namespace, entity, resource,
limit, bucket, config, audit) to the composite primary and secondary-index
keys of the single backing table. Every builder is a total, pure function;
parsers invert the builders losslessly for the fields they encode.

All PKs other than the namespace-registration items begin with
"<namespace-id>/" so that a single table can be shared by many tenants
without key collision.
*/
package keyspace

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultNamespace is the name registered automatically at first
	// use and assumed whenever a caller does not scope to a namespace.
	DefaultNamespace = "default"

	// SKNamespacePrefix is the SK prefix for the name->id lookup item.
	SKNamespacePrefix = "NAME#"

	// SKNsidPrefix is the SK prefix for the id-existence lookup item.
	SKNsidPrefix = "ID#"

	namespacePK = "NAMESPACE#"

	skMeta            = "#META"
	skConfigPrefix    = "#CONFIG#"
	skConfig          = "#CONFIG"
	skBucketPrefix    = "BUCKET#"
	skUsagePrefix     = "#USAGE#"
	skResourcePrefix  = "RESOURCE#"
	skEntityPrefix    = "ENTITY#"
	skSystemPrefix    = "SYSTEM#"
	skParentPrefix    = "PARENT#"
	skEntityCfgPrefix = "ENTITY_CONFIG#"

	// GSI4Name is reserved for a future entity-configs-by-resource index;
	// the three required GSIs are GSI1 (parent->children), GSI2
	// (resource->entities) and GSI3 (entity configs).
	GSI4Name = "gsi4-reserved"

	// GSI1Name / GSI2Name / GSI3Name are the secondary-index names the
	// store gateway's Query operation accepts.
	GSI1Name = "gsi1-parent-children"
	GSI2Name = "gsi2-resource-entities"
	GSI3Name = "gsi3-entity-configs"
)

// RESERVED_NAMESPACE-equivalent: names that can never be registered
// because they either collide with the default or are conventionally
// reserved for internal/system use.
func ReservedNamespace(name string) bool {
	if name == DefaultNamespace {
		return true
	}
	return strings.HasPrefix(name, "_")
}

// pkEntity returns the partition key for an entity's items.
func pkEntity(ns, entityID string) string {
	return fmt.Sprintf("%s/%s%s", ns, skEntityPrefix, entityID)
}

// PKEntity is the exported form of pkEntity.
func PKEntity(ns, entityID string) string { return pkEntity(ns, entityID) }

// PKResource returns the partition key for a resource's per-resource
// default config item.
func PKResource(ns, resource string) string {
	return fmt.Sprintf("%s/%s%s", ns, skResourcePrefix, resource)
}

// PKSystem returns the partition key for the system defaults item.
func PKSystem(ns string) string {
	return fmt.Sprintf("%s/%s", ns, skSystemPrefix)
}

// SKMeta is the sort key for an entity's metadata record.
func SKMeta() string { return skMeta }

// SKConfig returns the sort key for a per-entity-per-resource config.
func SKConfig(resource string) string {
	return skConfigPrefix + resource
}

// SKConfigPrefix is the BeginsWith prefix used to enumerate an entity's
// per-resource configs without needing an exact resource name.
func SKConfigPrefix() string { return skConfigPrefix }

// SKBucket returns the sort key for a live bucket item.
func SKBucket(resource, limitName string) string {
	return fmt.Sprintf("%s%s#%s", skBucketPrefix, resource, limitName)
}

// SKBucketPrefix is the BeginsWith prefix matching every bucket under a
// resource, regardless of limit name.
func SKBucketPrefix(resource string) string {
	return fmt.Sprintf("%s%s#", skBucketPrefix, resource)
}

// SKUsage returns the sort key for a usage snapshot item, consumed by
// the (out-of-scope) aggregator.
func SKUsage(resource string, windowStartMs int64) string {
	return fmt.Sprintf("%s%s#%d", skUsagePrefix, resource, windowStartMs)
}

// SKResources is the sort key for the per-resource default config item.
func SKResources() string { return skConfig }

// SKNamespace builds the SK for a namespace name->id lookup item.
func SKNamespace(name string) string { return SKNamespacePrefix + name }

// SKNsid builds the SK for a namespace id-existence item.
func SKNsid(id string) string { return SKNsidPrefix + id }

// PKNamespace is the fixed partition key of the namespace registry.
func PKNamespace() string { return namespacePK }

// GSI1PKParent / GSI1SKChild address the parent->children index.
func GSI1PKParent(ns, parentID string) string {
	return fmt.Sprintf("%s/%s%s", ns, skParentPrefix, parentID)
}

func GSI1SKChild(childID string) string { return childID }

// GSI2PKResource / GSI2SKBucket / GSI2SKUsage / GSI2SKAccess address the
// resource->entities fan-out index used by the aggregator.
func GSI2PKResource(ns, resource string) string {
	return fmt.Sprintf("%s/%s%s", ns, skResourcePrefix, resource)
}

func GSI2SKBucket(entityID, limitName string) string {
	return fmt.Sprintf("%sBUCKET#%s", skEntityPrefix+entityID+"#", limitName)
}

func GSI2SKUsage(entityID string, windowStartMs int64) string {
	return fmt.Sprintf("%sUSAGE#%d", skEntityPrefix+entityID+"#", windowStartMs)
}

func GSI2SKAccess(entityID string) string {
	return skEntityPrefix + entityID
}

// GSI3PKEntityConfig / GSI3SKEntity address the entity-configs index
// used to list every per-resource override for one entity.
func GSI3PKEntityConfig(ns, entityID string) string {
	return fmt.Sprintf("%s/%s%s", ns, skEntityCfgPrefix, entityID)
}

func GSI3SKEntity(resource string) string { return resource }

// LimitAttr builds the flattened attribute names used in the persisted
// config item: l_<name>_cp / _br / _ra / _rp.
func LimitAttr(name, field string) string {
	return fmt.Sprintf("l_%s_%s", name, field)
}

// ParseLimitAttr inverts LimitAttr, returning the limit name and field
// suffix ("cp", "br", "ra", "rp") or ok=false if attr is not a limit
// attribute.
func ParseLimitAttr(attr string) (name, field string, ok bool) {
	if !strings.HasPrefix(attr, "l_") {
		return "", "", false
	}
	rest := attr[2:]
	idx := strings.LastIndex(rest, "_")
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

// BucketAttr enumerates the fixed attribute names of a bucket item,
// matching the bit-exact persisted layout.
var BucketAttr = struct {
	PK             string
	SK             string
	TokensMilli    string
	LastRefillMs   string
	CapacityMilli  string
	BurstMilli     string
	RefillAmtMilli string
	RefillPeriodMs string
	TTL            string
}{
	PK:             "PK",
	SK:             "SK",
	TokensMilli:    "tokens_milli",
	LastRefillMs:   "last_refill_ms",
	CapacityMilli:  "capacity_milli",
	BurstMilli:     "burst_milli",
	RefillAmtMilli: "refill_amount_milli",
	RefillPeriodMs: "refill_period_ms",
	TTL:            "ttl",
}

// ParseBucketSK extracts the resource and limit name from a bucket sort
// key produced by SKBucket, or ok=false if sk is not a bucket SK.
func ParseBucketSK(sk string) (resource, limitName string, ok bool) {
	if !strings.HasPrefix(sk, skBucketPrefix) {
		return "", "", false
	}
	rest := sk[len(skBucketPrefix):]
	idx := strings.LastIndex(rest, "#")
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

// ParseNamespace splits a namespace-prefixed PK of the form "<ns>/rest"
// into its namespace-id and remainder.
func ParseNamespace(pk string) (ns, rest string, ok bool) {
	idx := strings.Index(pk, "/")
	if idx < 0 {
		return "", "", false
	}
	return pk[:idx], pk[idx+1:], true
}

// TTLSeconds converts a Unix-millisecond expiry to the Unix-second TTL
// attribute value DynamoDB expects.
func TTLSeconds(expiresAtMs int64) int64 { return expiresAtMs / 1000 }

// FormatInt / ParseInt are small helpers kept local so callers never
// need to import strconv just to move a bucket attribute through the
// generic AttributeValue map the store gateway works with.
func FormatInt(v int64) string { return strconv.FormatInt(v, 10) }

func ParseInt(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }
