// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

package ratelimit

import (
	"context"
	"fmt"

	"github.com/sage-x-project/sage-ratelimit/internal/keyspace"
	"github.com/sage-x-project/sage-ratelimit/internal/store"
	"github.com/sage-x-project/sage-ratelimit/internal/validate"
	"github.com/sage-x-project/sage-ratelimit/pkg/errors"
)

// Entity is a rate-limited principal: a user, API key, project, or
// tenant. A child with Cascade set causes every acquire against it to
// also consume from its parent's buckets. The parent chain is capped
// at depth one -- a parent may not itself have a parent.
type Entity struct {
	ID       string
	Name     string
	ParentID string
	Metadata map[string]string
	Cascade  bool
}

func entityItem(e Entity) store.Item {
	item := store.Item{"id": e.ID}
	if e.Name != "" {
		item["name"] = e.Name
	}
	if e.ParentID != "" {
		item["parent_id"] = e.ParentID
		item["gsi1pk"] = "" // set by caller once namespace is known
		item["gsi1sk"] = e.ID
	}
	if e.Cascade {
		item["cascade"] = true
	}
	if len(e.Metadata) > 0 {
		meta := make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			meta[k] = v
		}
		item["metadata"] = meta
	}
	return item
}

func entityFromItem(item store.Item) Entity {
	e := Entity{}
	if v, ok := item["id"].(string); ok {
		e.ID = v
	}
	if v, ok := item["name"].(string); ok {
		e.Name = v
	}
	if v, ok := item["parent_id"].(string); ok {
		e.ParentID = v
	}
	if v, ok := item["cascade"].(bool); ok {
		e.Cascade = v
	}
	if m, ok := item["metadata"].(map[string]interface{}); ok {
		e.Metadata = make(map[string]string, len(m))
		for k, v := range m {
			if s, ok := v.(string); ok {
				e.Metadata[k] = s
			}
		}
	}
	return e
}

// CreateEntityOptions configures CreateEntity.
type CreateEntityOptions struct {
	Name     string
	ParentID string
	Metadata map[string]string
	Cascade  bool
}

// CreateEntity registers a new entity in this scoped view's namespace.
// If ParentID is set, the parent must already exist in the same
// namespace and must not itself have a parent (depth <= 1).
func (l *Limiter) CreateEntity(ctx context.Context, entityID string, opts CreateEntityOptions) (Entity, error) {
	if !validate.Name(entityID) {
		return Entity{}, fmt.Errorf("ratelimit: %w: entity_id %q", errors.ErrInvalidName, entityID)
	}

	if opts.ParentID != "" {
		parent, err := l.GetEntity(ctx, opts.ParentID)
		if err != nil {
			return Entity{}, fmt.Errorf("ratelimit: resolve parent: %w", err)
		}
		if parent.ParentID != "" {
			return Entity{}, fmt.Errorf("ratelimit: %w: parent %q already has a parent, cascade depth is limited to 1", errors.ErrInvalidName, opts.ParentID)
		}
	}

	e := Entity{ID: entityID, Name: opts.Name, ParentID: opts.ParentID, Metadata: opts.Metadata, Cascade: opts.Cascade}
	item := entityItem(e)
	if opts.ParentID != "" {
		item["gsi1pk"] = keyspace.GSI1PKParent(l.ns, opts.ParentID)
		item["gsi1sk"] = keyspace.GSI1SKChild(entityID)
	}

	cond := &store.Condition{Expression: "attribute_not_exists(PK)"}
	err := l.gw.PutItem(ctx, keyspace.PKEntity(l.ns, entityID), keyspace.SKMeta(), item, cond)
	if err == store.ErrConflict {
		return Entity{}, fmt.Errorf("ratelimit: %w: entity %q", errors.ErrEntityExists, entityID)
	}
	if err != nil {
		return Entity{}, fmt.Errorf("ratelimit: create entity: %w", err)
	}

	l.entityCache.Delete(entityCacheKey(l.ns, entityID))
	return e, nil
}

// GetEntity fetches one entity record, or ErrEntityNotFound if absent.
func (l *Limiter) GetEntity(ctx context.Context, entityID string) (Entity, error) {
	if e, ok := l.entityCache.Get(entityCacheKey(l.ns, entityID)); ok {
		return e, nil
	}

	item, err := l.gw.GetItem(ctx, keyspace.PKEntity(l.ns, entityID), keyspace.SKMeta())
	if err == store.ErrNotFound {
		return Entity{}, fmt.Errorf("ratelimit: %w: entity %q", errors.ErrEntityNotFound, entityID)
	}
	if err != nil {
		return Entity{}, fmt.Errorf("ratelimit: get entity: %w", err)
	}

	e := entityFromItem(item)
	l.entityCache.Set(entityCacheKey(l.ns, entityID), e)
	return e, nil
}

// GetChildren lists the ids of every entity whose parent is parentID.
func (l *Limiter) GetChildren(ctx context.Context, parentID string) ([]string, error) {
	res, err := l.gw.Query(ctx, keyspace.GSI1Name, keyspace.GSI1PKParent(l.ns, parentID), "", 0)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: get children: %w", err)
	}
	ids := make([]string, 0, len(res.Items))
	for _, item := range res.Items {
		if id, ok := item["id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// DeleteEntity removes an entity's metadata record. Its buckets and
// per-resource configs are left to expire via TTL rather than deleted
// synchronously, matching the store gateway's append/overwrite model.
func (l *Limiter) DeleteEntity(ctx context.Context, entityID string) error {
	if err := l.gw.DeleteItem(ctx, keyspace.PKEntity(l.ns, entityID), keyspace.SKMeta()); err != nil {
		return fmt.Errorf("ratelimit: delete entity: %w", err)
	}
	l.entityCache.Delete(entityCacheKey(l.ns, entityID))
	return nil
}

func entityCacheKey(ns, entityID string) string { return ns + "/" + entityID }
