package resource

import (
	"context"
	"sync"

	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/pkg/errors"
)

// CachingProvisioner remembers recently resolved locations. Locations are never deleted, so entries never go stale.
type CachingProvisioner struct {
	delegate Provisioner
	mu       sync.Mutex
	cache    *simplelru.LRU
}

func NewCachingProvisioner(delegate Provisioner, cacheSize int) (*CachingProvisioner, error) {
	cache, err := simplelru.NewLRU(cacheSize, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &CachingProvisioner{delegate: delegate, cache: cache}, nil
}

func (p *CachingProvisioner) GetOrCreateLocation(ctx context.Context, collectionName string, profile BillingProfile, flightId string) (*Location, error) {
	key := profile.Id + "/" + collectionName
	p.mu.Lock()
	cached, ok := p.cache.Get(key)
	p.mu.Unlock()
	if ok {
		location := *cached.(*Location)
		return &location, nil
	}

	location, err := p.delegate.GetOrCreateLocation(ctx, collectionName, profile, flightId)
	if err != nil {
		return nil, err
	}
	stored := *location
	p.mu.Lock()
	p.cache.Add(key, &stored)
	p.mu.Unlock()
	return location, nil
}

func (p *CachingProvisioner) UpdateLocationMetadata(ctx context.Context, collectionName string, profile BillingProfile, flightId string) error {
	return p.delegate.UpdateLocationMetadata(ctx, collectionName, profile, flightId)
}
