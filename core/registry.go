package core

import (
	"fmt"
	"sync"
)

// MemoryPlatformRegistry holds one PlatformClient per platform.
type MemoryPlatformRegistry struct {
	mu      sync.RWMutex
	clients map[Platform]PlatformClient
}

func NewPlatformRegistry(clients ...PlatformClient) *MemoryPlatformRegistry {
	registry := &MemoryPlatformRegistry{clients: make(map[Platform]PlatformClient)}
	for _, client := range clients {
		_ = registry.Register(client)
	}
	return registry
}

func (r *MemoryPlatformRegistry) Register(client PlatformClient) error {
	if client == nil {
		return fmt.Errorf("core: platform client is nil")
	}
	platform := NormalizePlatform(string(client.Platform()))
	if platform == "" {
		return fmt.Errorf("core: platform id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[platform]; exists {
		return fmt.Errorf("core: platform already registered: %s", platform)
	}
	r.clients[platform] = client
	return nil
}

func (r *MemoryPlatformRegistry) Get(platform Platform) (PlatformClient, bool) {
	platform = NormalizePlatform(string(platform))
	if platform == "" {
		return nil, false
	}
	r.mu.RLock()
	client, ok := r.clients[platform]
	r.mu.RUnlock()
	return client, ok
}

// List returns registered clients in KnownPlatforms order, then any others.
func (r *MemoryPlatformRegistry) List() []PlatformClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]PlatformClient, 0, len(r.clients))
	seen := map[Platform]bool{}
	for _, platform := range KnownPlatforms() {
		if client, ok := r.clients[platform]; ok {
			clients = append(clients, client)
			seen[platform] = true
		}
	}
	for platform, client := range r.clients {
		if !seen[platform] {
			clients = append(clients, client)
		}
	}
	return clients
}

var _ PlatformRegistry = (*MemoryPlatformRegistry)(nil)
