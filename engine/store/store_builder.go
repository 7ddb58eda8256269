package store

import "go.uber.org/zap"

type storeConfig struct {
	arenaCapacity     int
	virtualArena      bool
	meshCapacity      int
	nodeCapacity      int
	skinnedCapacity   int
	instancedCapacity int
	animatedCapacity  int
	cbufferCapacity   int
	logger            *zap.Logger
}

const (
	DefaultArenaCapacity     = 1 << 20
	DefaultMeshCapacity      = 2048
	DefaultNodeCapacity      = 256
	DefaultSkinnedCapacity   = 256
	DefaultInstancedCapacity = 16
	DefaultAnimatedCapacity  = 256
	DefaultCBufferCapacity   = 1 + DefaultNodeCapacity + 2*DefaultSkinnedCapacity + 2*DefaultInstancedCapacity
)

// RequiredCBuffers returns the constant buffer table size that lets every node pool be filled: one
// entry per plain node, two per skinned or instanced node, plus the reserved entry 0.
//
// Parameters:
//   - nodes, skinned, instanced: the node pool capacities
//
// Returns:
//   - int: the table size
func RequiredCBuffers(nodes, skinned, instanced int) int {
	return 1 + nodes + 2*skinned + 2*instanced
}

func defaultStoreConfig() storeConfig {
	return storeConfig{
		arenaCapacity:     DefaultArenaCapacity,
		meshCapacity:      DefaultMeshCapacity,
		nodeCapacity:      DefaultNodeCapacity,
		skinnedCapacity:   DefaultSkinnedCapacity,
		instancedCapacity: DefaultInstancedCapacity,
		animatedCapacity:  DefaultAnimatedCapacity,
		logger:            zap.NewNop(),
	}
}

// StoreBuilderOption is a functional option for configuring a Store.
type StoreBuilderOption func(*storeConfig)

// WithArenaCapacity sets the size of the persistent arena the pools are carved from.
//
// Parameters:
//   - bytes: arena capacity in bytes
//
// Returns:
//   - StoreBuilderOption: option function to apply
func WithArenaCapacity(bytes int) StoreBuilderOption {
	return func(c *storeConfig) {
		c.arenaCapacity = bytes
	}
}

// WithVirtualArena backs the persistent arena with a lazily committed virtual reservation instead of a
// fixed heap region. The arena capacity is ignored.
func WithVirtualArena(enabled bool) StoreBuilderOption {
	return func(c *storeConfig) {
		c.virtualArena = enabled
	}
}

// WithMeshCapacity sets the size of the mesh pool.
func WithMeshCapacity(n int) StoreBuilderOption {
	return func(c *storeConfig) {
		c.meshCapacity = n
	}
}

// WithNodeCapacity sets the size of the default node pool. It must not exceed MaxPoolCapacity.
func WithNodeCapacity(n int) StoreBuilderOption {
	return func(c *storeConfig) {
		c.nodeCapacity = n
	}
}

// WithSkinnedCapacity sets the size of the skinned node pool. It must not exceed MaxPoolCapacity.
func WithSkinnedCapacity(n int) StoreBuilderOption {
	return func(c *storeConfig) {
		c.skinnedCapacity = n
	}
}

// WithInstancedCapacity sets the size of the instanced node pool. It must not exceed MaxPoolCapacity.
func WithInstancedCapacity(n int) StoreBuilderOption {
	return func(c *storeConfig) {
		c.instancedCapacity = n
	}
}

// WithAnimatedCapacity sets the size of the animated node pool.
func WithAnimatedCapacity(n int) StoreBuilderOption {
	return func(c *storeConfig) {
		c.animatedCapacity = n
	}
}

// WithCBufferCapacity sets the number of entries of the constant buffer table. Zero, the default,
// sizes it with RequiredCBuffers from the node pool capacities.
func WithCBufferCapacity(n int) StoreBuilderOption {
	return func(c *storeConfig) {
		c.cbufferCapacity = n
	}
}

// WithLogger sets the logger used for setup and driver failures.
//
// Parameters:
//   - logger: the zap logger, nil keeps the no-op default
//
// Returns:
//   - StoreBuilderOption: option function to apply
func WithLogger(logger *zap.Logger) StoreBuilderOption {
	return func(c *storeConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}
