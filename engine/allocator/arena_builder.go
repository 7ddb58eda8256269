package allocator

type arenaConfig struct {
	capacity int
	virtual  bool
	highmark *Highmark
	label    string
}

// ArenaBuilderOption is a functional option for configuring an Arena.
// Use the With* functions to create options.
type ArenaBuilderOption func(*arenaConfig)

// WithCapacity sets the size in bytes of a fixed arena. It is ignored in virtual mode, where the
// reservation is always VirtualReserve bytes.
//
// Parameters:
//   - bytes: the arena capacity
//
// Returns:
//   - ArenaBuilderOption: option function to apply
func WithCapacity(bytes int) ArenaBuilderOption {
	return func(c *arenaConfig) {
		c.capacity = bytes
	}
}

// WithVirtualMemory backs the arena with a virtual-memory reservation that commits pages lazily.
//
// Parameters:
//   - enabled: true to reserve address space instead of allocating a fixed heap region
//
// Returns:
//   - ArenaBuilderOption: option function to apply
func WithVirtualMemory(enabled bool) ArenaBuilderOption {
	return func(c *arenaConfig) {
		c.virtual = enabled
	}
}

// WithHighmark attaches a shared high-water cell. Every copy of the arena reads and raises it.
//
// Parameters:
//   - h: the shared cell
//
// Returns:
//   - ArenaBuilderOption: option function to apply
func WithHighmark(h *Highmark) ArenaBuilderOption {
	return func(c *arenaConfig) {
		c.highmark = h
	}
}

// WithLabel names the arena in panic messages and logs.
//
// Parameters:
//   - label: the arena name
//
// Returns:
//   - ArenaBuilderOption: option function to apply
func WithLabel(label string) ArenaBuilderOption {
	return func(c *arenaConfig) {
		c.label = label
	}
}
