package interop

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// CommandFunc handles a console command.
type CommandFunc func(ctx context.Context, args []string) error

// Commands is the host command registry. Command names are unique and
// case-insensitive.
type Commands struct {
	entries *table[CommandFunc]

	mu     sync.RWMutex
	byName map[string]uuid.UUID
}

// NewCommands creates an empty command registry.
func NewCommands() *Commands {
	return &Commands{
		entries: newTable[CommandFunc](),
		byName:  make(map[string]uuid.UUID),
	}
}

// Register adds a command owned by owner.
func (c *Commands) Register(owner, name string, fn CommandFunc) (Registration, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || strings.ContainsAny(key, " \t") {
		return Registration{}, fmt.Errorf("%w: command name %q", ErrInvalid, name)
	}
	if fn == nil {
		return Registration{}, fmt.Errorf("%w: command %q has no handler", ErrInvalid, name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byName[key]; exists {
		return Registration{}, fmt.Errorf("command %q: %w", key, ErrDuplicate)
	}

	reg := newRegistration(KindCommand, owner, key)
	c.entries.add(reg, fn)
	c.byName[key] = reg.ID
	return reg, nil
}

// Unregister removes a command.
func (c *Commands) Unregister(reg Registration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.remove(reg.ID)
	if !ok {
		return fmt.Errorf("command %q: %w", reg.Name, ErrNotFound)
	}
	delete(c.byName, e.reg.Name)
	return nil
}

// UnregisterOwner removes every command owned by owner and returns the count.
func (c *Commands) UnregisterOwner(owner string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := c.entries.removeOwner(owner)
	for _, e := range removed {
		delete(c.byName, e.reg.Name)
	}
	return len(removed)
}

// Has reports whether a command with the given name exists.
func (c *Commands) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.byName[strings.ToLower(name)]
	return ok
}

// Execute runs the named command. A panicking handler is returned as an error.
func (c *Commands) Execute(ctx context.Context, name string, args []string) (err error) {
	c.mu.RLock()
	id, ok := c.byName[strings.ToLower(name)]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("command %q: %w", name, ErrNotFound)
	}
	e, ok := c.entries.get(id)
	if !ok {
		return fmt.Errorf("command %q: %w", name, ErrNotFound)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command %q panicked: %v", name, r)
		}
	}()
	return e.value(ctx, args)
}

// Names returns the registered command names, sorted.
func (c *Commands) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Active returns the live registrations in registration order.
func (c *Commands) Active() []Registration {
	return c.entries.registrations()
}

// Len returns the number of registered commands.
func (c *Commands) Len() int {
	return c.entries.len()
}
