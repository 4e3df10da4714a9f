package interop

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// PlaceholderFunc expands the param part of a %identifier_param% token.
type PlaceholderFunc func(ctx context.Context, param string) (string, error)

var (
	identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)
	tokenPattern      = regexp.MustCompile(`%([a-zA-Z0-9-]+)_([^%\s]*)%`)
)

// Placeholders is the host placeholder registry. When disabled every
// registration is refused and Resolve returns text unchanged.
type Placeholders struct {
	enabled bool
	entries *table[PlaceholderFunc]

	mu     sync.RWMutex
	byName map[string]uuid.UUID
}

// NewPlaceholders creates a placeholder registry.
func NewPlaceholders(enabled bool) *Placeholders {
	return &Placeholders{
		enabled: enabled,
		entries: newTable[PlaceholderFunc](),
		byName:  make(map[string]uuid.UUID),
	}
}

// Enabled reports whether the subsystem is available.
func (p *Placeholders) Enabled() bool {
	return p.enabled
}

// Register adds an expansion for %identifier_...% tokens.
func (p *Placeholders) Register(owner, identifier string, fn PlaceholderFunc) (Registration, error) {
	if !p.enabled {
		return Registration{}, ErrDisabled
	}
	identifier = strings.ToLower(identifier)
	if !identifierPattern.MatchString(identifier) {
		return Registration{}, fmt.Errorf("%w: placeholder identifier %q", ErrInvalid, identifier)
	}
	if fn == nil {
		return Registration{}, fmt.Errorf("%w: placeholder %q has no handler", ErrInvalid, identifier)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.byName[identifier]; exists {
		return Registration{}, fmt.Errorf("placeholder %q: %w", identifier, ErrDuplicate)
	}
	reg := newRegistration(KindPlaceholder, owner, identifier)
	p.entries.add(reg, fn)
	p.byName[identifier] = reg.ID
	return reg, nil
}

// Unregister removes a placeholder expansion.
func (p *Placeholders) Unregister(reg Registration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries.remove(reg.ID)
	if !ok {
		return fmt.Errorf("placeholder %q: %w", reg.Name, ErrNotFound)
	}
	delete(p.byName, e.reg.Name)
	return nil
}

// UnregisterOwner removes every expansion owned by owner.
func (p *Placeholders) UnregisterOwner(owner string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := p.entries.removeOwner(owner)
	for _, e := range removed {
		delete(p.byName, e.reg.Name)
	}
	return len(removed)
}

// Resolve replaces every %identifier_param% token with its expansion.
// Tokens with an unknown identifier or a failing expansion stay as written.
func (p *Placeholders) Resolve(ctx context.Context, text string) string {
	if !p.enabled || !strings.Contains(text, "%") {
		return text
	}
	return tokenPattern.ReplaceAllStringFunc(text, func(token string) string {
		m := tokenPattern.FindStringSubmatch(token)
		fn, ok := p.lookup(strings.ToLower(m[1]))
		if !ok {
			return token
		}
		out, err := expand(ctx, fn, m[2])
		if err != nil {
			return token
		}
		return out
	})
}

func (p *Placeholders) lookup(identifier string) (PlaceholderFunc, bool) {
	p.mu.RLock()
	id, ok := p.byName[identifier]
	p.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e, ok := p.entries.get(id)
	return e.value, ok
}

func expand(ctx context.Context, fn PlaceholderFunc, param string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("placeholder panicked: %v", r)
		}
	}()
	return fn(ctx, param)
}

// Active returns the live registrations in registration order.
func (p *Placeholders) Active() []Registration {
	return p.entries.registrations()
}

// Len returns the number of registered expansions.
func (p *Placeholders) Len() int {
	return p.entries.len()
}
