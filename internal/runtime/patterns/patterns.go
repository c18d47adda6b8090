// Package patterns is the compile-time catalog of destinations and request
// patterns. Callers and handlers share the constants declared here, and the
// Registry checks them at boot so a drifted string fails before any message
// is sent.
package patterns

import (
	"fmt"
	"sort"
	"strings"

	errspkg "github.com/northwind-crm/crmbus/internal/runtime/errors"
)

// QueueSuffix is appended to a destination name to form its durable queue.
const QueueSuffix = "_queue"

// Destination is a symbolic service name bound to one durable queue.
type Destination string

// Queue returns the durable work queue of the destination.
func (d Destination) Queue() string {
	return string(d) + QueueSuffix
}

func (d Destination) String() string {
	return string(d)
}

// Pattern names one operation within a destination's namespace.
type Pattern string

// Namespace returns the part of the pattern before the first dot.
func (p Pattern) Namespace() string {
	ns, _, _ := strings.Cut(string(p), ".")
	return ns
}

func (p Pattern) String() string {
	return string(p)
}

// Registry maps destinations to their queues and patterns. It is immutable
// after construction and safe for concurrent use.
type Registry struct {
	patterns map[Destination]map[Pattern]struct{}
}

// NewRegistry builds a registry from entries. Every pattern must live in the
// namespace of its destination and appear once.
func NewRegistry(entries map[Destination][]Pattern) (*Registry, error) {
	r := &Registry{patterns: make(map[Destination]map[Pattern]struct{}, len(entries))}
	for dest, list := range entries {
		if dest == "" {
			return nil, fmt.Errorf("patterns: empty destination name")
		}
		set := make(map[Pattern]struct{}, len(list))
		for _, p := range list {
			if p.Namespace() != string(dest) || !strings.Contains(string(p), ".") {
				return nil, fmt.Errorf("patterns: %q is outside the %q namespace", p, dest)
			}
			if _, dup := set[p]; dup {
				return nil, fmt.Errorf("patterns: %q declared twice", p)
			}
			set[p] = struct{}{}
		}
		r.patterns[dest] = set
	}
	return r, nil
}

// MustNewRegistry is NewRegistry that panics on error.
func MustNewRegistry(entries map[Destination][]Pattern) *Registry {
	r, err := NewRegistry(entries)
	if err != nil {
		panic(err)
	}
	return r
}

var defaultRegistry = MustNewRegistry(Catalog)

// Default returns the registry built from Catalog.
func Default() *Registry {
	return defaultRegistry
}

// Lookup returns the queue of dest.
func (r *Registry) Lookup(dest Destination) (string, bool) {
	if _, ok := r.patterns[dest]; !ok {
		return "", false
	}
	return dest.Queue(), true
}

// Validate reports whether p is a registered pattern of dest. The returned
// error wraps ErrUnknownDestination or ErrUnknownPattern.
func (r *Registry) Validate(dest Destination, p Pattern) error {
	set, ok := r.patterns[dest]
	if !ok {
		return fmt.Errorf("%w: %q", errspkg.ErrUnknownDestination, dest)
	}
	if _, ok := set[p]; !ok {
		return fmt.Errorf("%w: %q for destination %q", errspkg.ErrUnknownPattern, p, dest)
	}
	return nil
}

// DestinationOf returns the destination owning p.
func (r *Registry) DestinationOf(p Pattern) (Destination, bool) {
	dest := Destination(p.Namespace())
	if r.Validate(dest, p) != nil {
		return "", false
	}
	return dest, true
}

// Destinations returns every destination, sorted by name.
func (r *Registry) Destinations() []Destination {
	out := make([]Destination, 0, len(r.patterns))
	for d := range r.patterns {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Patterns returns the patterns of dest, sorted.
func (r *Registry) Patterns(dest Destination) []Pattern {
	set := r.patterns[dest]
	out := make([]Pattern, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DestinationInfo describes one destination for the admin listing.
type DestinationInfo struct {
	Name     string   `json:"name"`
	Queue    string   `json:"queue"`
	Patterns []string `json:"patterns"`
}

// Describe returns a sorted listing of the registry.
func (r *Registry) Describe() []DestinationInfo {
	dests := r.Destinations()
	out := make([]DestinationInfo, 0, len(dests))
	for _, d := range dests {
		info := DestinationInfo{Name: d.String(), Queue: d.Queue()}
		for _, p := range r.Patterns(d) {
			info.Patterns = append(info.Patterns, p.String())
		}
		out = append(out, info)
	}
	return out
}
