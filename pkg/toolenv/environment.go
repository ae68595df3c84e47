// Package toolenv resolves the native toolchain environment and models it as
// an immutable, ordered set of variables that phases overlay without sharing.
package toolenv

import (
	"os"
	"sort"
	"strings"
)

// PathVar is the executable search path variable.
const PathVar = "PATH"

// Environment is an ordered mapping of upper-cased variable names to values.
// The zero value is an empty environment. All methods return new values and
// never modify the receiver.
type Environment struct {
	keys   []string
	values map[string]string
}

// New builds an Environment from NAME=value pairs. Names are upper-cased;
// later duplicates replace earlier values but keep the first position.
// Entries without '=' are ignored.
func New(pairs []string) Environment {
	env := Environment{values: make(map[string]string, len(pairs))}
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			continue
		}
		env.set(name, value)
	}
	return env
}

// FromProcess captures the harness's own process environment.
func FromProcess() Environment {
	return New(os.Environ())
}

// FromMap builds an Environment from a map, ordered by name.
func FromMap(m map[string]string) Environment {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	env := Environment{values: make(map[string]string, len(m))}
	for _, name := range names {
		env.set(name, m[name])
	}
	return env
}

func (e *Environment) set(name, value string) {
	key := strings.ToUpper(name)
	if e.values == nil {
		e.values = make(map[string]string)
	}
	if _, exists := e.values[key]; !exists {
		e.keys = append(e.keys, key)
	}
	e.values[key] = value
}

func (e Environment) clone() Environment {
	out := Environment{
		keys:   make([]string, len(e.keys)),
		values: make(map[string]string, len(e.values)),
	}
	copy(out.keys, e.keys)
	for k, v := range e.values {
		out.values[k] = v
	}
	return out
}

// Get returns the value of name, looked up case-insensitively.
func (e Environment) Get(name string) (string, bool) {
	v, ok := e.values[strings.ToUpper(name)]
	return v, ok
}

// Has reports whether name is set.
func (e Environment) Has(name string) bool {
	_, ok := e.Get(name)
	return ok
}

// Len returns the number of variables.
func (e Environment) Len() int {
	return len(e.keys)
}

// Names returns the variable names in order.
func (e Environment) Names() []string {
	out := make([]string, len(e.keys))
	copy(out, e.keys)
	return out
}

// With returns a copy of e with name set to value.
func (e Environment) With(name, value string) Environment {
	out := e.clone()
	out.set(name, value)
	return out
}

// PrependPath returns a copy of e with dirs placed in front of PATH.
func (e Environment) PrependPath(dirs ...string) Environment {
	if len(dirs) == 0 {
		return e.clone()
	}
	parts := append([]string{}, dirs...)
	if current, ok := e.Get(PathVar); ok && current != "" {
		parts = append(parts, current)
	}
	return e.With(PathVar, strings.Join(parts, string(os.PathListSeparator)))
}

// Environ renders the environment as NAME=value pairs in order, suitable for
// exec.Cmd.Env.
func (e Environment) Environ() []string {
	out := make([]string, 0, len(e.keys))
	for _, k := range e.keys {
		out = append(out, k+"="+e.values[k])
	}
	return out
}

// Overlay is a set of changes applied on top of a base Environment.
type Overlay struct {
	// Set holds variables that replace or extend the base.
	Set map[string]string

	// PathPrepend holds directories placed in front of PATH, in order.
	PathPrepend []string
}

// IsZero reports whether the overlay changes nothing.
func (o Overlay) IsZero() bool {
	return len(o.Set) == 0 && len(o.PathPrepend) == 0
}

// Apply returns a new Environment with the overlay applied to base. The
// overlay wins on key collisions; base is left untouched.
func (o Overlay) Apply(base Environment) Environment {
	out := base.clone()

	names := make([]string, 0, len(o.Set))
	for name := range o.Set {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out.set(name, o.Set[name])
	}

	if len(o.PathPrepend) > 0 {
		out = out.PrependPath(o.PathPrepend...)
	}
	return out
}

// Merge returns an overlay holding o's changes followed by other's.
func (o Overlay) Merge(other Overlay) Overlay {
	merged := Overlay{Set: make(map[string]string, len(o.Set)+len(other.Set))}
	for k, v := range o.Set {
		merged.Set[strings.ToUpper(k)] = v
	}
	for k, v := range other.Set {
		merged.Set[strings.ToUpper(k)] = v
	}
	merged.PathPrepend = append(append([]string{}, other.PathPrepend...), o.PathPrepend...)
	return merged
}
