package engine

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Profile is a named, explicit subset of catalog units forming one deployment variant.
type Profile struct {
	// Name identifies the profile.
	Name string `json:"name" yaml:"name"`

	// Description is a human-readable summary.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Units lists the unit names that participate.
	Units []string `json:"units" yaml:"units"`
}

// Catalog holds registered units and profiles. Registration order is recorded
// because it breaks ties during resolution.
type Catalog struct {
	mu           sync.RWMutex
	units        map[string]*UnitDescriptor
	unitOrder    []string
	profiles     map[string]*Profile
	profileOrder []string
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		units:        make(map[string]*UnitDescriptor),
		unitOrder:    make([]string, 0),
		profiles:     make(map[string]*Profile),
		profileOrder: make([]string, 0),
	}
}

// AddUnit validates and registers a descriptor. The catalog keeps its own copy.
func (c *Catalog) AddUnit(desc UnitDescriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.units[desc.Name]; exists {
		return newDuplicateUnitNameError(desc.Name)
	}
	c.units[desc.Name] = desc.clone()
	c.unitOrder = append(c.unitOrder, desc.Name)
	return nil
}

// AddProfile registers a profile. Every unit it names must already be registered.
func (c *Catalog) AddProfile(p Profile) error {
	if strings.TrimSpace(p.Name) == "" {
		return NewUserError("profile name is empty", nil).
			WithCode(ErrCodeInvalidProfile).
			WithOperation("register_profile")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.profiles[p.Name]; exists {
		return NewUserError(fmt.Sprintf("profile %q is already registered", p.Name), nil).
			WithCode(ErrCodeDuplicateProfile).
			WithOperation("register_profile").
			WithDetail("profile", p.Name)
	}

	seen := make(map[string]struct{}, len(p.Units))
	for _, name := range p.Units {
		if _, ok := c.units[name]; !ok {
			return newUnknownUnitError(p.Name, name)
		}
		if _, dup := seen[name]; dup {
			return NewUserError(fmt.Sprintf("profile %q lists unit %q more than once", p.Name, name), nil).
				WithCode(ErrCodeInvalidProfile).
				WithUnit(name).
				WithOperation("register_profile").
				WithDetail("profile", p.Name)
		}
		seen[name] = struct{}{}
	}

	c.profiles[p.Name] = &Profile{
		Name:        p.Name,
		Description: p.Description,
		Units:       slices.Clone(p.Units),
	}
	c.profileOrder = append(c.profileOrder, p.Name)
	return nil
}

// Unit returns a copy of the named descriptor.
func (c *Catalog) Unit(name string) (UnitDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.units[name]
	if !ok {
		return UnitDescriptor{}, false
	}
	return *d.clone(), true
}

// Units returns copies of all descriptors in registration order.
func (c *Catalog) Units() []UnitDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]UnitDescriptor, 0, len(c.unitOrder))
	for _, name := range c.unitOrder {
		out = append(out, *c.units[name].clone())
	}
	return out
}

// Profile returns a copy of the named profile.
func (c *Catalog) Profile(name string) (Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.profiles[name]
	if !ok {
		return Profile{}, false
	}
	return Profile{Name: p.Name, Description: p.Description, Units: slices.Clone(p.Units)}, true
}

// Profiles returns copies of all profiles in registration order.
func (c *Catalog) Profiles() []Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Profile, 0, len(c.profileOrder))
	for _, name := range c.profileOrder {
		p := c.profiles[name]
		out = append(out, Profile{Name: p.Name, Description: p.Description, Units: slices.Clone(p.Units)})
	}
	return out
}

// selectUnits returns the profile's descriptors in catalog registration order.
func (c *Catalog) selectUnits(profile string) ([]*UnitDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.profiles[profile]
	if !ok {
		return nil, newUnknownProfileError(profile)
	}

	members := make(map[string]struct{}, len(p.Units))
	for _, name := range p.Units {
		members[name] = struct{}{}
	}

	selected := make([]*UnitDescriptor, 0, len(p.Units))
	for _, name := range c.unitOrder {
		if _, ok := members[name]; ok {
			selected = append(selected, c.units[name])
		}
	}
	return selected, nil
}
