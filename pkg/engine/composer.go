package engine

import (
	"errors"
)

// Composer turns a profile name into a build plan.
type Composer struct {
	catalog  *Catalog
	resolver *Resolver
}

// NewComposer creates a composer over a catalog.
func NewComposer(catalog *Catalog, resolver *Resolver) *Composer {
	return &Composer{catalog: catalog, resolver: resolver}
}

// ResolveProfile resolves the named profile. Only the profile's units take part:
// a unit outside the profile never satisfies a requirement, even when it could.
// Resolver failures are returned unchanged.
func (c *Composer) ResolveProfile(name string) (*BuildPlan, error) {
	units, err := c.catalog.selectUnits(name)
	if err != nil {
		return nil, err
	}
	return c.resolver.Resolve(name, units)
}

// ValidateAll resolves every registered profile and joins the failures.
func (c *Composer) ValidateAll() error {
	var errs []error
	for _, p := range c.catalog.Profiles() {
		if _, err := c.ResolveProfile(p.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
