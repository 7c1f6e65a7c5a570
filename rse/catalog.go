package rse

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
)

// AttrEndpointID is the attribute holding the backend endpoint identifier of
// a storage element.
const AttrEndpointID = "globus_endpoint_id"

var (
	// ErrUnknownRSE is returned when a storage element is not in the catalog.
	ErrUnknownRSE = errors.New("unknown rse")
	// ErrDuplicateRSE is returned when a catalog is built with the same name twice.
	ErrDuplicateRSE = errors.New("duplicate rse")
)

// AttributeStore resolves attributes of storage elements.
type AttributeStore interface {
	Attribute(rse, key string) (string, bool)
}

// RSE describes one storage element.
type RSE struct {
	Name       string
	Attributes map[string]string
	Protocol   Protocol
}

// Catalog is an in-memory AttributeStore built from configuration.
type Catalog struct {
	rses map[string]RSE
}

var _ AttributeStore = (*Catalog)(nil)

// NewCatalog indexes the given storage elements by name.
func NewCatalog(rses ...RSE) (*Catalog, error) {
	c := &Catalog{rses: make(map[string]RSE, len(rses))}

	var errs *multierror.Error
	for _, r := range rses {
		if r.Name == "" {
			errs = multierror.Append(errs, errors.New("rse without a name"))
			continue
		}
		if _, ok := c.rses[r.Name]; ok {
			errs = multierror.Append(errs, fmt.Errorf("%w: %s", ErrDuplicateRSE, r.Name))
			continue
		}
		c.rses[r.Name] = r
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return c, nil
}

// Attribute returns the attribute value for key on the named storage element.
// Empty values count as missing.
func (c *Catalog) Attribute(rse, key string) (string, bool) {
	r, ok := c.rses[rse]
	if !ok {
		return "", false
	}
	v, ok := r.Attributes[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Get returns the named storage element.
func (c *Catalog) Get(name string) (RSE, error) {
	r, ok := c.rses[name]
	if !ok {
		return RSE{}, fmt.Errorf("%w: %s", ErrUnknownRSE, name)
	}
	return r, nil
}

// Names returns the catalog's storage element names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.rses))
	for name := range c.rses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
