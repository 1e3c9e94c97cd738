// Package tlsdata provides the read-only TLS catalogue: suburbs and
// properties classified into green/orange/red zones. The catalogue is loaded
// once at startup and shared immutably across simulation paths.
package tlsdata

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/aristath/fundsim/internal/domain"
)

// Suburb is one suburb of the catalogue with its TLS score.
type Suburb struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Zone  domain.Zone `json:"zone"`
	Score float64     `json:"score"` // TLS composite score in [0,100]
}

// Property is one property available for loan origination.
type Property struct {
	ID         string      `json:"id"`
	SuburbID   string      `json:"suburb_id"`
	Zone       domain.Zone `json:"zone"`
	Value      float64     `json:"value"`
	Volatility float64     `json:"volatility"` // idiosyncratic annual sigma
}

// NotFoundError reports a missing zone, suburb or property. It maps to the
// DataUnavailable error kind: fatal to the stage that hit it.
type NotFoundError struct {
	Kind string // "zone", "suburb" or "property"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tls catalogue: %s %q not found", e.Kind, e.ID)
}

// Catalogue is the immutable suburb/property universe. Accessors return
// slices in deterministic (sorted) order so downstream draws are stable.
type Catalogue struct {
	suburbs       map[string]Suburb
	properties    map[string]Property
	byZone        map[domain.Zone][]Property
	suburbsByZone map[domain.Zone][]Suburb
}

// New builds a catalogue from suburb and property lists.
func New(suburbs []Suburb, properties []Property) (*Catalogue, error) {
	c := &Catalogue{
		suburbs:       make(map[string]Suburb, len(suburbs)),
		properties:    make(map[string]Property, len(properties)),
		byZone:        make(map[domain.Zone][]Property),
		suburbsByZone: make(map[domain.Zone][]Suburb),
	}
	for _, s := range suburbs {
		if _, dup := c.suburbs[s.ID]; dup {
			return nil, fmt.Errorf("duplicate suburb id %q", s.ID)
		}
		c.suburbs[s.ID] = s
		c.suburbsByZone[s.Zone] = append(c.suburbsByZone[s.Zone], s)
	}
	for _, p := range properties {
		if _, dup := c.properties[p.ID]; dup {
			return nil, fmt.Errorf("duplicate property id %q", p.ID)
		}
		if _, ok := c.suburbs[p.SuburbID]; !ok {
			return nil, &NotFoundError{Kind: "suburb", ID: p.SuburbID}
		}
		c.properties[p.ID] = p
		c.byZone[p.Zone] = append(c.byZone[p.Zone], p)
	}
	for z := range c.byZone {
		sort.Slice(c.byZone[z], func(i, j int) bool { return c.byZone[z][i].ID < c.byZone[z][j].ID })
	}
	for z := range c.suburbsByZone {
		sort.Slice(c.suburbsByZone[z], func(i, j int) bool { return c.suburbsByZone[z][i].ID < c.suburbsByZone[z][j].ID })
	}
	return c, nil
}

// Suburb looks up a suburb by id.
func (c *Catalogue) Suburb(id string) (Suburb, error) {
	s, ok := c.suburbs[id]
	if !ok {
		return Suburb{}, &NotFoundError{Kind: "suburb", ID: id}
	}
	return s, nil
}

// Property looks up a property by id.
func (c *Catalogue) Property(id string) (Property, error) {
	p, ok := c.properties[id]
	if !ok {
		return Property{}, &NotFoundError{Kind: "property", ID: id}
	}
	return p, nil
}

// PropertiesInZone returns the zone's properties in id order.
func (c *Catalogue) PropertiesInZone(z domain.Zone) ([]Property, error) {
	ps, ok := c.byZone[z]
	if !ok || len(ps) == 0 {
		return nil, &NotFoundError{Kind: "zone", ID: string(z)}
	}
	return ps, nil
}

// SuburbsInZone returns the zone's suburbs in id order.
func (c *Catalogue) SuburbsInZone(z domain.Zone) ([]Suburb, error) {
	ss, ok := c.suburbsByZone[z]
	if !ok || len(ss) == 0 {
		return nil, &NotFoundError{Kind: "zone", ID: string(z)}
	}
	return ss, nil
}

// NumProperties returns the catalogue size.
func (c *Catalogue) NumProperties() int {
	return len(c.properties)
}

// catalogueDoc is the on-disk JSON shape.
type catalogueDoc struct {
	Suburbs    []Suburb   `json:"suburbs"`
	Properties []Property `json:"properties"`
}

// LoadFile reads a catalogue from a JSON document.
func LoadFile(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue %s: %w", path, err)
	}
	var doc catalogueDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalogue %s: %w", path, err)
	}
	return New(doc.Suburbs, doc.Properties)
}
