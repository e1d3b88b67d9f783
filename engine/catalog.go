package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

var ErrInvalidCatalog = errors.New("invalid engine catalog")

type Entry struct {
	ID      ID      `json:"id"`
	Profile Profile `json:"profile"`
}

// Catalog is the ordered set of engines the allocator distributes cores over.
// The order is both the iteration order and the tie-break order. It is never
// modified after NewCatalog returns.
type Catalog struct {
	engines  []ID
	index    map[ID]int
	profiles []Profile
	flagship ID
	fallback ID
}

// NewCatalog builds a catalog. flagship may be empty; fallback is required
// for a non-empty catalog and must be unrestricted.
func NewCatalog(entries []Entry, flagship, fallback ID) (*Catalog, error) {
	c := &Catalog{
		engines:  make([]ID, 0, len(entries)),
		index:    make(map[ID]int, len(entries)),
		profiles: make([]Profile, 0, len(entries)),
		flagship: flagship,
		fallback: fallback,
	}

	for _, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("%w: empty engine id", ErrInvalidCatalog)
		}
		if _, ok := c.index[e.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate engine %s", ErrInvalidCatalog, e.ID)
		}
		if err := e.Profile.Validate(); err != nil {
			return nil, fmt.Errorf("%w: engine %s: %w", ErrInvalidCatalog, e.ID, err)
		}
		c.index[e.ID] = len(c.engines)
		c.engines = append(c.engines, e.ID)
		c.profiles = append(c.profiles, e.Profile)
	}

	if len(c.engines) == 0 {
		if flagship != "" || fallback != "" {
			return nil, fmt.Errorf("%w: flagship or fallback named in an empty catalog", ErrInvalidCatalog)
		}
		return c, nil
	}

	if fallback == "" {
		return nil, fmt.Errorf("%w: no fallback engine", ErrInvalidCatalog)
	}
	fi, ok := c.index[fallback]
	if !ok {
		return nil, fmt.Errorf("%w: fallback engine %s not in catalog", ErrInvalidCatalog, fallback)
	}
	if c.profiles[fi].Kind != Unrestricted {
		return nil, fmt.Errorf("%w: fallback engine %s must be unrestricted", ErrInvalidCatalog, fallback)
	}

	if flagship != "" {
		i, ok := c.index[flagship]
		if !ok {
			return nil, fmt.Errorf("%w: flagship engine %s not in catalog", ErrInvalidCatalog, flagship)
		}
		if c.profiles[i].Kind != Thresholded {
			return nil, fmt.Errorf("%w: flagship engine %s must be thresholded", ErrInvalidCatalog, flagship)
		}
	}

	return c, nil
}

// Default mirrors the engine order the classifier was trained with.
func Default() *Catalog {
	c, err := NewCatalog([]Entry{
		{ID: Choco},
		{ID: Chuffed},
		{ID: CPSat, Profile: ThresholdedProfile(8, 0.625)},
		{ID: Gecode},
		{ID: Huub},
		{ID: Picat},
	}, CPSat, Gecode)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) Len() int {
	return len(c.engines)
}

func (c *Catalog) Engines() []ID {
	return slices.Clone(c.engines)
}

func (c *Catalog) Engine(i int) ID {
	return c.engines[i]
}

// Index returns the catalog position of id, or -1.
func (c *Catalog) Index(id ID) int {
	if i, ok := c.index[id]; ok {
		return i
	}
	return -1
}

func (c *Catalog) Contains(id ID) bool {
	_, ok := c.index[id]
	return ok
}

// Profile returns the profile for id. Unknown engines are unrestricted.
func (c *Catalog) Profile(id ID) Profile {
	if i, ok := c.index[id]; ok {
		return c.profiles[i]
	}
	return UnrestrictedProfile()
}

func (c *Catalog) ProfileAt(i int) Profile {
	return c.profiles[i]
}

func (c *Catalog) Flagship() ID {
	return c.flagship
}

func (c *Catalog) Fallback() ID {
	return c.fallback
}

func (c *Catalog) Entries() []Entry {
	entries := make([]Entry, len(c.engines))
	for i, id := range c.engines {
		entries[i] = Entry{ID: id, Profile: c.profiles[i]}
	}
	return entries
}

type catalogFile struct {
	Engines []struct {
		ID      string `yaml:"id"`
		Profile *struct {
			Kind            string  `yaml:"kind"`
			MinParallel     int     `yaml:"minParallel"`
			TriggerFraction float64 `yaml:"triggerFraction"`
		} `yaml:"profile"`
	} `yaml:"engines"`
	Flagship string `yaml:"flagship"`
	Fallback string `yaml:"fallback"`
}

// ParseCatalog reads a YAML catalog:
//
//	engines:
//	  - id: org.gecode.gecode
//	  - id: cp-sat
//	    profile: {kind: thresholded, minParallel: 8, triggerFraction: 0.625}
//	flagship: cp-sat
//	fallback: org.gecode.gecode
func ParseCatalog(r io.Reader) (*Catalog, error) {
	var f catalogFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}

	entries := make([]Entry, 0, len(f.Engines))
	for _, e := range f.Engines {
		entry := Entry{ID: ID(e.ID)}
		if e.Profile != nil {
			kind, err := ParseKind(e.Profile.Kind)
			if err != nil {
				return nil, fmt.Errorf("%w: engine %s: %w", ErrInvalidCatalog, e.ID, err)
			}
			entry.Profile = Profile{
				Kind:            kind,
				MinParallel:     e.Profile.MinParallel,
				TriggerFraction: e.Profile.TriggerFraction,
			}
		}
		entries = append(entries, entry)
	}

	return NewCatalog(entries, ID(f.Flagship), ID(f.Fallback))
}

func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParseCatalog(f)
}
