package measurement

import (
	"context"
	"sync"
	"time"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing. Production should use PostgresRepository.
type InMemoryRepository struct {
	mu sync.RWMutex

	nextID       int64
	sources      map[string]*DataSource
	parameters   map[int64]*Parameter
	locations    map[coordinateKey]*Location
	measurements map[int64]*Measurement

	// failInsert, when set, is returned by InsertMeasurement.
	failInsert error
}

// NewInMemoryRepository creates a new in-memory repository seeded with the
// given parameter catalog.
func NewInMemoryRepository(params ...Parameter) *InMemoryRepository {
	r := &InMemoryRepository{
		sources:      make(map[string]*DataSource),
		parameters:   make(map[int64]*Parameter),
		locations:    make(map[coordinateKey]*Location),
		measurements: make(map[int64]*Measurement),
	}
	for _, p := range params {
		cpy := p
		cpy.ID = r.id()
		r.parameters[cpy.ID] = &cpy
	}
	return r
}

// SeedCatalog returns the canonical parameter catalog for every mapping
// this pipeline knows.
func SeedCatalog() []Parameter {
	var params []Parameter
	for _, mappings := range [][]ParameterMapping{AirQualityMappings(), WeatherMappings()} {
		for _, m := range mappings {
			params = append(params, Parameter{
				Name:           m.Name,
				Unit:           m.Unit,
				Category:       m.Category,
				AllowsNegative: m.Kind == KindSigned,
			})
		}
	}
	return params
}

func (r *InMemoryRepository) id() int64 {
	r.nextID++
	return r.nextID
}

// SetInsertError makes subsequent InsertMeasurement calls fail with err.
// Pass nil to restore normal behavior.
func (r *InMemoryRepository) SetInsertError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failInsert = err
}

// UpsertSource returns the id of the named source, creating it if absent.
func (r *InMemoryRepository) UpsertSource(_ context.Context, src SourceInfo) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sources[src.Name]; ok {
		return s.ID, nil
	}
	s := &DataSource{ID: r.id(), Name: src.Name, URL: src.URL, Description: src.Description}
	r.sources[src.Name] = s
	return s.ID, nil
}

// FindParameter looks up a parameter by name and category.
func (r *InMemoryRepository) FindParameter(_ context.Context, name string, category Category) (*Parameter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.parameters {
		if p.Name == name && p.Category == category {
			cpy := *p
			return &cpy, nil
		}
	}
	return nil, ErrParameterNotFound
}

// FindLocation returns the location matching lat/lon after rounding.
func (r *InMemoryRepository) FindLocation(_ context.Context, lat, lon float64) (*Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	loc, ok := r.locations[keyFor(lat, lon)]
	if !ok {
		return nil, ErrLocationNotFound
	}
	cpy := *loc
	return &cpy, nil
}

// CreateLocation inserts loc unless its rounded coordinates already exist.
func (r *InMemoryRepository) CreateLocation(_ context.Context, loc *Location) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := keyFor(loc.Lat, loc.Lon)
	if existing, ok := r.locations[key]; ok {
		return existing.ID, nil
	}
	cpy := *loc
	cpy.ID = r.id()
	cpy.CreatedAt = time.Now()
	r.locations[key] = &cpy
	return cpy.ID, nil
}

// InsertMeasurement stores a fact row.
func (r *InMemoryRepository) InsertMeasurement(_ context.Context, m *Measurement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failInsert != nil {
		return r.failInsert
	}
	if m.Value < 0 && !r.allowsNegative(m.ParameterID) {
		return ErrInvalidValue
	}

	m.ID = r.id()
	m.CreatedAt = time.Now()
	cpy := *m
	r.measurements[m.ID] = &cpy
	return nil
}

func (r *InMemoryRepository) allowsNegative(parameterID int64) bool {
	p, ok := r.parameters[parameterID]
	return ok && p.AllowsNegative
}

// GetMeasurement retrieves a fact row by ID.
func (r *InMemoryRepository) GetMeasurement(_ context.Context, id int64) (*Measurement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.measurements[id]
	if !ok {
		return nil, ErrMeasurementNotFound
	}
	cpy := *m
	return &cpy, nil
}

// Measurements returns all stored fact rows in insertion order.
func (r *InMemoryRepository) Measurements() []*Measurement {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Measurement, 0, len(r.measurements))
	for id := int64(1); id <= r.nextID; id++ {
		if m, ok := r.measurements[id]; ok {
			cpy := *m
			out = append(out, &cpy)
		}
	}
	return out
}

// LocationCount returns the number of distinct locations.
func (r *InMemoryRepository) LocationCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.locations)
}

// SourceCount returns the number of distinct data sources.
func (r *InMemoryRepository) SourceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

// Ensure InMemoryRepository implements Repository interface.
var _ Repository = (*InMemoryRepository)(nil)
