package domain

import (
	"encoding/json"
	"fmt"
	"os"

	apperrors "github.com/JeanKoerich/aluguel-bicicletas-eventos/internal/platform/errors"
)

// DefaultState builds the demo fleet: two stations downtown with their bikes
// docked, one administrator, and two participants. The system starts closed.
func DefaultState() *State {
	doc := seedDocument{
		Stations: []seedStation{
			{ID: "E01", Name: "Centro", Capacity: 10, Bikes: []string{
				"B01", "B02", "B03", "B04", "B05", "B06", "B07", "B08",
			}},
			{ID: "E02", Name: "Avenida", Capacity: 20, Bikes: []string{
				"B11", "B12", "B13", "B14", "B15", "B16", "B17", "B18", "B19", "B20",
				"B21", "B22", "B23", "B24", "B25",
			}},
		},
		Users: []seedUser{
			{ID: "U-ADM-1", Name: "Admin", Role: "administrator"},
			{ID: "U-001", Name: "Jean", Role: "participant"},
			{ID: "U-002", Name: "Maria", Role: "participant"},
		},
	}
	state, err := doc.build()
	if err != nil {
		// The built-in fixture is a constant; failing to build it is a bug.
		panic(fmt.Sprintf("default seed is invalid: %v", err))
	}
	return state
}

// LoadFile reads a JSON seed document and builds the initial state from it,
// so deployments can serve fleets other than the demo one.
func LoadFile(path string) (*State, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var doc seedDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSeedInvalid, "seed file is not valid JSON", err)
	}
	state, err := doc.build()
	if err != nil {
		return nil, err
	}
	return state, nil
}

type seedDocument struct {
	Stations []seedStation `json:"stations"`
	Users    []seedUser    `json:"users"`
}

type seedStation struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Capacity int      `json:"capacity"`
	Open     bool     `json:"open"`
	Bikes    []string `json:"bikes"`
}

type seedUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

func (d seedDocument) build() (*State, error) {
	state := &State{
		Stations:      make(map[string]*Station, len(d.Stations)),
		Bikes:         make(map[string]*Bike),
		Users:         make(map[string]*User, len(d.Users)),
		ActiveRentals: make(map[string]*Rental),
	}

	for _, entry := range d.Stations {
		if entry.ID == "" {
			return nil, apperrors.New(apperrors.CodeSeedInvalid, "seed station is missing an id")
		}
		if _, dup := state.Stations[entry.ID]; dup {
			return nil, apperrors.WithMetadata(apperrors.CodeSeedInvalid, "seed station id is duplicated", map[string]string{"station_id": entry.ID})
		}
		if entry.Capacity <= 0 {
			return nil, apperrors.WithMetadata(apperrors.CodeSeedInvalid, "seed station capacity must be positive", map[string]string{"station_id": entry.ID})
		}
		if len(entry.Bikes) > entry.Capacity {
			return nil, apperrors.WithMetadata(apperrors.CodeSeedInvalid, "seed station inventory exceeds capacity", map[string]string{"station_id": entry.ID})
		}
		station := &Station{
			ID:               entry.ID,
			Name:             entry.Name,
			Capacity:         entry.Capacity,
			Open:             entry.Open,
			AvailableBikeIDs: append([]string(nil), entry.Bikes...),
		}
		state.Stations[entry.ID] = station
		for _, bikeID := range entry.Bikes {
			if _, dup := state.Bikes[bikeID]; dup {
				return nil, apperrors.WithMetadata(apperrors.CodeSeedInvalid, "seed bike is listed at more than one station", map[string]string{"bike_id": bikeID})
			}
			state.Bikes[bikeID] = &Bike{
				ID:        bikeID,
				Status:    BikeStatusAvailable,
				StationID: entry.ID,
			}
		}
		state.RecomputeStation(entry.ID)
	}

	for _, entry := range d.Users {
		if entry.ID == "" {
			return nil, apperrors.New(apperrors.CodeSeedInvalid, "seed user is missing an id")
		}
		if _, dup := state.Users[entry.ID]; dup {
			return nil, apperrors.WithMetadata(apperrors.CodeSeedInvalid, "seed user id is duplicated", map[string]string{"user_id": entry.ID})
		}
		role, ok := NormalizeRole(entry.Role)
		if !ok {
			return nil, apperrors.WithMetadata(apperrors.CodeSeedInvalid, "seed user role is invalid", map[string]string{"user_id": entry.ID, "role": entry.Role})
		}
		state.Users[entry.ID] = &User{ID: entry.ID, Name: entry.Name, Role: role}
	}

	if err := state.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSeedInvalid, "seed state is inconsistent", err)
	}
	return state, nil
}
