// Package domain holds the canonical in-memory model for the bike fleet:
// the global system switch, stations with derived occupancy, bikes, users,
// and active rentals. The model doubles as the wire snapshot, so every field
// carries its JSON form.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies what a user is allowed to do.
type Role string

const (
	RoleUnspecified   Role = ""
	RoleAdministrator Role = "administrator"
	RoleParticipant   Role = "participant"
)

// BikeStatus identifies where a bike currently lives.
type BikeStatus string

const (
	BikeStatusUnspecified BikeStatus = ""
	BikeStatusAvailable   BikeStatus = "available"
	BikeStatusInUse       BikeStatus = "in_use"
)

// NormalizeRole parses a role label into a canonical value.
func NormalizeRole(value string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "administrator", "admin":
		return RoleAdministrator, true
	case "participant":
		return RoleParticipant, true
	default:
		return RoleUnspecified, false
	}
}

// System is the global switch gating whether withdrawals are permitted.
type System struct {
	Open         bool       `json:"open"`
	LastOpenedAt *time.Time `json:"last_opened_at"`
}

// Station is a capacity-bounded holding location for bikes.
//
// FreeSlots and Full are derived from Capacity and AvailableBikeIDs and are
// refreshed by State.RecomputeStation; they are never written directly.
type Station struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Capacity         int      `json:"capacity"`
	FreeSlots        int      `json:"free_slots"`
	Open             bool     `json:"open"`
	AvailableBikeIDs []string `json:"available_bike_ids"`
	Full             bool     `json:"full"`
}

// Contains reports whether the bike is a member of the station's available set.
func (s *Station) Contains(bikeID string) bool {
	for _, id := range s.AvailableBikeIDs {
		if id == bikeID {
			return true
		}
	}
	return false
}

// Bike is the unit being rented. It is always available at exactly one
// station or in use by exactly one user, never both.
type Bike struct {
	ID        string     `json:"id"`
	Status    BikeStatus `json:"status"`
	StationID string     `json:"station_id,omitempty"`
	HeldBy    string     `json:"held_by,omitempty"`
}

// User is a known identity. The user set is seeded at startup and never
// changes at runtime.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Rental links an in-use bike to its current holder. Its absence means "not
// currently rented", not "never rented".
type Rental struct {
	UserID    string    `json:"user_id"`
	StartedAt time.Time `json:"started_at"`
}

// State is the whole canonical model. The mutation engine is its only
// writer; everyone else sees deep copies taken with Clone.
type State struct {
	System        System              `json:"system"`
	Stations      map[string]*Station `json:"stations"`
	Bikes         map[string]*Bike    `json:"bikes"`
	Users         map[string]*User    `json:"users"`
	ActiveRentals map[string]*Rental  `json:"active_rentals"`
}

// RecomputeStation refreshes the station's derived occupancy fields from its
// inventory. It reports whether the station transitioned into full, so the
// caller can raise the capacity-exceeded signal exactly once per transition.
func (s *State) RecomputeStation(stationID string) (becameFull bool, ok bool) {
	station, exists := s.Stations[stationID]
	if !exists {
		return false, false
	}
	free := station.Capacity - len(station.AvailableBikeIDs)
	if free < 0 {
		free = 0
	}
	wasFull := station.Full
	station.FreeSlots = free
	station.Full = free == 0
	return station.Full && !wasFull, true
}

// Clone returns a deep copy of the state. Broadcast snapshots are clones so
// transport encoding never races the engine's writes.
func (s *State) Clone() State {
	clone := State{
		System:        s.System,
		Stations:      make(map[string]*Station, len(s.Stations)),
		Bikes:         make(map[string]*Bike, len(s.Bikes)),
		Users:         make(map[string]*User, len(s.Users)),
		ActiveRentals: make(map[string]*Rental, len(s.ActiveRentals)),
	}
	if s.System.LastOpenedAt != nil {
		at := *s.System.LastOpenedAt
		clone.System.LastOpenedAt = &at
	}
	for id, station := range s.Stations {
		copied := *station
		copied.AvailableBikeIDs = append([]string(nil), station.AvailableBikeIDs...)
		clone.Stations[id] = &copied
	}
	for id, bike := range s.Bikes {
		copied := *bike
		clone.Bikes[id] = &copied
	}
	for id, user := range s.Users {
		copied := *user
		clone.Users[id] = &copied
	}
	for id, rental := range s.ActiveRentals {
		copied := *rental
		clone.ActiveRentals[id] = &copied
	}
	return clone
}

// Validate checks the structural invariants: every bike is either available
// at exactly one station or held under exactly one active rental, station
// membership is unique, and derived occupancy fields agree with inventory.
func (s *State) Validate() error {
	memberOf := make(map[string]string)
	for stationID, station := range s.Stations {
		seen := make(map[string]bool, len(station.AvailableBikeIDs))
		for _, bikeID := range station.AvailableBikeIDs {
			if seen[bikeID] {
				return fmt.Errorf("station %s lists bike %s twice", stationID, bikeID)
			}
			seen[bikeID] = true
			if previous, dup := memberOf[bikeID]; dup {
				return fmt.Errorf("bike %s is listed at stations %s and %s", bikeID, previous, stationID)
			}
			memberOf[bikeID] = stationID
			if _, known := s.Bikes[bikeID]; !known {
				return fmt.Errorf("station %s lists unknown bike %s", stationID, bikeID)
			}
		}
		expectedFree := station.Capacity - len(station.AvailableBikeIDs)
		if expectedFree < 0 {
			expectedFree = 0
		}
		if station.FreeSlots != expectedFree {
			return fmt.Errorf("station %s free_slots is %d, expected %d", stationID, station.FreeSlots, expectedFree)
		}
		if station.Full != (expectedFree == 0) {
			return fmt.Errorf("station %s full flag disagrees with free_slots %d", stationID, expectedFree)
		}
	}

	for bikeID, bike := range s.Bikes {
		_, rented := s.ActiveRentals[bikeID]
		stationID, stationed := memberOf[bikeID]
		switch bike.Status {
		case BikeStatusAvailable:
			if !stationed || rented {
				return fmt.Errorf("available bike %s must be stationed and unrented", bikeID)
			}
			if bike.StationID != stationID {
				return fmt.Errorf("available bike %s records station %s but is listed at %s", bikeID, bike.StationID, stationID)
			}
			if bike.HeldBy != "" {
				return fmt.Errorf("available bike %s must not have a holder", bikeID)
			}
		case BikeStatusInUse:
			if stationed || !rented {
				return fmt.Errorf("in-use bike %s must be rented and unstationed", bikeID)
			}
			if bike.StationID != "" {
				return fmt.Errorf("in-use bike %s must not record a station", bikeID)
			}
			if bike.HeldBy == "" {
				return fmt.Errorf("in-use bike %s must record its holder", bikeID)
			}
			if rental := s.ActiveRentals[bikeID]; rental.UserID != bike.HeldBy {
				return fmt.Errorf("bike %s holder %s disagrees with rental user %s", bikeID, bike.HeldBy, rental.UserID)
			}
		default:
			return fmt.Errorf("bike %s has invalid status %q", bikeID, bike.Status)
		}
	}

	for bikeID, rental := range s.ActiveRentals {
		if _, known := s.Bikes[bikeID]; !known {
			return fmt.Errorf("active rental references unknown bike %s", bikeID)
		}
		if _, known := s.Users[rental.UserID]; !known {
			return fmt.Errorf("active rental for bike %s references unknown user %s", bikeID, rental.UserID)
		}
	}
	return nil
}
