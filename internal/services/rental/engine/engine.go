// Package engine owns all mutations of the canonical fleet state. Every
// operation runs under one critical section, fully applies or fully fails,
// and on success fans the resulting snapshot out through the Broadcaster.
package engine

import (
	"log"
	"sync"
	"time"

	apperrors "github.com/JeanKoerich/aluguel-bicicletas-eventos/internal/platform/errors"
	"github.com/JeanKoerich/aluguel-bicicletas-eventos/internal/services/rental/domain"
)

// Broadcaster receives the post-mutation fan-out signals. StateChanged ships
// the full snapshot to every connected client; CapacityExceeded is the
// informational side channel raised when a station transitions into full.
// Both are called outside the state critical section, in mutation order.
type Broadcaster interface {
	StateChanged(state domain.State)
	CapacityExceeded(stationID string, at time.Time)
}

// Engine serializes every mutation of the domain state behind a single
// mutex. Withdraw and return touch a station and a bike atomically, and
// opening a station can touch the system flag too, so per-entity locking
// would be unsound.
//
// Fan-out happens after the state mutex is released: publish acquires the
// order mutex before letting go of the state mutex, so snapshots reach the
// broadcaster in mutation order while the critical section stays free of
// client I/O.
type Engine struct {
	mu          sync.Mutex
	order       sync.Mutex
	state       *domain.State
	broadcaster Broadcaster
	now         func() time.Time
	pendingFull []capacitySignal
}

type capacitySignal struct {
	stationID string
	at        time.Time
}

// New creates an engine owning the given state. A nil broadcaster is allowed;
// mutations then apply without fan-out.
func New(state *domain.State, broadcaster Broadcaster) *Engine {
	return &Engine{
		state:       state,
		broadcaster: broadcaster,
		now:         time.Now,
	}
}

// Snapshot returns a deep copy of the current state.
func (e *Engine) Snapshot() domain.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Connect delivers the connect-time snapshot through bind. The callback runs
// under the order mutex, so a client bound here never receives a later
// broadcast carrying an older state than its initial snapshot.
func (e *Engine) Connect(bind func(domain.State)) {
	e.mu.Lock()
	snapshot := e.state.Clone()
	e.order.Lock()
	e.mu.Unlock()
	defer e.order.Unlock()
	bind(snapshot)
}

// ResolveUser looks the identity token up against the user set. It is the
// read-only half of the authorization guard, exposed for connection logging.
func (e *Engine) ResolveUser(token string) (domain.User, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	user, ok := ResolveIdentity(e.state.Users, token)
	if !ok {
		return domain.User{}, false
	}
	return *user, true
}

// ToggleSystem flips the global switch. Administrators only. Opening stamps
// the last-opened timestamp.
func (e *Engine) ToggleSystem(actor string) error {
	return e.mutate(func() error {
		if err := e.requireAdministrator(actor); err != nil {
			return err
		}

		e.state.System.Open = !e.state.System.Open
		if e.state.System.Open {
			at := e.now()
			e.state.System.LastOpenedAt = &at
		}
		log.Printf("rental: system toggled open=%v by=%s", e.state.System.Open, actor)
		return nil
	})
}

// SetStationOpen opens or closes one station. Administrators only. Opening a
// station also opens the whole system and restamps the opening time; closing
// one never closes the system.
func (e *Engine) SetStationOpen(actor string, stationID string, open bool) error {
	return e.mutate(func() error {
		if err := e.requireAdministrator(actor); err != nil {
			return err
		}
		station, exists := e.state.Stations[stationID]
		if !exists {
			return apperrors.WithMetadata(apperrors.CodeNotFound, "station does not exist", map[string]string{
				"station_id": stationID,
			})
		}

		station.Open = open
		if open {
			e.state.System.Open = true
			at := e.now()
			e.state.System.LastOpenedAt = &at
		}
		if err := e.recomputeLocked(stationID); err != nil {
			return err
		}
		log.Printf("rental: station %s open=%v by=%s", stationID, open, actor)
		return nil
	})
}

// Withdraw takes an available bike from a station for the acting user.
func (e *Engine) Withdraw(actor string, stationID string, bikeID string) error {
	return e.mutate(func() error {
		user, err := e.requireIdentity(actor)
		if err != nil {
			return err
		}
		if !e.state.System.Open {
			return ErrSystemClosed
		}
		station, exists := e.state.Stations[stationID]
		if !exists || !station.Open {
			return apperrors.WithMetadata(apperrors.CodeStationClosed, "station is closed", map[string]string{
				"station_id": stationID,
			})
		}
		bike, exists := e.state.Bikes[bikeID]
		if !exists {
			return apperrors.WithMetadata(apperrors.CodeNotFound, "bike does not exist", map[string]string{
				"bike_id": bikeID,
			})
		}

		// Membership and status must agree under the exclusivity invariant;
		// divergence indicates corruption and is worth a log line.
		present := station.Contains(bikeID)
		available := bike.Status == domain.BikeStatusAvailable
		if present != available {
			log.Printf("rental: inventory divergence for bike %s at station %s: present=%v status=%s", bikeID, stationID, present, bike.Status)
		}
		if !present || !available {
			return apperrors.WithMetadata(apperrors.CodeBikeNotAvailable, "bike is not available at this station", map[string]string{
				"station_id": stationID,
				"bike_id":    bikeID,
			})
		}

		removed := station.AvailableBikeIDs[:0]
		for _, id := range station.AvailableBikeIDs {
			if id != bikeID {
				removed = append(removed, id)
			}
		}
		station.AvailableBikeIDs = removed
		bike.Status = domain.BikeStatusInUse
		bike.StationID = ""
		bike.HeldBy = user.ID
		e.state.ActiveRentals[bikeID] = &domain.Rental{UserID: user.ID, StartedAt: e.now()}

		if err := e.recomputeLocked(stationID); err != nil {
			return err
		}
		log.Printf("rental: bike %s withdrawn from %s by %s", bikeID, stationID, user.ID)
		return nil
	})
}

// Return docks a bike the acting user currently holds at a station with a
// free slot. The system-open flag is deliberately not checked: holders may
// return bikes even while the system is closed.
func (e *Engine) Return(actor string, stationID string, bikeID string) error {
	return e.mutate(func() error {
		user, err := e.requireIdentity(actor)
		if err != nil {
			return err
		}
		station, exists := e.state.Stations[stationID]
		if !exists || !station.Open {
			return apperrors.WithMetadata(apperrors.CodeStationClosed, "station is closed", map[string]string{
				"station_id": stationID,
			})
		}
		bike, exists := e.state.Bikes[bikeID]
		if !exists {
			return apperrors.WithMetadata(apperrors.CodeNotFound, "bike does not exist", map[string]string{
				"bike_id": bikeID,
			})
		}
		if bike.Status != domain.BikeStatusInUse || bike.HeldBy != user.ID {
			return apperrors.WithMetadata(apperrors.CodeBikeNotHeld, "bike is not held by this user", map[string]string{
				"bike_id": bikeID,
			})
		}
		if station.FreeSlots <= 0 {
			return apperrors.WithMetadata(apperrors.CodeStationFull, "station has no free slots", map[string]string{
				"station_id": stationID,
			})
		}

		station.AvailableBikeIDs = append(station.AvailableBikeIDs, bikeID)
		bike.Status = domain.BikeStatusAvailable
		bike.StationID = stationID
		bike.HeldBy = ""
		delete(e.state.ActiveRentals, bikeID)

		if err := e.recomputeLocked(stationID); err != nil {
			return err
		}
		log.Printf("rental: bike %s returned to %s by %s", bikeID, stationID, user.ID)
		return nil
	})
}

// mutate runs op under the state mutex and publishes on success. Failures
// return without touching the broadcaster.
func (e *Engine) mutate(op func() error) error {
	e.mu.Lock()
	if err := op(); err != nil {
		e.pendingFull = nil
		e.mu.Unlock()
		return err
	}
	e.publishLocked()
	return nil
}

// recomputeLocked refreshes a station's derived fields and queues the
// capacity side channel on the transition into full. A missing station here
// is unreachable under the single critical section and reported as an
// internal fault.
func (e *Engine) recomputeLocked(stationID string) error {
	becameFull, ok := e.state.RecomputeStation(stationID)
	if !ok {
		log.Printf("rental: station %s vanished during mutation", stationID)
		return apperrors.WithMetadata(apperrors.CodeInternal, "station disappeared during mutation", map[string]string{
			"station_id": stationID,
		})
	}
	if becameFull {
		e.pendingFull = append(e.pendingFull, capacitySignal{stationID: stationID, at: e.now()})
	}
	return nil
}

// publishLocked ships the post-mutation snapshot and any queued capacity
// signals. Called with the state mutex held; it takes the order mutex before
// releasing it, so fan-out runs outside the critical section without letting
// a later mutation's snapshot overtake this one.
func (e *Engine) publishLocked() {
	snapshot := e.state.Clone()
	signals := e.pendingFull
	e.pendingFull = nil
	e.order.Lock()
	e.mu.Unlock()
	defer e.order.Unlock()
	if e.broadcaster == nil {
		return
	}
	for _, signal := range signals {
		e.broadcaster.CapacityExceeded(signal.stationID, signal.at)
	}
	e.broadcaster.StateChanged(snapshot)
}
