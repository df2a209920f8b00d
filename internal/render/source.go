package render

import (
	"context"
	"fmt"
	"sort"
	"time"
)

type Vehicle struct {
	ID         string
	Plate      string
	Model      string
	Year       int
	OdometerKm int
}

type Trip struct {
	VehicleID  string
	Driver     string
	StartedAt  time.Time
	EndedAt    time.Time
	DistanceKm float64
}

type FuelEntry struct {
	VehicleID string
	FilledAt  time.Time
	Liters    float64
	Cost      float64
}

// Source supplies fleet data to the report builders. A zero from or to
// leaves that side of the range open.
type Source interface {
	Vehicles(ctx context.Context) ([]Vehicle, error)
	Trips(ctx context.Context, vehicleID string, from, to time.Time) ([]Trip, error)
	FuelEntries(ctx context.Context, vehicleID string, from, to time.Time) ([]FuelEntry, error)
}

// SampleFleet is a deterministic in-memory fleet covering the first quarter
// of 2026. It backs the reference service and tests.
type SampleFleet struct {
	vehicles []Vehicle
	trips    []Trip
	fuel     []FuelEntry
}

var sampleDrivers = []string{"A. Moreira", "B. Castro", "C. Lima", "D. Rocha"}

func NewSampleFleet() *SampleFleet {
	fleet := &SampleFleet{
		vehicles: []Vehicle{
			{ID: "V1", Plate: "FLT-1001", Model: "Sprinter 415", Year: 2021, OdometerKm: 84210},
			{ID: "V2", Plate: "FLT-1002", Model: "Daily 35S", Year: 2022, OdometerKm: 61003},
			{ID: "V3", Plate: "FLT-1003", Model: "Transit 350", Year: 2020, OdometerKm: 120544},
			{ID: "V4", Plate: "FLT-1004", Model: "Master L3H2", Year: 2023, OdometerKm: 22871},
		},
	}

	start := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	for day := 0; day < 90; day++ {
		date := start.AddDate(0, 0, day)
		for index, vehicle := range fleet.vehicles {
			if (day+index)%3 != 0 {
				distance := float64(20 + (day*7+index*13)%90)
				started := date.Add(time.Duration(7+index) * time.Hour)
				fleet.trips = append(fleet.trips, Trip{
					VehicleID:  vehicle.ID,
					Driver:     sampleDrivers[(day+index)%len(sampleDrivers)],
					StartedAt:  started,
					EndedAt:    started.Add(time.Duration(distance*1.5) * time.Minute),
					DistanceKm: distance,
				})
			}
			if (day+index)%5 == 0 {
				liters := float64(35 + (day+index*3)%25)
				fleet.fuel = append(fleet.fuel, FuelEntry{
					VehicleID: vehicle.ID,
					FilledAt:  date.Add(18 * time.Hour),
					Liters:    liters,
					Cost:      liters * 5.89,
				})
			}
		}
	}
	return fleet
}

func (f *SampleFleet) Vehicles(_ context.Context) ([]Vehicle, error) {
	return append([]Vehicle(nil), f.vehicles...), nil
}

func (f *SampleFleet) Trips(_ context.Context, vehicleID string, from, to time.Time) ([]Trip, error) {
	if err := f.checkVehicle(vehicleID); err != nil {
		return nil, err
	}
	items := make([]Trip, 0)
	for _, trip := range f.trips {
		if vehicleID != "" && trip.VehicleID != vehicleID {
			continue
		}
		if !inRange(trip.StartedAt, from, to) {
			continue
		}
		items = append(items, trip)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].StartedAt.Before(items[j].StartedAt) })
	return items, nil
}

func (f *SampleFleet) FuelEntries(_ context.Context, vehicleID string, from, to time.Time) ([]FuelEntry, error) {
	if err := f.checkVehicle(vehicleID); err != nil {
		return nil, err
	}
	items := make([]FuelEntry, 0)
	for _, entry := range f.fuel {
		if vehicleID != "" && entry.VehicleID != vehicleID {
			continue
		}
		if !inRange(entry.FilledAt, from, to) {
			continue
		}
		items = append(items, entry)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].FilledAt.Before(items[j].FilledAt) })
	return items, nil
}

func (f *SampleFleet) checkVehicle(vehicleID string) error {
	if vehicleID == "" {
		return nil
	}
	for _, vehicle := range f.vehicles {
		if vehicle.ID == vehicleID {
			return nil
		}
	}
	return fmt.Errorf("%w %s", ErrUnknownVehicle, vehicleID)
}

func inRange(at, from, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && !at.Before(to) {
		return false
	}
	return true
}
