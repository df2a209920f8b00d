package render

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

func buildFleetSummary(ctx context.Context, source Source, params Params) (Table, error) {
	vehicles, err := vehiclesInScope(ctx, source, params.VehicleID)
	if err != nil {
		return Table{}, err
	}

	table := Table{
		Title:  "Fleet summary",
		Period: periodLabel(params),
		Columns: []Column{
			{Header: "Vehicle", Width: 22, Align: "L"},
			{Header: "Plate", Width: 28, Align: "L"},
			{Header: "Trips", Width: 20, Align: "R"},
			{Header: "Distance km", Width: 30, Align: "R"},
			{Header: "Fuel l", Width: 25, Align: "R"},
			{Header: "Fuel cost", Width: 30, Align: "R"},
			{Header: "km/l", Width: 20, Align: "R"},
		},
	}

	var totalDistance, totalLiters, totalCost float64
	for _, vehicle := range vehicles {
		trips, err := source.Trips(ctx, vehicle.ID, params.From, params.To)
		if err != nil {
			return Table{}, err
		}
		fuel, err := source.FuelEntries(ctx, vehicle.ID, params.From, params.To)
		if err != nil {
			return Table{}, err
		}

		var distance, liters, cost float64
		for _, trip := range trips {
			distance += trip.DistanceKm
		}
		for _, entry := range fuel {
			liters += entry.Liters
			cost += entry.Cost
		}
		totalDistance += distance
		totalLiters += liters
		totalCost += cost

		table.Rows = append(table.Rows, []string{
			vehicle.ID,
			vehicle.Plate,
			strconv.Itoa(len(trips)),
			formatFloat(distance, 1),
			formatFloat(liters, 1),
			formatFloat(cost, 2),
			efficiency(distance, liters),
		})
	}

	table.Summary = []string{
		fmt.Sprintf("Vehicles: %d", len(vehicles)),
		fmt.Sprintf("Total distance: %s km", formatFloat(totalDistance, 1)),
		fmt.Sprintf("Total fuel: %s l (%s)", formatFloat(totalLiters, 1), formatFloat(totalCost, 2)),
		fmt.Sprintf("Fleet efficiency: %s km/l", efficiency(totalDistance, totalLiters)),
	}
	return table, nil
}

func buildTrips(ctx context.Context, source Source, params Params) (Table, error) {
	trips, err := source.Trips(ctx, params.VehicleID, params.From, params.To)
	if err != nil {
		return Table{}, err
	}

	table := Table{
		Title:  "Trip log",
		Period: periodLabel(params),
		Columns: []Column{
			{Header: "Date", Width: 28, Align: "L"},
			{Header: "Vehicle", Width: 22, Align: "L"},
			{Header: "Driver", Width: 40, Align: "L"},
			{Header: "Start", Width: 20, Align: "C"},
			{Header: "Minutes", Width: 22, Align: "R"},
			{Header: "Distance km", Width: 30, Align: "R"},
		},
	}

	var distance float64
	for _, trip := range trips {
		distance += trip.DistanceKm
		table.Rows = append(table.Rows, []string{
			trip.StartedAt.Format(time.DateOnly),
			trip.VehicleID,
			trip.Driver,
			trip.StartedAt.Format("15:04"),
			strconv.Itoa(int(trip.EndedAt.Sub(trip.StartedAt).Minutes())),
			formatFloat(trip.DistanceKm, 1),
		})
	}
	table.Summary = []string{
		fmt.Sprintf("Trips: %d", len(trips)),
		fmt.Sprintf("Distance: %s km", formatFloat(distance, 1)),
	}
	return table, nil
}

func buildFuel(ctx context.Context, source Source, params Params) (Table, error) {
	entries, err := source.FuelEntries(ctx, params.VehicleID, params.From, params.To)
	if err != nil {
		return Table{}, err
	}

	table := Table{
		Title:  "Fuel log",
		Period: periodLabel(params),
		Columns: []Column{
			{Header: "Date", Width: 28, Align: "L"},
			{Header: "Vehicle", Width: 22, Align: "L"},
			{Header: "Liters", Width: 25, Align: "R"},
			{Header: "Cost", Width: 30, Align: "R"},
			{Header: "Price/l", Width: 25, Align: "R"},
		},
	}

	var liters, cost float64
	for _, entry := range entries {
		liters += entry.Liters
		cost += entry.Cost
		table.Rows = append(table.Rows, []string{
			entry.FilledAt.Format(time.DateOnly),
			entry.VehicleID,
			formatFloat(entry.Liters, 1),
			formatFloat(entry.Cost, 2),
			formatFloat(entry.Cost/entry.Liters, 2),
		})
	}
	table.Summary = []string{
		fmt.Sprintf("Fill-ups: %d", len(entries)),
		fmt.Sprintf("Fuel: %s l", formatFloat(liters, 1)),
		fmt.Sprintf("Cost: %s", formatFloat(cost, 2)),
	}
	return table, nil
}

func buildVehicles(ctx context.Context, source Source, params Params) (Table, error) {
	vehicles, err := vehiclesInScope(ctx, source, params.VehicleID)
	if err != nil {
		return Table{}, err
	}

	table := Table{
		Title: "Vehicle roster",
		Columns: []Column{
			{Header: "Vehicle", Width: 22, Align: "L"},
			{Header: "Plate", Width: 28, Align: "L"},
			{Header: "Model", Width: 45, Align: "L"},
			{Header: "Year", Width: 18, Align: "R"},
			{Header: "Odometer km", Width: 32, Align: "R"},
		},
	}
	for _, vehicle := range vehicles {
		table.Rows = append(table.Rows, []string{
			vehicle.ID,
			vehicle.Plate,
			vehicle.Model,
			strconv.Itoa(vehicle.Year),
			strconv.Itoa(vehicle.OdometerKm),
		})
	}
	table.Summary = []string{fmt.Sprintf("Vehicles: %d", len(vehicles))}
	return table, nil
}

func vehiclesInScope(ctx context.Context, source Source, vehicleID string) ([]Vehicle, error) {
	vehicles, err := source.Vehicles(ctx)
	if err != nil {
		return nil, fmt.Errorf("load vehicles: %w", err)
	}
	if vehicleID == "" {
		return vehicles, nil
	}
	for _, vehicle := range vehicles {
		if vehicle.ID == vehicleID {
			return []Vehicle{vehicle}, nil
		}
	}
	return nil, fmt.Errorf("%w %s", ErrUnknownVehicle, vehicleID)
}

func efficiency(distance, liters float64) string {
	if liters == 0 {
		return "-"
	}
	return formatFloat(distance/liters, 2)
}

func formatFloat(value float64, precision int) string {
	return strconv.FormatFloat(value, 'f', precision, 64)
}
