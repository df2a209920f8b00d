// Package render builds fleet report documents. A Catalog maps report kinds
// to builders that read a Source and lay the result out as a PDF or CSV.
package render

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	KindFleetSummary = "fleet-summary"
	KindTrips        = "trips"
	KindFuel         = "fuel"
	KindVehicles     = "vehicles"
)

const (
	FormatPDF = "pdf"
	FormatCSV = "csv"
)

// Scope keys understood by every builder.
const (
	ScopeVehicleID = "vehicleId"
	ScopeFrom      = "from"
	ScopeTo        = "to"
	ScopeFormat    = "format"
)

var (
	ErrUnknownKind    = errors.New("unknown report kind")
	ErrInvalidScope   = errors.New("invalid report scope")
	ErrUnknownVehicle = errors.New("unknown vehicle")
)

// Stage marks how far a render has gone. The worker maps stages to progress.
type Stage int

const (
	StageValidated Stage = iota + 1
	StageCollected
	StageRendered
)

type Document struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Params is the parsed form of a job scope.
type Params struct {
	VehicleID string
	From      time.Time
	To        time.Time
	Format    string
}

// Table is the format-neutral shape every builder produces.
type Table struct {
	Title   string
	Period  string
	Columns []Column
	Rows    [][]string
	Summary []string
}

type Column struct {
	Header string
	Width  float64
	Align  string
}

type builder func(ctx context.Context, source Source, params Params) (Table, error)

type Catalog struct {
	source   Source
	builders map[string]builder
	now      func() time.Time
}

func NewCatalog(source Source) *Catalog {
	if source == nil {
		source = NewSampleFleet()
	}
	return &Catalog{
		source: source,
		builders: map[string]builder{
			KindFleetSummary: buildFleetSummary,
			KindTrips:        buildTrips,
			KindFuel:         buildFuel,
			KindVehicles:     buildVehicles,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (c *Catalog) Supports(kind string) bool {
	_, ok := c.builders[kind]
	return ok
}

func (c *Catalog) Kinds() []string {
	kinds := make([]string, 0, len(c.builders))
	for kind := range c.builders {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Render builds one document. onStage may be nil.
func (c *Catalog) Render(
	ctx context.Context,
	kind string,
	scope map[string]string,
	onStage func(Stage),
) (Document, error) {
	if onStage == nil {
		onStage = func(Stage) {}
	}

	build, ok := c.builders[kind]
	if !ok {
		return Document{}, fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}
	params, err := ParseScope(scope)
	if err != nil {
		return Document{}, err
	}
	onStage(StageValidated)

	table, err := build(ctx, c.source, params)
	if err != nil {
		return Document{}, err
	}
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	onStage(StageCollected)

	var document Document
	switch params.Format {
	case FormatCSV:
		data, err := renderCSV(table)
		if err != nil {
			return Document{}, fmt.Errorf("render csv: %w", err)
		}
		document = Document{Data: data, ContentType: "text/csv"}
	default:
		data, err := renderPDF(table, c.now())
		if err != nil {
			return Document{}, fmt.Errorf("render pdf: %w", err)
		}
		document = Document{Data: data, ContentType: "application/pdf"}
	}
	document.Filename = Filename(kind, params)
	onStage(StageRendered)

	return document, nil
}

// ParseScope validates the scope map. Dates are RFC3339 timestamps or plain
// YYYY-MM-DD; a plain "to" date includes that whole day.
func ParseScope(scope map[string]string) (Params, error) {
	params := Params{
		VehicleID: strings.TrimSpace(scope[ScopeVehicleID]),
		Format:    strings.ToLower(strings.TrimSpace(scope[ScopeFormat])),
	}
	if params.Format == "" {
		params.Format = FormatPDF
	}
	if params.Format != FormatPDF && params.Format != FormatCSV {
		return Params{}, fmt.Errorf("%w: unsupported format %q", ErrInvalidScope, params.Format)
	}

	var err error
	if params.From, _, err = parseDate(ScopeFrom, scope[ScopeFrom]); err != nil {
		return Params{}, err
	}
	var dateOnly bool
	if params.To, dateOnly, err = parseDate(ScopeTo, scope[ScopeTo]); err != nil {
		return Params{}, err
	}
	if dateOnly {
		params.To = params.To.AddDate(0, 0, 1)
	}
	if !params.From.IsZero() && !params.To.IsZero() && !params.From.Before(params.To) {
		return Params{}, fmt.Errorf("%w: from must be before to", ErrInvalidScope)
	}
	return params, nil
}

func parseDate(key, raw string) (time.Time, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false, nil
	}
	if parsed, err := time.Parse(time.DateOnly, raw); err == nil {
		return parsed.UTC(), true, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %s %q is not a date", ErrInvalidScope, key, raw)
	}
	return parsed.UTC(), false, nil
}

// Filename is stable for a kind and scope so repeated downloads match.
func Filename(kind string, params Params) string {
	parts := []string{kind}
	if params.VehicleID != "" {
		parts = append(parts, params.VehicleID)
	}
	if !params.From.IsZero() {
		parts = append(parts, params.From.Format("20060102"))
	}
	if !params.To.IsZero() {
		parts = append(parts, params.To.Format("20060102"))
	}
	return strings.Join(parts, "-") + "." + params.Format
}

func periodLabel(params Params) string {
	from, to := "start", "today"
	if !params.From.IsZero() {
		from = params.From.Format(time.DateOnly)
	}
	if !params.To.IsZero() {
		to = params.To.Format(time.DateOnly)
	}
	return from + " until " + to
}
