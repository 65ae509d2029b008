// Package importer loads DVF ("demandes de valeurs foncières") CSV exports
// into the sales table used for price history.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"estimo/server/internal/models"

	"github.com/sirupsen/logrus"
)

// Columns read from the export. Other columns are ignored.
const (
	ColMutationID = "id_mutation"
	ColDate       = "date_mutation"
	ColPrice      = "valeur_fonciere"
	ColLongitude  = "longitude"
	ColLatitude   = "latitude"
	ColPostalCode = "code_postal"
	ColType       = "code_type_local"
	ColSurface    = "lot1_surface_carrez"
	ColRooms      = "nombre_pieces_principales"
)

var requiredColumns = []string{
	ColMutationID, ColDate, ColPrice, ColLongitude, ColLatitude,
	ColPostalCode, ColType, ColSurface, ColRooms,
}

// Reasons a row is skipped.
const (
	SkipMissing      = "missing_field"
	SkipMalformed    = "malformed"
	SkipZeroRooms    = "zero_rooms"
	SkipPropertyType = "property_type"
	SkipDuplicate    = "duplicate"
)

// Sink receives batches of parsed sales. *queue.SaleQueue implements it.
type Sink interface {
	PushWait(ctx context.Context, sales []*models.Sale) error
}

type Options struct {
	BatchSize int
	// PropertyTypes keeps only these code_type_local values; empty keeps all.
	PropertyTypes []int
	// Comma is the field delimiter, ',' when zero.
	Comma rune
	// Progress is called after every pushed batch.
	Progress func(Stats)
}

type Stats struct {
	Rows     int            `json:"rows"`
	Accepted int            `json:"accepted"`
	Skipped  map[string]int `json:"skipped"`
}

// SkippedTotal returns the number of rejected rows.
func (s Stats) SkippedTotal() int {
	n := 0
	for _, v := range s.Skipped {
		n += v
	}
	return n
}

// Importer streams a DVF export into a Sink.
type Importer struct {
	sink   Sink
	opts   Options
	logger *logrus.Logger
}

func New(sink Sink, opts Options, logger *logrus.Logger) *Importer {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.Comma == 0 {
		opts.Comma = ','
	}
	return &Importer{sink: sink, opts: opts, logger: logger}
}

// Import reads every row of r. A row is kept when price, coordinates,
// surface and room count are present and parseable, rooms is not zero and
// its mutation was not seen earlier in the file. Only a missing header
// column, an unreadable stream or a failing sink abort the import.
func (im *Importer) Import(ctx context.Context, r io.Reader) (Stats, error) {
	stats := Stats{Skipped: make(map[string]int)}

	reader := csv.NewReader(r)
	reader.Comma = im.opts.Comma
	reader.ReuseRecord = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return stats, fmt.Errorf("failed to read header: %w", err)
	}
	cols, err := indexColumns(header)
	if err != nil {
		return stats, err
	}

	allowed := make(map[int]bool, len(im.opts.PropertyTypes))
	for _, t := range im.opts.PropertyTypes {
		allowed[t] = true
	}

	seen := make(map[string]struct{})
	batch := make([]*models.Sale, 0, im.opts.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := im.sink.PushWait(ctx, batch); err != nil {
			return fmt.Errorf("failed to queue batch: %w", err)
		}
		batch = make([]*models.Sale, 0, im.opts.BatchSize)
		if im.opts.Progress != nil {
			im.opts.Progress(stats)
		}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				stats.Rows++
				stats.Skipped[SkipMalformed]++
				continue
			}
			return stats, fmt.Errorf("failed to read row %d: %w", stats.Rows+1, err)
		}
		stats.Rows++

		sale, reason := cols.parse(record)
		if reason == "" && len(allowed) > 0 && !allowed[sale.PropertyTypeCode] {
			reason = SkipPropertyType
		}
		if reason == "" {
			if _, dup := seen[sale.MutationID]; dup {
				reason = SkipDuplicate
			}
		}
		if reason != "" {
			stats.Skipped[reason]++
			continue
		}

		seen[sale.MutationID] = struct{}{}
		batch = append(batch, sale)
		stats.Accepted++

		if len(batch) >= im.opts.BatchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}

	if err := flush(); err != nil {
		return stats, err
	}

	im.logger.WithFields(logrus.Fields{
		"rows":     stats.Rows,
		"accepted": stats.Accepted,
		"skipped":  stats.SkippedTotal(),
	}).Info("DVF file imported")

	return stats, nil
}

type columns map[string]int

func indexColumns(header []string) (columns, error) {
	cols := make(columns, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		cols[name] = i
	}
	var missing []string
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func (c columns) field(record []string, name string) string {
	i := c[name]
	if i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// parse converts one row. reason is empty when the row is usable.
func (c columns) parse(record []string) (*models.Sale, string) {
	values := make(map[string]string, len(requiredColumns))
	for _, name := range requiredColumns {
		v := c.field(record, name)
		if v == "" {
			return nil, SkipMissing
		}
		values[name] = v
	}

	date, err := time.Parse("2006-01-02", values[ColDate])
	if err != nil {
		return nil, SkipMalformed
	}

	var nums [7]float64
	for i, name := range []string{ColPrice, ColLongitude, ColLatitude, ColPostalCode, ColType, ColSurface, ColRooms} {
		v, err := strconv.ParseFloat(strings.Replace(values[name], ",", ".", 1), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, SkipMalformed
		}
		nums[i] = v
	}
	price, lon, lat, postal, typ, surface, rooms := nums[0], nums[1], nums[2], nums[3], nums[4], nums[5], nums[6]

	if rooms == 0 {
		return nil, SkipZeroRooms
	}
	if price <= 0 || surface <= 0 || rooms < 0 || postal <= 0 {
		return nil, SkipMalformed
	}

	return &models.Sale{
		MutationID:       values[ColMutationID],
		MutationDate:     date,
		Price:            price,
		PostalCode:       int(postal),
		PropertyTypeCode: int(typ),
		SurfaceM2:        surface,
		RoomCount:        int(rooms),
		Longitude:        lon,
		Latitude:         lat,
	}, ""
}
