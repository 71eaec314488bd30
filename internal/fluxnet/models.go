// Package fluxnet retrieves FLUXNET flux tower datasets for a single station
// and persists them as CSV.
package fluxnet

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Domain errors.
var (
	ErrAuthentication   = errors.New("authentication failed")
	ErrStationNotFound  = errors.New("station not found")
	ErrProductNotFound  = errors.New("data product not found")
	ErrColumnNotFound   = errors.New("column not found")
	ErrDuplicateColumn  = errors.New("duplicate column")
	ErrEmptyTable       = errors.New("table has no columns")
	ErrRaggedRow        = errors.New("row width does not match header")
	ErrMissingParameter = errors.New("missing parameter")
	ErrObjectNotFound   = errors.New("data object not found")
)

const (
	// DefaultStationCode is Majadas del Tietar North.
	DefaultStationCode = "ES-LM1"

	// DefaultProductLabel is the spec label of the FLUXNET product. The
	// "Fluxnet Archive" product is listed too but is not a tabular object.
	DefaultProductLabel = "Fluxnet Product"

	// TimestampColumn is the timestamp column name in FLUXNET files.
	TimestampColumn = "TIMESTAMP"

	// TimeIndex is the name the timestamp column is renamed to.
	TimeIndex = "time"
)

// Station represents an ICOS monitoring station.
type Station struct {
	ID        string
	URI       string
	Name      string
	Country   string
	Lat       float64
	Lon       float64
	Elevation float64
	Class     string
	Theme     string
}

// Info renders the station metadata as a human readable block.
func (s *Station) Info() string {
	var b strings.Builder
	fmt.Fprintf(&b, "id:        %s\n", s.ID)
	fmt.Fprintf(&b, "name:      %s\n", s.Name)
	fmt.Fprintf(&b, "country:   %s\n", s.Country)
	fmt.Fprintf(&b, "theme:     %s\n", s.Theme)
	if s.Class != "" {
		fmt.Fprintf(&b, "class:     %s\n", s.Class)
	}
	fmt.Fprintf(&b, "lat/lon:   %.5f, %.5f\n", s.Lat, s.Lon)
	fmt.Fprintf(&b, "elevation: %.1f m\n", s.Elevation)
	fmt.Fprintf(&b, "uri:       %s", s.URI)
	return b.String()
}

// Product is one row of a station's data product listing.
type Product struct {
	DObj      string
	Spec      string
	SpecLabel string
	FileName  string
	TimeStart time.Time
	TimeEnd   time.Time
}

// ProductListing is the ordered list of data products published by a station.
type ProductListing []Product

// Filter returns the products whose spec label equals label exactly.
func (l ProductListing) Filter(label string) ProductListing {
	var matches ProductListing
	for _, p := range l {
		if p.SpecLabel == label {
			matches = append(matches, p)
		}
	}
	return matches
}

// Select returns the first product whose spec label equals label.
func (l ProductListing) Select(label string) (Product, error) {
	matches := l.Filter(label)
	if len(matches) == 0 {
		return Product{}, fmt.Errorf("%w: no %q among %d products", ErrProductNotFound, label, len(l))
	}
	return matches[0], nil
}

// Labels returns the distinct spec labels in listing order.
func (l ProductListing) Labels() []string {
	seen := make(map[string]bool, len(l))
	labels := make([]string, 0, len(l))
	for _, p := range l {
		if seen[p.SpecLabel] {
			continue
		}
		seen[p.SpecLabel] = true
		labels = append(labels, p.SpecLabel)
	}
	return labels
}

// OutputFileName returns the default CSV name for a station, e.g.
// ICOS_FLUXNET_ES_LM1.csv for ES-LM1.
func OutputFileName(stationCode string) string {
	return "ICOS_FLUXNET_" + strings.ReplaceAll(stationCode, "-", "_") + ".csv"
}
