// Package geoip provides a batch-transform that enriches a row carrying
// an IP address with city/country/coordinates, as a plain frame.Frame
// transform over a geoip2 database reader.
package geoip

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/malbeclabs/pipelake/internal/frame"
)

// Resolver looks up enrichment fields for one IP. *geoip2.Reader satisfies
// this directly.
type Resolver interface {
	City(ip net.IP) (*geoip2.City, error)
}

// Enricher is a step.TransformFunc-shaped batch transform: it reads an
// "ip" column from its single input and appends
// country/city/lat/lon columns to the output.
type Enricher struct {
	Resolver Resolver
}

// OutputColumns is the schema Enricher.Transform produces, given an input
// whose only payload column is "ip".
func OutputColumns(pkColumns []string) []string {
	return append(append([]string{}, pkColumns...), "ip", "country", "city", "lat", "lon")
}

func (e *Enricher) Transform(input *frame.Frame) (*frame.Frame, error) {
	ipIdx := input.ColumnIndex("ip")
	if ipIdx < 0 {
		return nil, fmt.Errorf("geoip: input frame has no \"ip\" column")
	}

	out := frame.New(OutputColumns(input.Columns[:input.PKColumns]), input.PKColumns)
	for i := 0; i < input.Len(); i++ {
		row := input.Rows[i]
		pk := row[:input.PKColumns]
		ipStr, _ := row[ipIdx].(string)
		ip := net.ParseIP(ipStr)

		var country, city string
		var lat, lon float64
		if ip != nil {
			rec, err := e.Resolver.City(ip)
			if err == nil && rec != nil {
				country = rec.Country.Names["en"]
				city = rec.City.Names["en"]
				lat = rec.Location.Latitude
				lon = rec.Location.Longitude
			}
		}

		newRow := append(append([]any{}, pk...), ipStr, country, city, lat, lon)
		out.Rows = append(out.Rows, newRow)
	}
	return out, nil
}
