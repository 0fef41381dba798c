package geoip_test

import (
	"net"
	"testing"

	"github.com/oschwald/geoip2-golang"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/pipelake/internal/enrich/geoip"
	"github.com/malbeclabs/pipelake/internal/frame"
)

type fakeResolver struct{}

func (fakeResolver) City(ip net.IP) (*geoip2.City, error) {
	city := &geoip2.City{}
	city.Country.Names = map[string]string{"en": "United States"}
	city.City.Names = map[string]string{"en": "Springfield"}
	city.Location.Latitude = 39.78
	city.Location.Longitude = -89.65
	return city, nil
}

func TestTransformEnrichesKnownIP(t *testing.T) {
	e := &geoip.Enricher{Resolver: fakeResolver{}}

	in := frame.New([]string{"request_id", "ip"}, 1)
	in.Rows = [][]any{{"r1", "8.8.8.8"}}

	out, err := e.Transform(in)
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	require.Equal(t, []string{"request_id", "ip", "country", "city", "lat", "lon"}, out.Columns)
	row := out.Rows[0]
	require.Equal(t, "United States", row[2])
	require.Equal(t, "Springfield", row[3])
	require.Equal(t, 39.78, row[4])
}

func TestTransformSkipsUnparsableIP(t *testing.T) {
	e := &geoip.Enricher{Resolver: fakeResolver{}}

	in := frame.New([]string{"request_id", "ip"}, 1)
	in.Rows = [][]any{{"r1", "not-an-ip"}}

	out, err := e.Transform(in)
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	require.Equal(t, "", out.Rows[0][2])
}

func TestTransformRequiresIPColumn(t *testing.T) {
	e := &geoip.Enricher{Resolver: fakeResolver{}}
	in := frame.New([]string{"request_id"}, 1)
	_, err := e.Transform(in)
	require.Error(t, err)
}
