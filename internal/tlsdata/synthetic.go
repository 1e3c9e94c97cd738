package tlsdata

import (
	"fmt"

	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/rng"
)

// SyntheticOptions sizes the generated catalogue.
type SyntheticOptions struct {
	SuburbsPerZone      int
	PropertiesPerSuburb int
	MeanValue           float64
	ValueStd            float64
}

// DefaultSyntheticOptions returns a catalogue large enough for a $100M fund.
func DefaultSyntheticOptions() SyntheticOptions {
	return SyntheticOptions{
		SuburbsPerZone:      12,
		PropertiesPerSuburb: 80,
		MeanValue:           1_500_000,
		ValueStd:            600_000,
	}
}

// zoneScoreBands maps each zone to its TLS score band.
var zoneScoreBands = map[domain.Zone][2]float64{
	domain.ZoneGreen:  {70, 95},
	domain.ZoneOrange: {45, 70},
	domain.ZoneRed:    {20, 45},
}

// Synthetic generates a deterministic catalogue from a seed. The same seed
// always yields the same suburbs and properties, so runs that use the
// built-in catalogue stay reproducible.
func Synthetic(seed uint64, opts SyntheticOptions) *Catalogue {
	factory := rng.NewFactory(seed)

	var suburbs []Suburb
	var properties []Property
	for _, zone := range domain.AllZones {
		stream := factory.Stream("tls/" + string(zone))
		band := zoneScoreBands[zone]
		for s := 0; s < opts.SuburbsPerZone; s++ {
			suburbID := fmt.Sprintf("%s-sub-%03d", zone, s)
			score := band[0] + stream.Float64()*(band[1]-band[0])
			suburbs = append(suburbs, Suburb{
				ID:    suburbID,
				Name:  fmt.Sprintf("%s suburb %d", zone, s),
				Zone:  zone,
				Score: score,
			})
			for p := 0; p < opts.PropertiesPerSuburb; p++ {
				value := rng.TruncNormal(stream, opts.MeanValue, opts.ValueStd, 300_000, 6_000_000)
				vol := 0.03 + stream.Float64()*0.07
				properties = append(properties, Property{
					ID:         fmt.Sprintf("%s-prop-%04d", suburbID, p),
					SuburbID:   suburbID,
					Zone:       zone,
					Value:      value,
					Volatility: vol,
				})
			}
		}
	}

	cat, err := New(suburbs, properties)
	if err != nil {
		// Generated ids are unique by construction.
		panic(fmt.Sprintf("synthetic catalogue invalid: %v", err))
	}
	return cat
}
