package tlsdata

import (
	"testing"

	"github.com/aristath/fundsim/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticDeterministic(t *testing.T) {
	a := Synthetic(99, DefaultSyntheticOptions())
	b := Synthetic(99, DefaultSyntheticOptions())

	require.Equal(t, a.NumProperties(), b.NumProperties())

	psA, err := a.PropertiesInZone(domain.ZoneGreen)
	require.NoError(t, err)
	psB, err := b.PropertiesInZone(domain.ZoneGreen)
	require.NoError(t, err)
	assert.Equal(t, psA, psB)
}

func TestSyntheticCoversAllZones(t *testing.T) {
	cat := Synthetic(1, DefaultSyntheticOptions())
	for _, zone := range domain.AllZones {
		ps, err := cat.PropertiesInZone(zone)
		require.NoError(t, err)
		assert.NotEmpty(t, ps)
		for _, p := range ps {
			assert.Equal(t, zone, p.Zone)
			assert.Positive(t, p.Value)
		}

		ss, err := cat.SuburbsInZone(zone)
		require.NoError(t, err)
		band := zoneScoreBands[zone]
		for _, s := range ss {
			assert.GreaterOrEqual(t, s.Score, band[0])
			assert.LessOrEqual(t, s.Score, band[1])
		}
	}
}

func TestCatalogueLookupErrors(t *testing.T) {
	cat, err := New(
		[]Suburb{{ID: "s1", Zone: domain.ZoneGreen, Score: 80}},
		[]Property{{ID: "p1", SuburbID: "s1", Zone: domain.ZoneGreen, Value: 1e6}},
	)
	require.NoError(t, err)

	_, err = cat.Property("missing")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "property", nf.Kind)

	_, err = cat.PropertiesInZone(domain.ZoneRed)
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "zone", nf.Kind)
}

func TestCatalogueRejectsDuplicates(t *testing.T) {
	_, err := New(
		[]Suburb{{ID: "s1"}, {ID: "s1"}},
		nil,
	)
	require.Error(t, err)
}

func TestCatalogueRejectsOrphanProperty(t *testing.T) {
	_, err := New(
		[]Suburb{{ID: "s1", Zone: domain.ZoneGreen}},
		[]Property{{ID: "p1", SuburbID: "nope", Zone: domain.ZoneGreen}},
	)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "suburb", nf.Kind)
}
