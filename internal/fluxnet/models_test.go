package fluxnet_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxpull/fluxpull/internal/fluxnet"
)

func testListing() fluxnet.ProductListing {
	return fluxnet.ProductListing{
		{DObj: "https://meta.icos-cp.eu/objects/archive", SpecLabel: "Fluxnet Archive Product"},
		{DObj: "https://meta.icos-cp.eu/objects/hh", SpecLabel: "Fluxnet Product"},
		{DObj: "https://meta.icos-cp.eu/objects/etc", SpecLabel: "ETC L2 Fluxes"},
	}
}

func TestProductListing_Select(t *testing.T) {
	product, err := testListing().Select("Fluxnet Product")
	require.NoError(t, err)
	assert.Equal(t, "https://meta.icos-cp.eu/objects/hh", product.DObj)
}

func TestProductListing_SelectExactMatchOnly(t *testing.T) {
	_, err := testListing().Select("Fluxnet")
	assert.ErrorIs(t, err, fluxnet.ErrProductNotFound)
}

func TestProductListing_SelectNoRows(t *testing.T) {
	_, err := fluxnet.ProductListing{}.Select("Fluxnet Product")
	assert.ErrorIs(t, err, fluxnet.ErrProductNotFound)
}

func TestProductListing_SelectTakesFirstOfDuplicates(t *testing.T) {
	listing := append(testListing(), fluxnet.Product{
		DObj:      "https://meta.icos-cp.eu/objects/second",
		SpecLabel: "Fluxnet Product",
	})

	assert.Len(t, listing.Filter("Fluxnet Product"), 2)

	product, err := listing.Select("Fluxnet Product")
	require.NoError(t, err)
	assert.Equal(t, "https://meta.icos-cp.eu/objects/hh", product.DObj)
}

func TestProductListing_Labels(t *testing.T) {
	listing := append(testListing(), fluxnet.Product{SpecLabel: "Fluxnet Product"})
	assert.Equal(t, []string{"Fluxnet Archive Product", "Fluxnet Product", "ETC L2 Fluxes"}, listing.Labels())
}

func TestStation_Info(t *testing.T) {
	station := &fluxnet.Station{
		ID:        "ES-LM1",
		URI:       "http://meta.icos-cp.eu/resources/stations/ES_ES-LM1",
		Name:      "Majadas del Tietar North",
		Country:   "ES",
		Lat:       39.94269,
		Lon:       -5.77868,
		Elevation: 265,
		Theme:     "ES",
	}

	info := station.Info()
	assert.Contains(t, info, "ES-LM1")
	assert.Contains(t, info, "Majadas del Tietar North")
	assert.Contains(t, info, "39.94269, -5.77868")
	assert.NotContains(t, info, "class:")
}

func TestOutputFileName(t *testing.T) {
	assert.Equal(t, "ICOS_FLUXNET_ES_LM1.csv", fluxnet.OutputFileName("ES-LM1"))
	assert.Equal(t, "ICOS_FLUXNET_BE_Bra.csv", fluxnet.OutputFileName("BE-Bra"))
}
