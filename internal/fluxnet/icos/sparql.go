package icos

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fluxpull/fluxpull/internal/fluxnet"
)

const stationQuery = `prefix cpmeta: <http://meta.icos-cp.eu/ontologies/cpmeta/>
prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#>
select ?uri ?id ?name ?country ?lat ?lon ?elevation ?stationClass ?theme
where {
	VALUES ?id { %s }
	?uri cpmeta:hasStationId ?id ;
		cpmeta:hasName ?name ;
		a ?stationType .
	?stationType rdfs:subClassOf cpmeta:IcosStation .
	BIND(REPLACE(STR(?stationType), "^.*/", "") AS ?theme)
	OPTIONAL { ?uri cpmeta:countryCode ?country }
	OPTIONAL { ?uri cpmeta:hasLatitude ?lat }
	OPTIONAL { ?uri cpmeta:hasLongitude ?lon }
	OPTIONAL { ?uri cpmeta:hasElevation ?elevation }
	OPTIONAL { ?uri cpmeta:hasStationClass ?stationClass }
}
limit 1`

const productsQuery = `prefix cpmeta: <http://meta.icos-cp.eu/ontologies/cpmeta/>
prefix prov: <http://www.w3.org/ns/prov#>
prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#>
select ?dobj ?spec ?specLabel ?fileName ?timeStart ?timeEnd
where {
	?dobj cpmeta:wasAcquiredBy/prov:wasAssociatedWith <%s> ;
		cpmeta:hasObjectSpec ?spec ;
		cpmeta:hasName ?fileName .
	?spec rdfs:label ?specLabel .
	OPTIONAL { ?dobj cpmeta:wasAcquiredBy/prov:startedAtTime ?timeStart }
	OPTIONAL { ?dobj cpmeta:wasAcquiredBy/prov:endedAtTime ?timeEnd }
	FILTER NOT EXISTS { [] cpmeta:isNextVersionOf ?dobj }
}
order by ?specLabel ?timeStart`

// sparqlResponse is the application/sparql-results+json document.
type sparqlResponse struct {
	Head struct {
		Vars []string `json:"vars"`
	} `json:"head"`
	Results struct {
		Bindings []binding `json:"bindings"`
	} `json:"results"`
}

type binding map[string]sparqlValue

type sparqlValue struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Datatype string `json:"datatype,omitempty"`
}

func (b binding) str(name string) string {
	return b[name].Value
}

func (b binding) float(name string) float64 {
	v, ok := b[name]
	if !ok {
		return 0
	}
	f, _ := strconv.ParseFloat(v.Value, 64)
	return f
}

func (b binding) timestamp(name string) time.Time {
	v, ok := b[name]
	if !ok {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, v.Value)
	return t
}

var literalEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`)

// literal renders s as a SPARQL string literal.
func literal(s string) string {
	return `"` + literalEscaper.Replace(s) + `"`
}

// iri validates s for use inside <...>.
func iri(s string) (string, error) {
	if s == "" || strings.ContainsAny(s, "<>\"{}|^`\\ \t\r\n") {
		return "", fmt.Errorf("invalid IRI %q", s)
	}
	return s, nil
}

func buildStationQuery(code string) string {
	return fmt.Sprintf(stationQuery, literal(code))
}

func buildProductsQuery(stationURI string) (string, error) {
	u, err := iri(stationURI)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(productsQuery, u), nil
}

func toStation(b binding) *fluxnet.Station {
	return &fluxnet.Station{
		ID:        b.str("id"),
		URI:       b.str("uri"),
		Name:      b.str("name"),
		Country:   b.str("country"),
		Lat:       b.float("lat"),
		Lon:       b.float("lon"),
		Elevation: b.float("elevation"),
		Class:     b.str("stationClass"),
		Theme:     b.str("theme"),
	}
}

func toProduct(b binding) fluxnet.Product {
	return fluxnet.Product{
		DObj:      b.str("dobj"),
		Spec:      b.str("spec"),
		SpecLabel: b.str("specLabel"),
		FileName:  b.str("fileName"),
		TimeStart: b.timestamp("timeStart"),
		TimeEnd:   b.timestamp("timeEnd"),
	}
}
