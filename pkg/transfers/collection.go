package transfers

import (
	"sort"

	"github.com/nimburion/transfers/pkg/query"
	"github.com/nimburion/transfers/pkg/repository"
)

// Collection is the list response body.
type Collection struct {
	Transfers    []map[string]any `json:"transfers" yaml:"transfers"`
	TotalRecords int64            `json:"totalRecords" yaml:"totalRecords"`
	ResultInfo   ResultInfo       `json:"resultInfo" yaml:"resultInfo"`
}

// ResultInfo carries the match count and facets of a list request.
type ResultInfo struct {
	TotalRecords int64   `json:"totalRecords" yaml:"totalRecords"`
	Facets       []Facet `json:"facets" yaml:"facets"`
}

// Facet lists value counts of one field, most frequent first.
type Facet struct {
	FieldName string       `json:"fieldName" yaml:"fieldName"`
	Values    []FacetValue `json:"facetValues" yaml:"facetValues"`
}

// FacetValue is one value and the number of matching records holding it.
type FacetValue struct {
	Value string `json:"value" yaml:"value"`
	Count int64  `json:"count" yaml:"count"`
}

func newCollection(page *repository.Page, requested []query.Facet) Collection {
	docs := make([]map[string]any, 0, len(page.Records))
	for _, rec := range page.Records {
		docs = append(docs, rec.Data)
	}

	facets := make([]Facet, 0, len(requested))
	for _, f := range requested {
		counts := page.Facets[f.Path]
		values := make([]FacetValue, 0, len(counts))
		for v, n := range counts {
			values = append(values, FacetValue{Value: v, Count: n})
		}
		sort.Slice(values, func(i, j int) bool {
			if values[i].Count != values[j].Count {
				return values[i].Count > values[j].Count
			}
			return values[i].Value < values[j].Value
		})
		facets = append(facets, Facet{FieldName: f.Path, Values: values})
	}

	return Collection{
		Transfers:    docs,
		TotalRecords: page.TotalMatched,
		ResultInfo:   ResultInfo{TotalRecords: page.TotalMatched, Facets: facets},
	}
}
