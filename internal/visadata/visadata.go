// Package visadata exposes the static country and visa type reference data
// used to build checklists and validate evaluation requests.
package visadata

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed visa.yaml
var rawCatalog []byte

// Document is a single entry of a visa type's document checklist.
type Document struct {
	Type        string `yaml:"type"        json:"type"`
	DisplayName string `yaml:"displayName" json:"displayName"`
	Required    bool   `yaml:"required"    json:"required"`
	Description string `yaml:"description" json:"description,omitempty"`
}

// VisaType describes one visa programme of a country.
type VisaType struct {
	Code              string     `yaml:"code"              json:"code"`
	Name              string     `yaml:"name"              json:"name"`
	Description       string     `yaml:"description"       json:"description"`
	MinSalary         int        `yaml:"minSalary"         json:"minSalary,omitempty"`
	Currency          string     `yaml:"currency"          json:"currency,omitempty"`
	ProcessingTime    string     `yaml:"processingTime"    json:"processingTime,omitempty"`
	ValidityPeriod    string     `yaml:"validityPeriod"    json:"validityPeriod,omitempty"`
	RequiredDocuments []Document `yaml:"requiredDocuments" json:"requiredDocuments"`
}

// Country groups the visa types available for one destination.
type Country struct {
	Code      string     `yaml:"code"      json:"code"`
	Name      string     `yaml:"name"      json:"name"`
	Flag      string     `yaml:"flag"      json:"flag"`
	VisaTypes []VisaType `yaml:"visaTypes" json:"visaTypes"`
}

// Catalog is an immutable, indexed view over the reference data.
type Catalog struct {
	countries []Country
	byCode    map[string]int
}

var defaultCatalog = mustParse(rawCatalog)

// Parse decodes a YAML catalog and checks it for duplicate or empty codes.
func Parse(data []byte) (*Catalog, error) {
	var doc struct {
		Countries []Country `yaml:"countries"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode visa catalog: %w", err)
	}
	c := &Catalog{countries: doc.Countries, byCode: make(map[string]int, len(doc.Countries))}
	for i, country := range doc.Countries {
		code := strings.ToUpper(country.Code)
		if code == "" {
			return nil, fmt.Errorf("visa catalog: country %d has no code", i)
		}
		if _, dup := c.byCode[code]; dup {
			return nil, fmt.Errorf("visa catalog: duplicate country %s", code)
		}
		seen := map[string]bool{}
		for _, vt := range country.VisaTypes {
			vc := strings.ToUpper(vt.Code)
			if vc == "" || seen[vc] {
				return nil, fmt.Errorf("visa catalog: invalid visa code %q in %s", vt.Code, code)
			}
			if len(vt.RequiredDocuments) == 0 {
				return nil, fmt.Errorf("visa catalog: %s/%s has no documents", code, vt.Code)
			}
			seen[vc] = true
		}
		c.byCode[code] = i
	}
	return c, nil
}

func mustParse(data []byte) *Catalog {
	c, err := Parse(data)
	if err != nil {
		panic(err)
	}
	return c
}

// Default returns the embedded catalog.
func Default() *Catalog { return defaultCatalog }

// All returns every country. The slice is a copy.
func (c *Catalog) All() []Country {
	out := make([]Country, len(c.countries))
	copy(out, c.countries)
	return out
}

// Country looks up a country by its ISO code, case-insensitively.
func (c *Catalog) Country(code string) (Country, bool) {
	i, ok := c.byCode[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return Country{}, false
	}
	return c.countries[i], true
}

// VisaTypes returns the visa types of a country, nil when unknown.
func (c *Catalog) VisaTypes(country string) []VisaType {
	ct, ok := c.Country(country)
	if !ok {
		return nil
	}
	return ct.VisaTypes
}

// VisaType resolves a visa type together with its country.
func (c *Catalog) VisaType(country, code string) (Country, VisaType, bool) {
	ct, ok := c.Country(country)
	if !ok {
		return Country{}, VisaType{}, false
	}
	want := strings.ToUpper(strings.TrimSpace(code))
	for _, vt := range ct.VisaTypes {
		if strings.ToUpper(vt.Code) == want {
			return ct, vt, true
		}
	}
	return ct, VisaType{}, false
}

// All returns every country of the embedded catalog.
func All() []Country { return defaultCatalog.All() }

// Lookup resolves a visa type in the embedded catalog.
func Lookup(country, code string) (Country, VisaType, bool) {
	return defaultCatalog.VisaType(country, code)
}
