package catalog

import (
	"strings"

	"github.com/ohmystock/ohmystock/internal/domain"
)

// corporateSuffixes are legal-form tokens that carry no lexical signal when
// matching evidence text against a company.
var corporateSuffixes = map[string]bool{
	"inc": true, "inc.": true, "corp": true, "corp.": true, "corporation": true,
	"co": true, "co.": true, "ltd": true, "ltd.": true, "plc": true,
	"company": true, "holdings": true, "group": true,
}

// DescriptorsFor returns the lexical descriptors for an event's symbol: the
// ticker plus the company name tokens, corporate suffixes stripped. Symbols
// missing from the catalog fall back to the bare ticker.
func (c *Catalog) DescriptorsFor(event domain.PriceEvent) []string {
	descriptors := []string{event.Symbol}
	sec, ok := c.Lookup(event.Market, event.Symbol)
	if !ok {
		return descriptors
	}
	for _, token := range strings.Fields(sec.Name) {
		if corporateSuffixes[strings.ToLower(token)] {
			continue
		}
		descriptors = append(descriptors, token)
	}
	return descriptors
}
