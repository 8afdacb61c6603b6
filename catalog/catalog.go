// Package catalog supplies the items put up for auction.
package catalog

import (
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/cloudx-io/dutchauction/core"
)

// ErrEmpty is returned when an item is requested from an empty catalog.
var ErrEmpty = errors.New("catalog is empty")

// Paintings is the built-in catalog. BaseValue is the market value of each painting.
var Paintings = []core.Item{
	painting("Mona Lisa", "Leonardo da Vinci", 15, "Portrait", "Oil", 500),
	painting("The Scream", "Edvard Munch", 18, "Abstract", "Pastel", 400),
	painting("The Persistence of Memory", "Salvador Dalí", 19, "Abstract", "Oil", 400),
	painting("Wanderer above the Sea of Fog", "Caspar David Friedrich", 18, "Landscape", "Oil", 400),
	painting("The Starry Night", "Vincent van Gogh", 18, "Abstract", "Oil", 300),
	painting("Bouquet", "Jan Brueghel the Elder", 15, "StillLife", "Oil", 200),
	painting("The Creation of Adam", "Michelangelo", 15, "Religious", "Fresco", 600),
	painting("Jedburgh Abbey from the River", "Thomas Girtin", 17, "Landscape", "Watercolor", 200),
	painting("A Bigger Splash", "David Hockney", 19, "Landscape", "Acrylic", 100),
}

func painting(name, artist string, century int, subject, medium string, value float64) core.Item {
	return core.Item{
		Name:      name,
		BaseValue: value,
		Attributes: core.Attributes{
			Subject: subject,
			Medium:  medium,
			Creator: artist,
			Era:     century,
		},
	}
}

// Catalog is an item source.
type Catalog struct {
	items []core.Item
	rand  core.RandSource
}

// New validates items and builds a catalog drawing from rs. A nil rs uses core.DefaultRandSource.
func New(items []core.Item, rs core.RandSource) (*Catalog, error) {
	for _, item := range items {
		if err := core.ValidateItem(item); err != nil {
			return nil, fmt.Errorf("catalog item %q: %w", item.Name, err)
		}
	}
	if rs == nil {
		rs = core.DefaultRandSource
	}
	return &Catalog{items: items, rand: rs}, nil
}

// Default returns the painting catalog.
func Default() *Catalog {
	return &Catalog{items: Paintings, rand: core.DefaultRandSource}
}

// NextItem draws a random item.
func (c *Catalog) NextItem() (core.Item, error) {
	if len(c.items) == 0 {
		return core.Item{}, ErrEmpty
	}
	return c.items[c.rand.Intn(len(c.items))], nil
}

// Lookup finds an item by name.
func (c *Catalog) Lookup(name string) (core.Item, bool) {
	return lo.Find(c.items, func(item core.Item) bool {
		return item.Name == name
	})
}

// Items returns every item in catalog order.
func (c *Catalog) Items() []core.Item {
	return append([]core.Item(nil), c.items...)
}

// Creators lists the distinct creators in catalog order, for profile generation.
func (c *Catalog) Creators() []string {
	return lo.Uniq(lo.Map(c.items, func(item core.Item, _ int) string {
		return item.Attributes.Creator
	}))
}
