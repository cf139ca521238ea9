// Package catalog holds the games a card can be charged for.
package catalog

import (
	"errors"
	"fmt"

	"arcadepay/internal/config"

	"github.com/shopspring/decimal"
)

var ErrUnknownItem = errors.New("unknown catalog item")

type Item struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Cost decimal.Decimal `json:"cost"`
}

// Catalog is immutable after construction and safe for concurrent use.
type Catalog struct {
	items []Item
	byID  map[string]Item
}

// Default is the arcade's stock game list.
func Default() *Catalog {
	c, _ := New([]Item{
		{ID: "pacman", Name: "Pac-Man", Cost: decimal.RequireFromString("2.5")},
		{ID: "space", Name: "Space Invaders", Cost: decimal.NewFromInt(3)},
		{ID: "donkey", Name: "Donkey Kong", Cost: decimal.RequireFromString("1.5")},
		{ID: "tetris", Name: "Tetris", Cost: decimal.NewFromInt(2)},
		{ID: "racing", Name: "Racing X", Cost: decimal.NewFromInt(4)},
		{ID: "shoot", Name: "Galactic Shoot", Cost: decimal.RequireFromString("3.5")},
	})
	return c
}

func New(items []Item) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]Item, len(items))}
	for _, it := range items {
		if it.ID == "" {
			return nil, errors.New("catalog: item id is required")
		}
		if _, dup := c.byID[it.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate item %q", it.ID)
		}
		if !it.Cost.IsPositive() {
			return nil, fmt.Errorf("catalog: item %q must have a positive cost", it.ID)
		}
		c.byID[it.ID] = it
		c.items = append(c.items, it)
	}
	return c, nil
}

// FromConfig builds the catalog from config, falling back to Default when no
// items are configured.
func FromConfig(cfg config.CatalogConfig) (*Catalog, error) {
	if len(cfg.Items) == 0 {
		return Default(), nil
	}
	items := make([]Item, 0, len(cfg.Items))
	for _, ci := range cfg.Items {
		cost, err := decimal.NewFromString(ci.Cost)
		if err != nil {
			return nil, fmt.Errorf("catalog: item %q cost: %w", ci.ID, err)
		}
		items = append(items, Item{ID: ci.ID, Name: ci.Name, Cost: cost})
	}
	return New(items)
}

func (c *Catalog) Get(id string) (Item, error) {
	it, ok := c.byID[id]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	return it, nil
}

func (c *Catalog) List() []Item {
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}
