// Package watchlist manages the symbols a user tracks.
package watchlist

import (
	"time"

	"github.com/ohmystock/ohmystock/internal/domain"
)

// Item is one tracked symbol.
type Item struct {
	ID        string        `json:"id"`
	UserID    string        `json:"-"`
	Market    domain.Market `json:"market"`
	Symbol    string        `json:"symbol"`
	Name      string        `json:"name,omitempty"`
	CreatedAt time.Time     `json:"-"`
}
