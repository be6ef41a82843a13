package storage

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fjod/storefront-cart/internal/domain"
)

func EncodeItems(items []domain.LineItem) ([]byte, error) {
	if items == nil {
		items = []domain.LineItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal items failed: %w", err)
	}
	return data, nil
}

func DecodeItems(data []byte) ([]domain.LineItem, error) {
	var items []domain.LineItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("unmarshal items failed: %w", err)
	}
	return items, nil
}

// Seed is the initial content of both collections before hydration.
type Seed struct {
	Cart  []domain.LineItem `json:"cart"`
	Saved []domain.LineItem `json:"saved"`
}

func DecodeSeed(data []byte) (Seed, error) {
	var s Seed
	if err := json.Unmarshal(data, &s); err != nil {
		return Seed{}, fmt.Errorf("unmarshal seed failed: %w", err)
	}
	return s, nil
}

func LoadSeedFile(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed file: %w", err)
	}
	return DecodeSeed(data)
}
