package ratecard

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a rate card definitions file
type File struct {
	RateCards []RateCard `json:"rate_cards" yaml:"rate_cards"`
}

// Loader reads and writes rate card definition files
type Loader struct {
	path string
}

// NewLoader creates a new definitions loader
func NewLoader(path string) *Loader {
	return &Loader{
		path: path,
	}
}

// Load reads the definitions file. A missing file yields no cards.
func (l *Loader) Load() ([]RateCard, error) {
	if l.path == "" {
		return nil, nil
	}

	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		return nil, nil
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rate card file %s: %w", l.path, err)
	}

	return ParseRateCards(data)
}

// LoadInto reads the definitions file and registers every card, returning the
// number registered.
func (l *Loader) LoadInto(registry *Registry) (int, error) {
	cards, err := l.Load()
	if err != nil {
		return 0, err
	}
	return RegisterAll(registry, cards)
}

// ParseRateCards decodes a YAML definitions document
func ParseRateCards(data []byte) ([]RateCard, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rate card YAML: %w", err)
	}
	return file.RateCards, nil
}

// Save writes the cards as a YAML definitions file
func (l *Loader) Save(cards []*RateCard) error {
	if l.path == "" {
		return fmt.Errorf("rate card file path is empty")
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create rate card directory: %w", err)
	}

	file := File{RateCards: make([]RateCard, 0, len(cards))}
	for _, card := range cards {
		file.RateCards = append(file.RateCards, *card)
	}

	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("failed to marshal rate cards: %w", err)
	}

	if err := os.WriteFile(l.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write rate card file: %w", err)
	}

	return nil
}

// RegisterAll registers cards in order and stops at the first failure
func RegisterAll(registry *Registry, cards []RateCard) (int, error) {
	for i := range cards {
		if err := registry.Register(&cards[i]); err != nil {
			return i, err
		}
	}
	return len(cards), nil
}
