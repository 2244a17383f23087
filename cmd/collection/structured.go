package collection

import (
	"errors"
	"fmt"
	"io"

	"github.com/lepinkainen/deckhand/internal/card"
	"gopkg.in/yaml.v3"
)

// structuredCard is one entry of a YAML or JSON collection file.
type structuredCard struct {
	Name            string     `yaml:"name"`
	Quantity        *int       `yaml:"quantity"`
	Count           *int       `yaml:"count"`
	Set             scalarText `yaml:"set"`
	CollectorNumber scalarText `yaml:"collector_number"`
	Number          scalarText `yaml:"number"`
	Foil            bool       `yaml:"foil"`
	Condition       string     `yaml:"condition"`
	Language        string     `yaml:"lang"`
}

type structuredFile struct {
	Cards []structuredCard `yaml:"cards"`
}

// scalarText accepts any scalar, so collector number 270 and "270" decode alike.
type scalarText string

func (s *scalarText) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar value", node.Line)
	}
	if node.Tag == "!!null" {
		*s = ""
		return nil
	}
	*s = scalarText(node.Value)
	return nil
}

// ParseStructured reads a YAML or JSON document holding either a top-level
// list of cards or a mapping with a cards list.
func ParseStructured(r io.Reader) ([]card.Record, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse structured collection: %w", err)
	}

	var entries []structuredCard
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}

	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&entries); err != nil {
			return nil, fmt.Errorf("failed to decode card list: %w", err)
		}
	case yaml.MappingNode:
		var file structuredFile
		if err := root.Decode(&file); err != nil {
			return nil, fmt.Errorf("failed to decode collection: %w", err)
		}
		entries = file.Cards
	default:
		return nil, fmt.Errorf("structured collection must be a list or a mapping with a cards key")
	}

	records := make([]card.Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, e.record())
	}
	return records, nil
}

func (e structuredCard) record() card.Record {
	qty := 1
	switch {
	case e.Quantity != nil:
		qty = *e.Quantity
	case e.Count != nil:
		qty = *e.Count
	}

	number := string(e.CollectorNumber)
	if number == "" {
		number = string(e.Number)
	}

	return card.Record{
		Name:            e.Name,
		Quantity:        qty,
		SetCode:         string(e.Set),
		CollectorNumber: number,
		Foil:            e.Foil,
		Condition:       e.Condition,
		Language:        e.Language,
		Source:          string(FormatStructured),
	}
}
