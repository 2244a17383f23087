package datastore

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/lepinkainen/deckhand/internal/card"
)

// DefaultDatabase is the Datasette database name collections are written to.
const DefaultDatabase = "deckhand"

// CollectionTable holds one row per imported record.
const CollectionTable = "collection"

// CollectionSchema is the SQLite schema of CollectionTable.
const CollectionSchema = `
CREATE TABLE IF NOT EXISTS collection (
	id TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	position INTEGER NOT NULL,
	name TEXT,
	quantity INTEGER,
	set_code TEXT,
	collector_number TEXT,
	foil INTEGER,
	condition TEXT,
	language TEXT,
	source TEXT,
	scryfall_id TEXT,
	set_name TEXT,
	type_line TEXT,
	mana_cost TEXT,
	mana_value REAL,
	oracle_text TEXT,
	rarity TEXT,
	colors TEXT,
	color_identity TEXT,
	image_url TEXT,
	price_usd TEXT,
	status TEXT,
	note TEXT,
	attempts INTEGER
);
CREATE INDEX IF NOT EXISTS idx_collection_scryfall_id ON collection(scryfall_id);
`

// RecordRow flattens an enriched record into a collection row. Position is the
// record's 1-based index in its import and, with the collection name, forms
// the row id so re-importing the same file replaces its rows.
func RecordRow(collection string, position int, rec card.Record) map[string]any {
	var manaValue any
	if rec.ManaValue != nil {
		manaValue = *rec.ManaValue
	}

	return map[string]any{
		"id":               fmt.Sprintf("%s:%d", collection, position),
		"collection":       collection,
		"position":         position,
		"name":             rec.Name,
		"quantity":         rec.Quantity,
		"set_code":         rec.SetCode,
		"collector_number": rec.CollectorNumber,
		"foil":             rec.Foil,
		"condition":        rec.Condition,
		"language":         rec.Language,
		"source":           rec.Source,
		"scryfall_id":      rec.ScryfallID,
		"set_name":         rec.SetName,
		"type_line":        rec.TypeLine,
		"mana_cost":        rec.ManaCost,
		"mana_value":       manaValue,
		"oracle_text":      rec.OracleText,
		"rarity":           rec.Rarity,
		"colors":           strings.Join(rec.Colors, ","),
		"color_identity":   strings.Join(rec.ColorIdentity, ","),
		"image_url":        rec.ImageURL,
		"price_usd":        rec.PriceUSD,
		"status":           string(rec.Status),
		"note":             rec.Note,
		"attempts":         rec.Attempts,
	}
}

// WriteCollection creates the collection table when needed and upserts every
// record into it.
func WriteCollection(store Store, database, collection string, records []card.Record) error {
	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to datastore: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("Failed to close datastore", "error", err)
		}
	}()

	if err := store.CreateTable(CollectionSchema); err != nil {
		return err
	}

	rows := make([]map[string]any, len(records))
	for i, rec := range records {
		rows[i] = RecordRow(collection, i+1, rec)
	}

	if err := store.BatchInsert(database, CollectionTable, rows); err != nil {
		return fmt.Errorf("failed to store collection %q: %w", collection, err)
	}

	slog.Info("Stored collection", "collection", collection, "rows", len(rows))
	return nil
}
