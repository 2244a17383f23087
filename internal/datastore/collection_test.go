package datastore

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lepinkainen/deckhand/internal/card"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enrichedRecords() []card.Record {
	mv := 1.0
	return []card.Record{
		{
			Name: "Sol Ring", Quantity: 4, SetCode: "lea", CollectorNumber: "270",
			ScryfallID: "abc", SetName: "Limited Edition Alpha", TypeLine: "Artifact",
			ManaCost: "{1}", ManaValue: &mv, Rarity: "uncommon",
			Colors: nil, ColorIdentity: []string{}, Status: card.StatusEnriched, Attempts: 1,
		},
		{
			Name: "Lightning Bolt", Quantity: 1, Foil: true,
			Colors: []string{"R"}, ColorIdentity: []string{"R"},
			Status: card.StatusNotFound, Note: "no card found for Lightning Bolt",
		},
	}
}

func TestRecordRow(t *testing.T) {
	row := RecordRow("deck", 2, enrichedRecords()[1])

	assert.Equal(t, "deck:2", row["id"])
	assert.Equal(t, "deck", row["collection"])
	assert.Equal(t, 2, row["position"])
	assert.Equal(t, "Lightning Bolt", row["name"])
	assert.Equal(t, true, row["foil"])
	assert.Equal(t, "R", row["colors"])
	assert.Equal(t, "not_found", row["status"])
	assert.Nil(t, row["mana_value"])
	assert.Equal(t, 0, row["attempts"])

	for col := range row {
		assert.Contains(t, CollectionSchema, "\t"+col+" ", "column %s missing from schema", col)
	}
}

func TestRecordRow_CanonicalColumns(t *testing.T) {
	rec := enrichedRecords()[0]
	rec.Language = "en"
	row := RecordRow("binder", 1, rec)

	assert.Equal(t, "lea", row["set_code"])
	assert.Equal(t, "270", row["collector_number"])
	assert.Equal(t, "en", row["language"])
	assert.Equal(t, 1.0, row["mana_value"])
	assert.Equal(t, "", row["colors"])
	assert.Equal(t, "", row["color_identity"])
	assert.Equal(t, "enriched", row["status"])

	// Every schema column gets a value
	assert.Len(t, row, strings.Count(CollectionSchema, "\n\t"))
}

func TestWriteCollection(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "deckhand.db")

	require.NoError(t, WriteCollection(NewSQLiteStore(dbPath), DefaultDatabase, "deck", enrichedRecords()))
	// Re-importing replaces rows instead of duplicating them
	require.NoError(t, WriteCollection(NewSQLiteStore(dbPath), DefaultDatabase, "deck", enrichedRecords()))

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM collection").Scan(&count))
	assert.Equal(t, 2, count)

	var (
		name   string
		status string
		mv     float64
	)
	require.NoError(t, db.QueryRow(
		"SELECT name, status, mana_value FROM collection WHERE id = 'deck:1'",
	).Scan(&name, &status, &mv))
	assert.Equal(t, "Sol Ring", name)
	assert.Equal(t, "enriched", status)
	assert.Equal(t, 1.0, mv)
}

func TestWriteCollection_ConnectError(t *testing.T) {
	store := NewDatasetteClient("::bad", "")
	err := WriteCollection(store, DefaultDatabase, "deck", enrichedRecords())
	assert.Error(t, err)
}
