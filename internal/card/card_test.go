package card

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCollectorNumber(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1", "1"},
		{"007", "7"},
		{" 12 ", "12"},
		{"123A", "123a"},
		{"0", "0"},
		{"000", "0"},
		{"0a", "0a"},
		{"", ""},
		{"★1", "★1"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeCollectorNumber(tt.in))
		})
	}
}

func TestRecordIdentity(t *testing.T) {
	assert.True(t, Record{Name: "Sol Ring"}.HasIdentity())
	assert.False(t, Record{Name: "Sol Ring"}.HasPrinting())
	assert.True(t, Record{SetCode: "lea", CollectorNumber: "1"}.HasPrinting())
	assert.False(t, Record{SetCode: "lea"}.HasIdentity())
	assert.False(t, Record{Name: "   ", CollectorNumber: "1"}.HasIdentity())
}

func TestRecordClone(t *testing.T) {
	mv := 1.0
	orig := Record{Name: "Sol Ring", ManaValue: &mv, Colors: []string{"C"}}
	clone := orig.Clone()

	*clone.ManaValue = 5
	clone.Colors[0] = "R"

	assert.Equal(t, 1.0, *orig.ManaValue)
	assert.Equal(t, []string{"C"}, orig.Colors)
}

func TestRecordDisplayName(t *testing.T) {
	assert.Equal(t, "Sol Ring", Record{Name: "Sol Ring"}.DisplayName())
	assert.Equal(t, "lea #1", Record{SetCode: "lea", CollectorNumber: "1"}.DisplayName())
	assert.Equal(t, "(unnamed)", Record{}.DisplayName())
}

func TestCardFaceFallbacks(t *testing.T) {
	dfc := &Card{
		Name: "Delver of Secrets // Insectile Aberration",
		CardFaces: []Face{
			{Name: "Delver of Secrets", ManaCost: "{U}", OracleText: "Transform it.", ImageURIs: ImageURIs{Normal: "front.jpg"}},
			{Name: "Insectile Aberration", OracleText: "Flying", ImageURIs: ImageURIs{Normal: "back.jpg"}},
		},
	}
	assert.Equal(t, "front.jpg", dfc.ImageURL())
	assert.Equal(t, "{U}", dfc.FrontManaCost())
	assert.Equal(t, "Transform it.\n//\nFlying", dfc.FullOracleText())

	single := &Card{ManaCost: "{1}", OracleText: "Tap.", ImageURIs: ImageURIs{Normal: "n.jpg"}}
	assert.Equal(t, "n.jpg", single.ImageURL())
	assert.Equal(t, "{1}", single.FrontManaCost())
	assert.Equal(t, "Tap.", single.FullOracleText())
}
