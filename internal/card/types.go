// Package card holds the data model shared by the import parsers, the
// enrichment pipeline and the persistence layer.
package card

// Status is the enrichment outcome attached to every record.
type Status string

const (
	// StatusPending marks a record that has not been through enrichment yet.
	StatusPending Status = ""
	// StatusEnriched means canonical data was found and merged.
	StatusEnriched Status = "enriched"
	// StatusNotFound means the card service has no such card. This is a normal
	// outcome, not a failure.
	StatusNotFound Status = "not_found"
	// StatusFailed means the lookup failed (fatal error or retries exhausted).
	StatusFailed Status = "failed"
	// StatusMalformed means the record had no usable identity and was never
	// sent to the card service.
	StatusMalformed Status = "malformed"
)

// Key is the deterministic identity used for caching and deduplication.
type Key string

// Record is a partially specified card entry produced by an import parser.
// Canonical fields are filled in by enrichment; user-supplied values win.
type Record struct {
	Name            string `json:"name"`
	Quantity        int    `json:"quantity"`
	SetCode         string `json:"set,omitempty"`
	CollectorNumber string `json:"collector_number,omitempty"`

	// User fields, never touched by enrichment
	Foil      bool   `json:"foil,omitempty"`
	Condition string `json:"condition,omitempty"`
	Language  string `json:"lang,omitempty"`
	Source    string `json:"source,omitempty"`

	// Canonical fields
	ScryfallID    string   `json:"scryfall_id,omitempty"`
	SetName       string   `json:"set_name,omitempty"`
	TypeLine      string   `json:"type_line,omitempty"`
	ManaCost      string   `json:"mana_cost,omitempty"`
	ManaValue     *float64 `json:"cmc,omitempty"`
	OracleText    string   `json:"oracle_text,omitempty"`
	Rarity        string   `json:"rarity,omitempty"`
	Colors        []string `json:"colors,omitempty"`
	ColorIdentity []string `json:"color_identity,omitempty"`
	ImageURL      string   `json:"image_url,omitempty"`
	PriceUSD      string   `json:"price_usd,omitempty"`

	// Outcome
	Status   Status `json:"status,omitempty"`
	Note     string `json:"note,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
}

// Clone returns a deep copy of r so callers can enrich without aliasing
// the input slices.
func (r Record) Clone() Record {
	out := r
	if r.ManaValue != nil {
		v := *r.ManaValue
		out.ManaValue = &v
	}
	if r.Colors != nil {
		out.Colors = append([]string(nil), r.Colors...)
	}
	if r.ColorIdentity != nil {
		out.ColorIdentity = append([]string(nil), r.ColorIdentity...)
	}
	return out
}

// DisplayName is used in logs and reports.
func (r Record) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	if r.SetCode != "" || r.CollectorNumber != "" {
		return r.SetCode + " #" + r.CollectorNumber
	}
	return "(unnamed)"
}

// Card is the authoritative card metadata returned by the card service.
type Card struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Set             string    `json:"set"`
	SetName         string    `json:"set_name"`
	CollectorNumber string    `json:"collector_number"`
	Lang            string    `json:"lang,omitempty"`
	TypeLine        string    `json:"type_line"`
	ManaCost        string    `json:"mana_cost,omitempty"`
	CMC             float64   `json:"cmc"`
	OracleText      string    `json:"oracle_text,omitempty"`
	Rarity          string    `json:"rarity"`
	Colors          []string  `json:"colors,omitempty"`
	ColorIdentity   []string  `json:"color_identity,omitempty"`
	ImageURIs       ImageURIs `json:"image_uris"`
	Prices          Prices    `json:"prices"`
	CardFaces       []Face    `json:"card_faces,omitempty"`
}

// Face is one side of a multi-faced card. Double-faced printings carry their
// mana cost, rules text and images per face instead of on the card.
type Face struct {
	Name       string    `json:"name"`
	ManaCost   string    `json:"mana_cost,omitempty"`
	TypeLine   string    `json:"type_line,omitempty"`
	OracleText string    `json:"oracle_text,omitempty"`
	ImageURIs  ImageURIs `json:"image_uris"`
}

// ImageURL returns the normal-size image, falling back to the front face.
func (c *Card) ImageURL() string {
	if c.ImageURIs.Normal != "" {
		return c.ImageURIs.Normal
	}
	if len(c.CardFaces) > 0 {
		return c.CardFaces[0].ImageURIs.Normal
	}
	return ""
}

// FrontManaCost returns the mana cost, falling back to the front face.
func (c *Card) FrontManaCost() string {
	if c.ManaCost != "" || len(c.CardFaces) == 0 {
		return c.ManaCost
	}
	return c.CardFaces[0].ManaCost
}

// FullOracleText returns the rules text, joining faces when the card has none.
func (c *Card) FullOracleText() string {
	if c.OracleText != "" || len(c.CardFaces) == 0 {
		return c.OracleText
	}
	text := ""
	for i, f := range c.CardFaces {
		if i > 0 {
			text += "\n//\n"
		}
		text += f.OracleText
	}
	return text
}

// ImageURIs lists the rendered images of a card.
type ImageURIs struct {
	Small  string `json:"small,omitempty"`
	Normal string `json:"normal,omitempty"`
	Large  string `json:"large,omitempty"`
}

// Prices holds market prices as decimal strings; empty when unknown.
type Prices struct {
	USD     string `json:"usd,omitempty"`
	USDFoil string `json:"usd_foil,omitempty"`
	EUR     string `json:"eur,omitempty"`
}
