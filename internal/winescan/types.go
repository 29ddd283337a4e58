package winescan

import "time"

const (
	DefaultChunkSize           = 20
	DefaultParallelism         = 4
	DefaultFallbackParallelism = 8
	DefaultRegion              = "world"

	// FallbackAcceptThreshold is compared against the web-search confidence
	// on its native 0-100 scale.
	FallbackAcceptThreshold = 30.0
)

type DataSource string

const (
	DataSourceIdentity  DataSource = "identity-service"
	DataSourceWebSearch DataSource = "web-search"
)

// WineListItem is one line extracted from a photographed wine list.
type WineListItem struct {
	RawText       string   `json:"raw_text,omitempty"`
	Name          string   `json:"name"`
	Vintage       string   `json:"vintage,omitempty"`
	Price         float64  `json:"price"`
	OCRConfidence *float64 `json:"ocr_confidence,omitempty"`
}

// IdentityMatch is one raw result from the identity service. Every field is
// optional; an empty struct means "no match".
type IdentityMatch struct {
	LWIN        string `json:"lwin,omitempty"`
	LWIN7       string `json:"lwin7,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Vintage     string `json:"vintage,omitempty"`
	Varietal    string `json:"varietal,omitempty"`
	Region      string `json:"region,omitempty"`
}

// MatchCandidate is the resolution of one query. Confidence is always on the
// 0-1 scale regardless of which source produced the match.
type MatchCandidate struct {
	LWIN           string     `json:"lwin,omitempty"`
	LWIN7          string     `json:"lwin7,omitempty"`
	DisplayName    string     `json:"display_name,omitempty"`
	Vintage        string     `json:"vintage,omitempty"`
	Varietal       string     `json:"varietal,omitempty"`
	Region         string     `json:"region,omitempty"`
	Matched        bool       `json:"matched"`
	Confidence     float64    `json:"confidence"`
	EstimatedPrice *float64   `json:"estimated_price,omitempty"`
	PriceSource    string     `json:"price_source,omitempty"`
	DataSource     DataSource `json:"data_source,omitempty"`
}

func (m MatchCandidate) HasIdentifier() bool {
	return m.LWIN != "" || m.LWIN7 != ""
}

// Identifier returns the primary identifier, falling back to the short form.
func (m MatchCandidate) Identifier() string {
	if m.LWIN != "" {
		return m.LWIN
	}
	return m.LWIN7
}

type PriceStatistics struct {
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	P25    float64 `json:"p25"`
	P75    float64 `json:"p75"`
	Max    float64 `json:"max"`
	Count  int     `json:"count"`
}

type PriceStats struct {
	LWIN    string          `json:"lwin"`
	Vintage string          `json:"vintage,omitempty"`
	Region  string          `json:"region"`
	Stats   PriceStatistics `json:"stats"`
}

type CriticScore struct {
	Critic         string  `json:"critic"`
	Score          float64 `json:"score"`
	Vintage        string  `json:"vintage,omitempty"`
	DrinkingWindow string  `json:"drinking_window,omitempty"`
}

// WebSearchResult is a best-effort guess from the web-search collaborator.
// Confidence is on the collaborator's 0-100 scale.
type WebSearchResult struct {
	DisplayName    string   `json:"display_name"`
	Vintage        string   `json:"vintage,omitempty"`
	Varietal       string   `json:"varietal,omitempty"`
	Region         string   `json:"region,omitempty"`
	EstimatedPrice *float64 `json:"estimated_price,omitempty"`
	PriceSource    string   `json:"price_source,omitempty"`
	Confidence     float64  `json:"confidence"`
}

// Wine is the enriched output entity handed to presentation and persistence.
type Wine struct {
	Name                 string     `json:"name"`
	Vintage              string     `json:"vintage,omitempty"`
	RestaurantPrice      float64    `json:"restaurant_price"`
	RealPrice            *float64   `json:"real_price,omitempty"`
	Markup               *float64   `json:"markup,omitempty"`
	CriticScore          *float64   `json:"critic_score,omitempty"`
	CriticCount          int        `json:"critic_count"`
	TopCritic            string     `json:"top_critic,omitempty"`
	Varietal             string     `json:"varietal,omitempty"`
	Region               string     `json:"region,omitempty"`
	LWIN                 string     `json:"lwin,omitempty"`
	DataSource           DataSource `json:"data_source,omitempty"`
	SearchConfidence     *float64   `json:"search_confidence,omitempty"`
	WebSearchPrice       *float64   `json:"web_search_price,omitempty"`
	WebSearchPriceSource string     `json:"web_search_price_source,omitempty"`
}

type RankingResults struct {
	HighestRated    []Wine `json:"highest_rated"`
	BestValue       []Wine `json:"best_value"`
	MostInexpensive []Wine `json:"most_inexpensive"`
}

type ScanRequest struct {
	Items []WineListItem `json:"items"`
}

type ScanMetadata struct {
	StagesExecuted   []string  `json:"stages_executed"`
	StartedAt        time.Time `json:"started_at"`
	CompletedAt      time.Time `json:"completed_at"`
	DurationMS       int64     `json:"duration_ms"`
	TotalItems       int       `json:"total_items"`
	IdentityMatched  int       `json:"identity_matched"`
	WebSearchMatched int       `json:"web_search_matched"`
	Unmatched        int       `json:"unmatched"`
	Priced           int       `json:"priced"`
	Scored           int       `json:"scored"`
	FallbackDegraded bool      `json:"fallback_degraded"`
}

type ScanResult struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"created_at"`
	Items     []WineListItem   `json:"items"`
	Matches   []MatchCandidate `json:"matches"`
	Wines     []Wine           `json:"wines"`
	Rankings  RankingResults   `json:"rankings"`
	Metadata  ScanMetadata     `json:"metadata"`
}

func float64Ptr(v float64) *float64 { return &v }
