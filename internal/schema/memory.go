package schema

import "time"

// Memory tiers. Observations are facts extracted in passing; curated
// memories were stored deliberately and survive longer under pruning
// pressure.
const (
	TierObservation = "observation"
	TierCurated     = "curated"
)

// Scope binds a memory to a user, session or guild. Empty fields mean
// unbound: a memory with no guild is visible from every guild, and a
// dimension only excludes when both the record and the query set it to
// different values.
type Scope struct {
	UserID     string `json:"userId,omitempty"`
	SessionKey string `json:"sessionKey,omitempty"`
	GuildID    string `json:"guildId,omitempty"`
}

// MemoryRecord is one stored fact with its embedding vector.
type MemoryRecord struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	Embedding      []float32 `json:"-"`
	Scope          Scope     `json:"scope"`
	Category       string    `json:"category,omitempty"`
	Tier           string    `json:"tier"`
	Significance   float64   `json:"significance"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt,omitempty"`
	Reinforcement  int       `json:"reinforcement"`
}
