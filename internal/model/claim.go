package model

// Waste categories reported by the bin.
const (
	CategoryPlasticBottle = "plastic_bottle"
	CategoryCan           = "can"
)

// Influx maps a waste category to the number of items deposited.
type Influx map[string]int

// Count returns the count for a category, zero when absent or negative.
func (i Influx) Count(category string) int {
	n := i[category]
	if n < 0 {
		return 0
	}
	return n
}

// WasteInputClaim is one bin session. UserID is nil until claimed.
type WasteInputClaim struct {
	SessionID string  `json:"session_id"`
	BinID     int64   `json:"bin_id"`
	Influx    Influx  `json:"influx"`
	UserID    *string `json:"user_id"`
}

// Claimed reports whether the session already has an owner.
func (c *WasteInputClaim) Claimed() bool {
	return c.UserID != nil
}

type WasteStats struct {
	Can           int `json:"can"`
	PlasticBottle int `json:"plastic_bottle"`
	TotalPoints   int `json:"total_points"`
}
