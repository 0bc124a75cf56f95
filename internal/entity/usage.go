package entity

import "time"

// UsageRecord is one durable per-owner monthly counter row. Period is the
// first day of the month in UTC; (OwnerID, Period) is unique.
type UsageRecord struct {
	OwnerID string    `json:"owner_id"`
	Period  time.Time `json:"period"`
	Count   int64     `json:"count"`
}

// UsageSnapshot is the read-side view with the resolved tier limit.
// Limit 0 means unlimited; Remaining is meaningful only for finite limits.
type UsageSnapshot struct {
	OwnerID   string `json:"owner_id"`
	Period    string `json:"period"`
	Count     int64  `json:"count"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
}
