package model

import "time"

// Run is one tuning run (experiment execution) as recorded by the store.
type Run struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Metric        string    `json:"metric"`
	Mode          Mode      `json:"mode"`
	NumSamples    int       `json:"num_samples"`
	MaxConcurrent int       `json:"max_concurrent"`
	Seed          uint64    `json:"seed"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
