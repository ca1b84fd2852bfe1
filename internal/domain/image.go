package domain

import "time"

// Image is a source image uploaded to object storage.
type Image struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	ObjectKey string    `json:"object_key"`
	URL       string    `json:"url"`
	Format    string    `json:"format"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Bytes     int       `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Derivative describes a transformed image. It is created once per
// fingerprint and never modified afterwards.
type Derivative struct {
	Fingerprint string    `json:"fingerprint"`
	StorageURL  string    `json:"url"`
	Format      string    `json:"format"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	Bytes       int       `json:"bytes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
