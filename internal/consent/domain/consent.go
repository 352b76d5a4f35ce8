// Package domain holds the append-only consent model.
package domain

import "time"

// ConsentType distinguishes independent consent streams per user.
type ConsentType string

// ConsentTypePrivacyPolicy is the privacy-policy consent stream.
const ConsentTypePrivacyPolicy ConsentType = "privacy_policy"

// ConsentRecord is one acceptance event. Records are written once per
// acceptance and never mutated; "current consent" is the latest record.
type ConsentRecord struct {
	ID            string
	UserID        string
	ConsentType   ConsentType
	PolicyVersion string
	ConsentedAt   time.Time
}
