package types

import "strings"

// Address is the denormalized shipping address snapshot copied onto orders at
// creation time. It is a value object: once stamped on an order it never
// follows later edits to the user's saved addresses.
type Address struct {
	FullName   string `json:"fullName"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Validate reports whether the snapshot carries the minimum deliverable fields.
func (a Address) Validate() bool {
	for _, field := range []string{a.FullName, a.Line1, a.City, a.State, a.PostalCode} {
		if strings.TrimSpace(field) == "" {
			return false
		}
	}
	return true
}
