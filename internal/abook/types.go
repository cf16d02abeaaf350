package abook

import "strings"

// Contact is one address book entry as served by the abook API. Deleted
// entries arrive as tombstones carrying only ID and Deleted.
type Contact struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	GivenName   string `json:"given_name,omitempty"`
	MiddleName  string `json:"middle_name,omitempty"`
	FamilyName  string `json:"family_name,omitempty"`
	Prefix      string `json:"prefix,omitempty"`
	Suffix      string `json:"suffix,omitempty"`
	Nickname    string `json:"nickname,omitempty"`

	Birthday *Date         `json:"birthday,omitempty"`
	Org      *Organization `json:"organization,omitempty"`

	Addresses []Address `json:"addresses,omitempty"`
	Phones    []Phone   `json:"phones,omitempty"`
	Emails    []Email   `json:"emails,omitempty"`

	// LabelIDs are the ids of the labels this contact carries.
	LabelIDs []string `json:"labels,omitempty"`

	// Note is the free-text "about" field.
	Note string `json:"note,omitempty"`

	// Updated is the server revision stamp, opaque to us.
	Updated string `json:"updated,omitempty"`

	// Deleted marks a change-feed tombstone.
	Deleted bool `json:"deleted,omitempty"`
}

// HasName reports whether any name part is set. Contacts without one are
// unsyncable and get filtered out (tombstones excepted).
func (c *Contact) HasName() bool {
	for _, part := range []string{
		c.GivenName, c.MiddleName, c.FamilyName, c.DisplayName,
		c.Prefix, c.Suffix, c.Nickname,
	} {
		if strings.TrimSpace(part) != "" {
			return true
		}
	}
	return false
}

// Date is a calendar date split into parts. Year zero means "year unknown".
type Date struct {
	Year  int `json:"year,omitempty"`
	Month int `json:"month,omitempty"`
	Day   int `json:"day,omitempty"`
}

// Organization is the employer block of a contact.
type Organization struct {
	Company    string `json:"company,omitempty"`
	Department string `json:"department,omitempty"`
	Title      string `json:"title,omitempty"`
}

// Address is one postal address of a contact.
type Address struct {
	Type        string `json:"type,omitempty"`
	Street      string `json:"street,omitempty"`
	Extended    string `json:"extended,omitempty"`
	City        string `json:"city,omitempty"`
	Region      string `json:"region,omitempty"`
	PostalCode  string `json:"postal_code,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
}

// Phone is one phone number of a contact.
type Phone struct {
	Value string `json:"value"`
	Type  string `json:"type,omitempty"`
}

// Email is one email address of a contact.
type Email struct {
	Value string `json:"value"`
	Type  string `json:"type,omitempty"`
}

// Label is a contact group the user defined in the address book.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Stats counts what a client did during one run, for the summary box.
type Stats struct {
	Requests int64 // HTTP requests issued
	Created  int   // contacts created (sync-back)
}
