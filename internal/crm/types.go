package crm

import "time"

// Contact is the CRM's wire representation of a contact. Sub-resources
// (contact fields, notes) live behind their own endpoints and are not
// embedded here; addresses and tags ride along on the contact itself.
type Contact struct {
	ID           int64       `json:"id"`
	FirstName    string      `json:"first_name"`
	LastName     string      `json:"last_name"`
	CompleteName string      `json:"complete_name"`
	Nickname     string      `json:"nickname"`
	GenderType   string      `json:"gender_type"`
	IsDead       bool        `json:"is_dead"`
	Information  Information `json:"information"`
	Tags         []Tag       `json:"tags"`
	Addresses    []Address   `json:"addresses"`
	UpdatedAt    string      `json:"updated_at"`
}

// Information groups the date and career blocks of a contact.
type Information struct {
	Dates  Dates  `json:"dates"`
	Career Career `json:"career"`
}

// Dates holds the birthdate and deceased date of a contact. An absent
// date comes over the wire as null and lands here as the zero value.
type Dates struct {
	Birthdate    ContactDate `json:"birthdate"`
	DeceasedDate ContactDate `json:"deceased_date"`
}

// ContactDate is a date with the CRM's extra flags. Date is an ISO 8601
// timestamp or empty when unknown.
type ContactDate struct {
	Date          string `json:"date"`
	IsAgeBased    bool   `json:"is_age_based"`
	IsYearUnknown bool   `json:"is_year_unknown"`
}

// crmTimestamp is the wire format for contact dates.
const crmTimestamp = "2006-01-02T15:04:05Z"

// Parts splits the timestamp into calendar parts. ok is false when the
// date is unset or malformed.
func (d ContactDate) Parts() (year, month, day int, ok bool) {
	if d.Date == "" {
		return 0, 0, 0, false
	}
	t, err := time.Parse(crmTimestamp, d.Date)
	if err != nil {
		return 0, 0, 0, false
	}
	return t.Year(), int(t.Month()), t.Day(), true
}

// Career is the work block of a contact. Empty strings mean unset.
type Career struct {
	Job     string `json:"job"`
	Company string `json:"company"`
}

// Tag is a label attached to a contact.
type Tag struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	NameSlug string `json:"name_slug"`
}

// Address is a postal address attached to a contact. The wire carries the
// country as an object; only its ISO code matters here.
type Address struct {
	ID         int64    `json:"id"`
	Name       string   `json:"name"`
	Street     string   `json:"street"`
	City       string   `json:"city"`
	Province   string   `json:"province"`
	PostalCode string   `json:"postal_code"`
	Country    *Country `json:"country"`
}

// CountryISO returns the address country code or "".
func (a *Address) CountryISO() string {
	if a.Country == nil {
		return ""
	}
	return a.Country.ISO
}

// Country identifies a country by ISO code.
type Country struct {
	ID   string `json:"id"`
	ISO  string `json:"iso"`
	Name string `json:"name"`
}

// AddressForm is the create payload for an address. Country takes the ISO
// code directly, unlike the read side.
type AddressForm struct {
	Name       string `json:"name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	Province   string `json:"province"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	ContactID  int64  `json:"contact_id"`
}

// ContactField is one phone number or email address. The value is read
// back as "content" but submitted as "data"; FieldForm carries the
// write-side shape.
type ContactField struct {
	ID      int64     `json:"id"`
	Content string    `json:"content"`
	Type    FieldType `json:"contact_field_type"`
}

// FieldType describes a contact field kind, "email" or "phone".
type FieldType struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// FieldForm is the create payload for a contact field.
type FieldForm struct {
	ContactID int64  `json:"contact_id"`
	Data      string `json:"data"`
	TypeID    int64  `json:"contact_field_type_id"`
}

// Note is a free-text note attached to a contact.
type Note struct {
	ID          int64  `json:"id"`
	Body        string `json:"body"`
	IsFavorited bool   `json:"is_favorited"`
}

// NoteForm is the create and update payload for a note.
type NoteForm struct {
	Body        string `json:"body"`
	ContactID   int64  `json:"contact_id"`
	IsFavorited bool   `json:"is_favorited"`
}

// Gender is one entry of the CRM's gender catalog.
type Gender struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// Stats reports what a client did during a run. Updated counts distinct
// contacts touched by profile or detail updates, excluding ones this run
// created.
type Stats struct {
	Requests int64
	Created  int
	Updated  int
	Deleted  int
}
