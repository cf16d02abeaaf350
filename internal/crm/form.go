package crm

// ProfileForm is the JSON payload for creating or updating a contact's
// profile. Two forms built from the same catalog compare with == so the
// engine can skip uploads that would change nothing.
type ProfileForm struct {
	FirstName               string `json:"first_name"`
	LastName                string `json:"last_name"`
	Nickname                string `json:"nickname"`
	MiddleName              string `json:"middle_name"`
	GenderID                int64  `json:"gender_id"`
	BirthdateDay            int    `json:"birthdate_day"`
	BirthdateMonth          int    `json:"birthdate_month"`
	BirthdateYear           int    `json:"birthdate_year"`
	BirthdateIsAgeBased     bool   `json:"birthdate_is_age_based"`
	BirthdateAddReminder    bool   `json:"birthdate_add_reminder"`
	IsBirthdateKnown        bool   `json:"is_birthdate_known"`
	IsDeceased              bool   `json:"is_deceased"`
	IsDeceasedDateKnown     bool   `json:"is_deceased_date_known"`
	DeceasedDateDay         int    `json:"deceased_date_day"`
	DeceasedDateMonth       int    `json:"deceased_date_month"`
	DeceasedDateYear        int    `json:"deceased_date_year"`
	DeceasedDateIsAgeBased  bool   `json:"deceased_date_is_age_based"`
	DeceasedDateAddReminder bool   `json:"deceased_date_add_reminder"`
}

// ProfileParams feeds NewProfileForm. Zero values mean "unset"; a date
// part of 0 is omitted from the upload the same way the API treats null.
type ProfileParams struct {
	FirstName  string
	LastName   string
	Nickname   string
	MiddleName string

	// GenderType is the catalog type key; empty defaults to "O".
	GenderType string

	BirthdateDay     int
	BirthdateMonth   int
	BirthdateYear    int
	IsBirthdateKnown bool

	IsDeceased          bool
	IsDeceasedDateKnown bool
	DeceasedDay         int
	DeceasedMonth       int
	DeceasedYear        int
	DeceasedIsAgeBased  bool

	// CreateReminders drives both reminder flags.
	CreateReminders bool
}

// NewProfileForm builds an upload form, resolving the gender type against
// the catalog. An unknown type maps to gender id 0, which the API reads
// as unset.
func NewProfileForm(p ProfileParams, genders map[string]int64) ProfileForm {
	genderType := p.GenderType
	if genderType == "" {
		genderType = "O"
	}
	return ProfileForm{
		FirstName:               p.FirstName,
		LastName:                p.LastName,
		Nickname:                p.Nickname,
		MiddleName:              p.MiddleName,
		GenderID:                genders[genderType],
		BirthdateDay:            p.BirthdateDay,
		BirthdateMonth:          p.BirthdateMonth,
		BirthdateYear:           p.BirthdateYear,
		BirthdateAddReminder:    p.CreateReminders,
		IsBirthdateKnown:        p.IsBirthdateKnown,
		IsDeceased:              p.IsDeceased,
		IsDeceasedDateKnown:     p.IsDeceasedDateKnown,
		DeceasedDateDay:         p.DeceasedDay,
		DeceasedDateMonth:       p.DeceasedMonth,
		DeceasedDateYear:        p.DeceasedYear,
		DeceasedDateIsAgeBased:  p.DeceasedIsAgeBased,
		DeceasedDateAddReminder: p.CreateReminders,
	}
}
