package model

// Patient is a record owner known to the portal. Subject is the opaque
// stable identifier supplied by the external identity provider.
type Patient struct {
	Base
	Subject string `db:"subject" json:"subject"`
	Name    string `db:"name" json:"name"`
	Email   string `db:"email" json:"email"`
	Status  string `db:"status" json:"status"`
}

// Clinician is a practitioner who can claim grants.
type Clinician struct {
	Base
	Subject string `db:"subject" json:"subject"`
	Name    string `db:"name" json:"name"`
	Email   string `db:"email" json:"email"`
	Status  string `db:"status" json:"status"`
}

const (
	IdentityStatusActive   = "active"
	IdentityStatusInactive = "inactive"
)
