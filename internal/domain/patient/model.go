package patient

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/careline/portal/internal/platform/apperror"
)

// phonePattern accepts Australian numbers in E.164 form: +61, a leading
// digit of 2, 3, 4, 7 or 8, then eight more digits.
var phonePattern = regexp.MustCompile(`^\+61[23478]\d{8}$`)

const dateLayout = "2006-01-02"

// Patient maps to the patients table.
type Patient struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	FirstName   string     `db:"first_name" json:"first_name"`
	LastName    string     `db:"last_name" json:"last_name"`
	Phone       string     `db:"phone" json:"phone"`
	DateOfBirth *string    `db:"date_of_birth" json:"date_of_birth,omitempty"`
	ExternalID  *string    `db:"external_id" json:"external_id,omitempty"`
	UserID      *uuid.UUID `db:"user_id" json:"user_id,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// FullName is the display name used in alerts and SMS.
func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// IsLinked reports whether the patient has an activated account.
func (p *Patient) IsLinked() bool {
	return p.UserID != nil && *p.UserID != uuid.Nil
}

// ValidPhone reports whether phone is an accepted Australian number.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// Normalize trims user-entered fields and drops empty optionals.
func (p *Patient) Normalize() {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Phone = strings.TrimSpace(p.Phone)
	p.DateOfBirth = trimOptional(p.DateOfBirth)
	p.ExternalID = trimOptional(p.ExternalID)
}

// Validate checks required fields and formats. It does not touch the store.
func (p *Patient) Validate() error {
	if p.FirstName == "" || p.LastName == "" || p.Phone == "" {
		return apperror.Validation("first_name, last_name and phone are required")
	}
	if !ValidPhone(p.Phone) {
		return apperror.Validation("Invalid phone number format. Use +61XXXXXXXXX")
	}
	if p.DateOfBirth != nil {
		dob, err := time.Parse(dateLayout, *p.DateOfBirth)
		if err != nil {
			return apperror.Validation("date_of_birth must be formatted as YYYY-MM-DD")
		}
		if dob.After(time.Now()) {
			return apperror.Validation("date_of_birth cannot be in the future")
		}
	}
	return nil
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
