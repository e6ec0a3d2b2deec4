package patient

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var (
	ErrInvalidName   = errors.New("name should not contain numbers or special characters")
	ErrInvalidPhone  = errors.New("please enter a valid phone number")
	ErrMissingField  = errors.New("all fields are required")
	ErrInvalidAge    = errors.New("age must be a whole number between 0 and 122")
	ErrInvalidGender = errors.New("gender must be Male or Female")
)

const (
	MinAge = 0
	MaxAge = 122
)

var phonePattern = regexp.MustCompile(`^\+?\d{10,15}$`)

// FieldError ties a validation failure to the form field that caused it.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// ValidationResult collects every problem found in a submission.
type ValidationResult struct {
	Problems []*FieldError
}

// OK reports whether the submission passed all checks.
func (r ValidationResult) OK() bool {
	return len(r.Problems) == 0
}

// Has reports whether any problem matches target.
func (r ValidationResult) Has(target error) bool {
	for _, p := range r.Problems {
		if errors.Is(p, target) {
			return true
		}
	}
	return false
}

// Messages returns one human readable line per problem.
func (r ValidationResult) Messages() []string {
	msgs := make([]string, 0, len(r.Problems))
	for _, p := range r.Problems {
		msgs = append(msgs, p.Error())
	}
	return msgs
}

// Err returns nil when the submission is valid, otherwise an error that
// matches every contained sentinel with errors.Is.
func (r ValidationResult) Err() error {
	if r.OK() {
		return nil
	}
	errs := make([]error, 0, len(r.Problems))
	for _, p := range r.Problems {
		errs = append(errs, p)
	}
	return errors.Join(errs...)
}

func (r *ValidationResult) add(field string, err error) {
	r.Problems = append(r.Problems, &FieldError{Field: field, Err: err})
}

// Validate checks a raw submission and, when it passes, returns the parsed
// Record. All checks run so that every problem can be shown at once.
func Validate(s Submission) (Record, ValidationResult) {
	var res ValidationResult

	name := strings.TrimSpace(s.Name)
	contact := strings.TrimSpace(s.Contact)
	ageText := strings.TrimSpace(s.Age)

	if !ValidName(s.Name) {
		res.add("name", ErrInvalidName)
	}
	// Surrounding whitespace is not stripped before matching.
	if !ValidPhone(s.Contact) {
		res.add("contact", ErrInvalidPhone)
	}

	if name == "" {
		res.add("name", ErrMissingField)
	}
	if ageText == "" {
		res.add("age", ErrMissingField)
	}
	if contact == "" {
		res.add("contact", ErrMissingField)
	}
	if len(s.Image) == 0 {
		res.add("file", ErrMissingField)
	}

	age := 0
	if ageText != "" {
		n, err := strconv.Atoi(ageText)
		if err != nil || !isDigit(ageText[0]) || n < MinAge || n > MaxAge {
			res.add("age", ErrInvalidAge)
		} else {
			age = n
		}
	}

	gender, err := ParseGender(s.Gender)
	if err != nil {
		res.add("gender", err)
	}

	if !res.OK() {
		return Record{}, res
	}
	return Record{
		Name:    name,
		Age:     age,
		Gender:  gender,
		Contact: s.Contact,
	}, res
}

// ValidName reports whether name contains only letters and whitespace.
// An empty name is considered valid here; presence is checked separately.
func ValidName(name string) bool {
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// ValidPhone reports whether contact is an optional '+' followed by 10-15 digits.
func ValidPhone(contact string) bool {
	return phonePattern.MatchString(contact)
}

// isDigit rejects the sign prefixes strconv.Atoi would otherwise accept.
func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
