// Package patient holds the patient form model and its validation rules.
package patient

import "strings"

type Gender string

const (
	Male   Gender = "Male"
	Female Gender = "Female"
)

// ParseGender accepts Male or Female in any letter case.
func ParseGender(s string) (Gender, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male":
		return Male, nil
	case "female":
		return Female, nil
	}
	return "", ErrInvalidGender
}

// Submission is the form exactly as it arrives from the caller.
type Submission struct {
	Name     string
	Age      string
	Gender   string
	Contact  string
	Filename string
	Image    []byte
}

// Record is a validated patient form.
type Record struct {
	Name    string
	Age     int
	Gender  Gender
	Contact string
}
