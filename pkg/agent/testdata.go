package agent

import (
	"fmt"
	"strings"
	"unicode"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	alphaNum = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	lower    = "abcdefghijklmnopqrstuvwxyz"
	digits   = "0123456789"
)

// TestData holds generated form values keyed by normalized field name.
type TestData struct {
	values map[string]string
}

// GenerateTestData builds a fresh set of plausible form values.
func GenerateTestData() (*TestData, error) {
	tag, err := gonanoid.Generate(lower, 6)
	if err != nil {
		return nil, fmt.Errorf("generate test data: %w", err)
	}
	phone, err := gonanoid.Generate(digits, 7)
	if err != nil {
		return nil, fmt.Errorf("generate test data: %w", err)
	}
	zip, err := gonanoid.Generate(digits, 5)
	if err != nil {
		return nil, fmt.Errorf("generate test data: %w", err)
	}
	secret, err := gonanoid.Generate(alphaNum, 9)
	if err != nil {
		return nil, fmt.Errorf("generate test data: %w", err)
	}

	first, last := "Alex", "Tester"
	email := fmt.Sprintf("qa.%s@example.com", tag)
	fields := map[string]string{
		"firstname": first,
		"lastname":  last,
		"name":      first + " " + last,
		"fullname":  first + " " + last,
		"email":     email,
		"phone":     "+1555" + phone,
		"tel":       "+1555" + phone,
		"street":    "100 Main Street",
		"address":   "100 Main Street",
		"city":      "Springfield",
		"state":     "IL",
		"zip":       zip,
		"zipcode":   zip,
		"postcode":  zip,
		"birthdate": "1990-01-15",
		"dob":       "1990-01-15",
		"username":  "user_" + tag,
		"password":  "Qa1" + secret,
		"company":   "Acme " + strings.ToUpper(tag[:1]) + tag[1:],
		"message":   "This is an automated usability test message.",
		"comment":   "This is an automated usability test message.",
		"search":    "test",
		"agree":     "true",
		"subscribe": "true",
		"terms":     "true",
		"gender":    "male",
	}
	return &TestData{values: fields}, nil
}

// Lookup returns the value for the first key that matches a known field.
func (d *TestData) Lookup(keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := d.values[normalizeKey(k)]; ok {
			return v, true
		}
	}
	return "", false
}

// Password returns the generated password so callers can register it for redaction.
func (d *TestData) Password() string {
	return d.values["password"]
}

func normalizeKey(k string) string {
	var b strings.Builder
	for _, r := range k {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}
