package contacts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrMissingRequiredFields indicates fullName, email, eventType or message was empty.
	ErrMissingRequiredFields = errors.New("contacts: missing required fields")
	// ErrInvalidEventDate indicates eventDate could not be read as a calendar date.
	ErrInvalidEventDate = errors.New("contacts: invalid event date")
	// ErrInvalidGuestCount indicates guestCount was not valid JSON.
	ErrInvalidGuestCount = errors.New("contacts: invalid guest count")
)

var (
	inputValidator   = validator.New()
	eventDateLayouts = []string{time.DateOnly, time.RFC3339Nano}
)

// SubmissionInput is the untrusted form payload as received from the client.
type SubmissionInput struct {
	FullName   string `validate:"required"`
	Email      string `validate:"required"`
	Phone      string
	EventType  string `validate:"required"`
	EventDate  string
	GuestCount json.RawMessage
	Message    string `validate:"required"`
}

// Submission is a validated, normalized inquiry ready to persist.
type Submission struct {
	FullName   string
	Email      string
	Phone      *string
	EventType  string
	EventDate  *time.Time
	GuestCount *string
	Message    string
}

// ParseSubmission validates required fields and normalizes the optional ones.
func ParseSubmission(input SubmissionInput) (Submission, error) {
	if err := inputValidator.Struct(input); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			fields := make([]string, 0, len(validationErrors))
			for _, fieldError := range validationErrors {
				fields = append(fields, fieldError.Field())
			}
			return Submission{}, fmt.Errorf("%w: %s", ErrMissingRequiredFields, strings.Join(fields, ", "))
		}
		return Submission{}, err
	}

	eventDate, err := parseEventDate(input.EventDate)
	if err != nil {
		return Submission{}, err
	}

	guestCount, err := NormalizeGuestCount(input.GuestCount)
	if err != nil {
		return Submission{}, err
	}

	return Submission{
		FullName:   input.FullName,
		Email:      input.Email,
		Phone:      optionalText(input.Phone),
		EventType:  input.EventType,
		EventDate:  eventDate,
		GuestCount: guestCount,
		Message:    input.Message,
	}, nil
}

// NormalizeGuestCount turns the raw JSON guest count into text. Null, absent and blank
// values become nil, strings are trimmed, and any other JSON value is stored as its
// textual form so "150" and 150 persist identically.
func NormalizeGuestCount(raw json.RawMessage) (*string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGuestCount, err)
	}

	var text string
	switch typed := value.(type) {
	case string:
		text = strings.TrimSpace(typed)
	case json.Number:
		text = formatNumber(typed)
	case bool:
		text = strconv.FormatBool(typed)
	default:
		var compacted bytes.Buffer
		if err := json.Compact(&compacted, trimmed); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidGuestCount, err)
		}
		text = compacted.String()
	}

	if text == "" {
		return nil, nil
	}
	return &text, nil
}

// formatNumber keeps integer literals digit for digit and only rewrites fractional or
// exponent forms (1e3 becomes 1000). Negative zero is written as 0.
func formatNumber(number json.Number) string {
	literal := number.String()
	if !strings.ContainsAny(literal, ".eE") {
		if literal == "-0" {
			return "0"
		}
		return literal
	}
	value, err := number.Float64()
	if err != nil {
		return literal
	}
	if value == 0 {
		value = 0
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func parseEventDate(raw string) (*time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	for _, layout := range eventDateLayouts {
		parsed, err := time.Parse(layout, trimmed)
		if err != nil {
			continue
		}
		date := time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
		return &date, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidEventDate, trimmed)
}

func optionalText(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
