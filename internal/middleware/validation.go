package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxContentLen = 100_000
	maxTitleLen   = 200
)

// ValidateID checks that an id path parameter is a UUID.
func ValidateID(id string) error {
	if id == "" {
		return errors.New("id is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("id must be a valid UUID")
	}
	return nil
}

// ValidateMessageContent checks message content bounds.
func ValidateMessageContent(content string) error {
	if content == "" {
		return errors.New("content is required")
	}
	if utf8.RuneCountInString(content) > maxContentLen {
		return errors.New("content too long")
	}
	return nil
}

// ValidateTitle checks conversation title bounds.
func ValidateTitle(title string) error {
	if title == "" {
		return errors.New("title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return errors.New("title too long")
	}
	return nil
}
