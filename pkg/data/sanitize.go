package data

import (
	"errors"
	"regexp"
	"strings"
)

var (
	fencePattern  = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	objectPattern = regexp.MustCompile(`(?s)\{.*\}`)
)

var ErrNoObject = errors.New("error sanitizing answer")

// SanitizeAnswer pulls the JSON object out of a model answer that may be wrapped
// in prose or markdown fences.
func SanitizeAnswer(ans string) (string, error) {
	if m := fencePattern.FindStringSubmatch(ans); m != nil {
		ans = m[1]
	}
	if match := objectPattern.FindString(ans); match != "" {
		return strings.TrimSpace(match), nil
	}
	return "", ErrNoObject
}
