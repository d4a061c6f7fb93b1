package protocol

import (
	"errors"
	"strings"
)

// Nickname length limits, measured in characters after trimming.
const (
	NicknameMinLen = 2
	NicknameMaxLen = 20
)

var (
	ErrNicknameEmpty    = errors.New("enter a nickname")
	ErrNicknameTooShort = errors.New("nickname must be at least 2 characters")
	ErrNicknameTooLong  = errors.New("nickname must be 20 characters or less")
)

// ValidateNickname trims whitespace and checks the length contract shared by
// client and hub. It returns the trimmed nickname; the trimmed form is what
// gets registered.
func ValidateNickname(nickname string) (string, error) {
	trimmed := strings.TrimSpace(nickname)
	switch n := len([]rune(trimmed)); {
	case n == 0:
		return "", ErrNicknameEmpty
	case n < NicknameMinLen:
		return "", ErrNicknameTooShort
	case n > NicknameMaxLen:
		return "", ErrNicknameTooLong
	}
	return trimmed, nil
}
