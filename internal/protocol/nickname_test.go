package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateNickname(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"plain", "Taro", "Taro", nil},
		{"trims whitespace", "  Taro  ", "Taro", nil},
		{"minimum length", "ab", "ab", nil},
		{"maximum length", strings.Repeat("x", 20), strings.Repeat("x", 20), nil},
		{"empty", "", "", ErrNicknameEmpty},
		{"whitespace only", "   ", "", ErrNicknameEmpty},
		{"too short", "a", "", ErrNicknameTooShort},
		{"too short after trim", " a ", "", ErrNicknameTooShort},
		{"too long", strings.Repeat("x", 21), "", ErrNicknameTooLong},
		{"multibyte runes counted once", "きつね", "きつね", nil},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := ValidateNickname(test.input)
			if test.wantErr != nil {
				assert.ErrorIs(t, err, test.wantErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, test.want, got)
		})
	}
}
