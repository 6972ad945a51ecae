package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateToken(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		expected error
	}{
		{"Valid token", "box123", nil},
		{"Valid single char", "a", nil},
		{"Valid with dots", "my.box", nil},
		{"Valid with plus", "box+tag", nil},
		{"Invalid - empty", "", ErrTokenEmpty},
		{"Invalid - too long", strings.Repeat("a", 65), ErrTokenTooLong},
		{"Invalid - spaces", "my box", ErrInvalidToken},
		{"Invalid - at sign", "box@example.com", ErrInvalidToken},
		{"Invalid - starts with dash", "-box", ErrInvalidToken},
		{"Invalid - ends with dot", "box.", ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidateToken(tt.token))
		})
	}
}

func TestValidateRecipientToken(t *testing.T) {
	t.Run("接受合法的本地部分", func(t *testing.T) {
		for _, token := range []string{"box123", "o'brien", "a=b", "_box", "box-", "user!x", "first.last+tag"} {
			assert.NoError(t, ValidateRecipientToken(token), token)
		}
	})

	t.Run("拒绝会破坏路由的字符", func(t *testing.T) {
		for _, token := range []string{"a/b", "a?b", "a#b", "a%2f", "a@b", "a b", "a\tb", "a\xffb"} {
			assert.ErrorIs(t, ValidateRecipientToken(token), ErrInvalidToken, token)
		}
	})

	t.Run("长度限制", func(t *testing.T) {
		assert.ErrorIs(t, ValidateRecipientToken(""), ErrTokenEmpty)
		assert.ErrorIs(t, ValidateRecipientToken(strings.Repeat("a", 65)), ErrTokenTooLong)
	})
}

func TestNormalizeToken(t *testing.T) {
	assert.Equal(t, "box123", NormalizeToken("  Box123 "))
}

func TestBucket_Expired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, (&Bucket{}).Expired(now))
	assert.True(t, (&Bucket{ExpiresAt: &past}).Expired(now))
	assert.False(t, (&Bucket{ExpiresAt: &future}).Expired(now))
}

func TestEmail_Summary(t *testing.T) {
	name := "John Doe"
	e := &Email{ID: "e1", FromName: &name, FromEmail: "john@example.com", Subject: "hi"}

	s := e.Summary()

	assert.Equal(t, "e1", s.ID)
	assert.Equal(t, &name, s.FromName)
	assert.Equal(t, "john@example.com", s.FromEmail)
	assert.Equal(t, "hi", s.Subject)
}
