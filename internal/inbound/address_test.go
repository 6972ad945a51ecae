package inbound

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFrom(t *testing.T) {
	name := func(s string) *string { return &s }

	tests := []struct {
		name      string
		input     string
		wantName  *string
		wantEmail string
	}{
		{"Name and address", "John Doe <john@example.com>", name("John Doe"), "john@example.com"},
		{"Bare address", "jane@example.com", nil, "jane@example.com"},
		{"Bracketed address", "<jane@example.com>", nil, "jane@example.com"},
		{"Quoted name", `"Doe, Jane" <jane@example.com>`, name("Doe, Jane"), "jane@example.com"},
		{"Single word name", "Jane <jane@example.com>", name("Jane"), "jane@example.com"},
		{"Unicode name", "张三 <zhang@example.cn>", name("张三"), "zhang@example.cn"},
		{"Lone at sign", "@", nil, "@"},
		{"No at sign", "not an address", nil, ""},
		{"Empty", "", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseFrom(tt.input)
			assert.Equal(t, tt.wantName, got.DisplayName)
			assert.Equal(t, tt.wantEmail, got.Email)
		})
	}
}

func TestParseFrom_AlwaysMatchesWithAtSign(t *testing.T) {
	inputs := []string{
		"a@b",
		"weird <<x@y>>",
		"\"unterminated <x@y>",
		"x@y>",
		"@",
		"trailing@",
		"name\t<tab@example.com>",
	}
	for _, input := range inputs {
		got := ParseFrom(input)
		assert.Contains(t, got.Email, "@", "input %q", input)
	}
}
