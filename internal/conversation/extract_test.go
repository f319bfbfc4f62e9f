package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractAddresses(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"none", "no addresses here", nil},
		{"single", "write to hr@acme.com today", []string{"hr@acme.com"}},
		{"ordered", "a.b+c@x.org then z_1%q@sub.y.co.uk", []string{"a.b+c@x.org", "z_1%q@sub.y.co.uk"}},
		{"short tld rejected", "bad@host.c", nil},
		{"trailing punctuation", "(boss@corp.io).", []string{"boss@corp.io"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractAddresses(tt.in))
		})
	}
}

func TestFirstAddress(t *testing.T) {
	addr, ok := FirstAddress("cc second@b.io but first@a.io? no: second@b.io comes first")
	assert.True(t, ok)
	assert.Equal(t, "second@b.io", addr)

	_, ok = FirstAddress("nothing")
	assert.False(t, ok)
}

func TestHasTrigger(t *testing.T) {
	for _, msg := range []string{"Send Email now", "please SEND MAIL", "an email to bob", "mail to x", "Compose Email"} {
		assert.True(t, hasTrigger(msg), msg)
	}
	for _, msg := range []string{"hello", "emails are great", "sendmail"} {
		assert.False(t, hasTrigger(msg), msg)
	}
}

func TestContextRedacted(t *testing.T) {
	c := Context{Username: "Ada", Password: "pw"}
	r := c.Redacted()
	assert.Equal(t, redactedSecret, r.Password)
	assert.Equal(t, "pw", c.Password, "the source context is untouched")
	assert.Empty(t, Context{}.Redacted().Password)
}
