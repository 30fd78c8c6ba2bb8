package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizedEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"alice@example.com", "a****@e******.com"},
		{"b@clinic.org", "b@c*****.org"},
		{"nurse@care.home.health", "n****@c***.h***.health"},
		{"root@localhost", "r***@l********"},
		{"not-an-email", "[invalid-email]"},
		{"@example.com", "[invalid-email]"},
		{"a@b@c", "[invalid-email]"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizedEmail(tt.in))
		})
	}
}

func TestRedactQuery(t *testing.T) {
	assert.Equal(t, "", RedactQuery(""))
	assert.Equal(t, "email=[REDACTED]", RedactQuery("email=alice%40example.com"))
	assert.Equal(t, "limit=20&page=2&status=PENDING", RedactQuery("status=PENDING&page=2&limit=20"))
	assert.Equal(t, "Token=[REDACTED]&page=1", RedactQuery("page=1&Token=abc"))
	assert.Equal(t, "[REDACTED]", RedactQuery("email=%zz"))
}
