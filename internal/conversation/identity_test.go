package conversation

import "testing"

func TestNormalizeIdentity(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"+15550100", "+15550100"},
		{"whatsapp:+1 (555) 010-0199", "+15550100199"},
		{"555-010-0199", "+15550100199"},
		{"15550100199", "+15550100199"},
		{" +44 20 7946 0958 ", "+442079460958"},
		{"Console", "console"},
	}
	for _, tt := range tests {
		if got := NormalizeIdentity(tt.in); got != tt.want {
			t.Errorf("NormalizeIdentity(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
