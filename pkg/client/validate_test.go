package client

import "testing"

// TestValidateProjectName tests coordinator project name validation
func TestValidateProjectName(t *testing.T) {
	tests := []struct {
		name    string
		project string
		want    bool
	}{
		{name: "simple", project: "abc", want: true},
		{name: "alphanumeric", project: "ok1", want: true},
		{name: "mixed case", project: "MyProject2", want: true},
		{name: "empty", project: "", want: false},
		{name: "leading digit", project: "1abc", want: false},
		{name: "punctuation", project: "a;", want: false},
		{name: "dash", project: "a-b", want: false},
		{name: "space", project: "a b", want: false},
		{name: "non-ascii", project: "pröject", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateProjectName(tt.project); got != tt.want {
				t.Errorf("ValidateProjectName(%q) = %v, want %v", tt.project, got, tt.want)
			}
		})
	}
}
