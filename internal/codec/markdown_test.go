package codec

import "testing"

func TestRenderMarkdown(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "Die Post ist da!", "<p>Die Post ist da!</p>"},
		{"bold", "**Alarm** armed", "<p><strong>Alarm</strong> armed</p>"},
		{"inline html kept", "open <del>closed</del>", "<p>open <del>closed</del></p>"},
		{"strikethrough", "~~old~~ new", "<p><del>old</del> new</p>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RenderMarkdown(tt.in); got != tt.want {
				t.Errorf("RenderMarkdown(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFilterDeleted(t *testing.T) {
	tests := []struct {
		name string
		in   string
		keep bool
		want string
	}{
		{"no tags", "Door open", false, "Door open"},
		{"remove span", "Door <del>closed</del>open", false, "Door open"},
		{"keep text", "Door <del>closed</del>open", true, "Door closedopen"},
		{"two spans removed separately", "<del>a</del> mid <del>b</del>", false, " mid "},
		{"two spans kept", "<del>a</del> mid <del>b</del>", true, "a mid b"},
		{"upper case tags", "x<DEL>y</DEL>z", false, "xz"},
		{"multiline span", "a<del>b\nc</del>d", false, "ad"},
		{"unclosed tag untouched", "a<del>b", false, "a<del>b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FilterDeleted(tt.in, tt.keep); got != tt.want {
				t.Errorf("FilterDeleted(%q, %v) = %q, want %q", tt.in, tt.keep, got, tt.want)
			}
		})
	}
}
