package ui

import (
	"strings"
	"testing"
)

func TestReplyTone(t *testing.T) {
	tests := []struct {
		reply string
		want  Tone
	}{
		{"Logged expense $84.12 for nails on #2 Deck", TonePass},
		{`Quote "Deck build" accepted`, TonePass},
		{`Quote "Deck build" for $6000.00 on #1 Deck`, ToneNeutral},
		{"Already logged. Logged expense $20.00", ToneWarn},
		{"Cancelled. Nothing was saved.", ToneWarn},
		{`Can't do that: quote "Deck build" not yet accepted`, ToneFail},
		{"Sorry, I didn't catch that.\nTry: expense 84.12 nails", ToneFail},
		{"Which job is this for?\n1) #2 Deck", ToneNeutral},
	}
	for _, tt := range tests {
		if got := ReplyTone(tt.reply); got != tt.want {
			t.Errorf("ReplyTone(%q) = %d, want %d", tt.reply, got, tt.want)
		}
	}
}

func TestRenderReplyKeepsText(t *testing.T) {
	out := RenderReply("Which job is this for?\n1) #2 Deck\n2) #1 Oak St")
	for _, want := range []string{"Which job is this for?", "1) #2 Deck", "2) #1 Oak St"} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderReply output missing %q:\n%s", want, out)
		}
	}
}
