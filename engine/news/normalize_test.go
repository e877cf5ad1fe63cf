package news

import (
	"reflect"
	"testing"
)

func TestExtractTickers(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"cashtag with blacklist words", "$AAPL beats on EPS, says CEO", []string{"AAPL"}},
		{"bare caps token", "AAPL surges after earnings", []string{"AAPL"}},
		{"lowercase cashtag", "watching $tsla and $nvda today", []string{"NVDA", "TSLA"}},
		{"adjacent letters rejected", "NASDAQ100 listing for MSFTX5", nil},
		{"blacklist only", "The SEC and the IPO market, per GDP data", nil},
		{"mixed", "GME to the moon, also $amc", []string{"AMC", "GME"}},
		{"six letters too long", "GOOGLE is not a symbol", nil},
		{"punctuation boundaries", "Buy AMD; sell INTC.", []string{"AMD", "INTC"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractTickers(tt.text)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractTickers(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  https://Example.COM/Article ", "https://example.com/article"},
		{"http://x.com/a", "http://x.com/a"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := NormalizeURL(tt.in); got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestContentID(t *testing.T) {
	// Fixed hash prefix for a known URL.
	if got := ContentID("http://x.com/a"); got != "acc79c8b808070ccd327257cca0e019e" {
		t.Errorf("ContentID = %q", got)
	}
	if len(ContentID("https://example.com/article-1")) != IDLen {
		t.Error("expected 32-char id")
	}
	// Same normalized URL always yields the same id.
	if ContentID(" HTTP://X.com/a ") != ContentID("http://x.com/a") {
		t.Error("expected identical ids for equivalent URLs")
	}
	if ContentID("http://x.com/a") == ContentID("http://x.com/b") {
		t.Error("expected distinct ids for distinct URLs")
	}
}

func TestURLHashIsFullDigest(t *testing.T) {
	h := URLHash("http://x.com/a")
	if len(h) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h))
	}
	if h[:IDLen] != ContentID("http://x.com/a") {
		t.Error("ContentID must be a prefix of URLHash")
	}
}

func TestLabelSign(t *testing.T) {
	tests := []struct {
		label Label
		want  float64
	}{
		{LabelPositive, 1},
		{LabelNeutral, 0},
		{LabelNegative, -1},
		{Label("bogus"), 0},
	}
	for _, tt := range tests {
		if got := tt.label.Sign(); got != tt.want {
			t.Errorf("Sign(%s) = %g, want %g", tt.label, got, tt.want)
		}
	}
}
