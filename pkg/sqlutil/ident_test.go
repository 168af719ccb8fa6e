package sqlutil

import "testing"

func TestQuoteIdent(t *testing.T) {
	tests := []struct {
		name    string
		ident   string
		want    string
		wantErr bool
	}{
		{"simple", "home_logger", `"home_logger"`, false},
		{"with whitespace", "home logger", `"home logger"`, false},
		{"with hyphen", "home-logger", `"home-logger"`, false},
		{"index name", "home_logger_level_timestamp_idx", `"home_logger_level_timestamp_idx"`, false},
		{"empty", "", "", true},
		{"semicolon", "x; DROP TABLE y", "", true},
		{"quote char", `a"b`, "", true},
		{"dot", "public.logs", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := QuoteIdent(tt.ident)
			if (err != nil) != tt.wantErr {
				t.Fatalf("QuoteIdent(%q) error = %v, wantErr %v", tt.ident, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("QuoteIdent(%q) = %q, want %q", tt.ident, got, tt.want)
			}
		})
	}
}
