package flow

import (
	"testing"
	"time"
)

func TestParseStart(t *testing.T) {
	b := NewBookingCoordinator(nil, time.UTC)

	tests := []struct {
		name    string
		date    string
		time    string
		want    time.Time
		wantBad bool
	}{
		{name: "full format", date: "15/12/2024", time: "14:30", want: time.Date(2024, 12, 15, 14, 30, 0, 0, time.UTC)},
		{name: "single digit day and hour", date: "5/1/2025", time: "9:00", want: time.Date(2025, 1, 5, 9, 0, 0, 0, time.UTC)},
		{name: "month out of range", date: "32/13/2024", time: "14:30", wantBad: true},
		{name: "nonexistent day", date: "31/02/2024", time: "14:30", wantBad: true},
		{name: "hour out of range", date: "15/12/2024", time: "25:00", wantBad: true},
		{name: "minute out of range", date: "15/12/2024", time: "14:75", wantBad: true},
		{name: "two digit year", date: "15/12/24", time: "14:30", wantBad: true},
		{name: "free text date", date: "amanhã", time: "14:30", wantBad: true},
		{name: "free text time", date: "15/12/2024", time: "de tarde", wantBad: true},
		{name: "empty", date: "", time: "", wantBad: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := b.parseStart(tt.date, tt.time)
			if tt.wantBad {
				if ok {
					t.Errorf("parseStart(%q, %q) = %v, expected rejection", tt.date, tt.time, got)
				}
				return
			}
			if !ok {
				t.Fatalf("parseStart(%q, %q) rejected valid input", tt.date, tt.time)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseStart(%q, %q) = %v, want %v", tt.date, tt.time, got, tt.want)
			}
		})
	}
}
