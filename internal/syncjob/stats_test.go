package syncjob

import "testing"

func TestTickThresholdScalesByMagnitude(t *testing.T) {
	tests := []struct {
		total int
		want  int
	}{
		{50, 100},
		{5000, 1000},
		{50000, 10000},
		{500000, 100000},
	}
	for _, tt := range tests {
		if got := tickThreshold(tt.total); got != tt.want {
			t.Errorf("tickThreshold(%d) = %d, want %d", tt.total, got, tt.want)
		}
	}
}

func TestProgressTickerAdd(t *testing.T) {
	p := newProgressTicker("t", "add", 50)
	p.Add(10)
	if p.done != 10 {
		t.Errorf("done = %d, want 10", p.done)
	}
	p.Add(90)
	if p.done != 100 {
		t.Errorf("done = %d, want 100", p.done)
	}
}
