package chat

import "testing"

func TestCanSend(t *testing.T) {
	tests := []struct {
		limit int64
		want  bool
	}{
		{limit: 0, want: false},
		{limit: 1, want: true},
		{limit: 50000, want: true},
		{limit: UnlimitedQuota, want: true},
	}
	for _, tt := range tests {
		agent := Agent{MonthlyLimit: tt.limit}
		if got := CanSend(agent); got != tt.want {
			t.Fatalf("CanSend(limit=%d) = %v, want %v", tt.limit, got, tt.want)
		}
		if banner := UsageBanner(agent); (banner != "") == tt.want {
			t.Fatalf("UsageBanner(limit=%d) = %q", tt.limit, banner)
		}
	}
}
