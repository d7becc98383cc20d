package domain

import (
	"testing"
	"time"
)

func TestSessionExpired(t *testing.T) {
	now := time.Now()
	s := &Session{LastActiveAt: now.Add(-2 * time.Hour)}

	if !s.Expired(now, time.Hour) {
		t.Errorf("expected session idle for 2h to be expired with 1h ttl")
	}
	if s.Expired(now, 3*time.Hour) {
		t.Errorf("expected session idle for 2h to be live with 3h ttl")
	}
	if s.Expired(now, 0) {
		t.Errorf("zero ttl must disable expiry")
	}
}

func TestSessionTouchMonotonic(t *testing.T) {
	now := time.Now()
	s := &Session{LastActiveAt: now}

	s.Touch(now.Add(-time.Minute))
	if !s.LastActiveAt.Equal(now) {
		t.Errorf("Touch moved LastActiveAt backwards: %v", s.LastActiveAt)
	}

	later := now.Add(time.Minute)
	s.Touch(later)
	if !s.LastActiveAt.Equal(later) {
		t.Errorf("Expected %v, got %v", later, s.LastActiveAt)
	}
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in   string
		want Category
		ok   bool
	}{
		{"JOB_SEARCH", CategoryJobSearch, true},
		{" career advice ", CategoryCareerAdvice, true},
		{"resume-upload", CategoryResumeUpload, true},
		{"weather", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseCategory(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseCategory(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
