package main

import (
	"testing"

	"matchjumper/timeline"
)

func TestParseInstant(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1714035600000", 1714035600000, false},
		{"2024-04-25T09:00:00Z", 1714035600000, false},
		{"2024-04-25T04:00:00-05:00", 1714035600000, false},
		{"", 0, true},
		{"yesterday", 0, true},
	}
	for _, tt := range tests {
		got, err := parseInstant(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseInstant(%q) = %d, %v", tt.in, got, err)
		}
	}
}

func TestParseOffset(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"754.5", 754.5, false},
		{"12:34", 754, false},
		{"1:02:03", 3723, false},
		{"1:2:3:4", 0, true},
		{"-5", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := parseOffset(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseOffset(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestFormatOffset(t *testing.T) {
	if got := formatOffset(3723.9); got != "1:02:03" {
		t.Errorf("formatOffset = %s", got)
	}
	if got := formatOffset(59); got != "0:59" {
		t.Errorf("formatOffset = %s", got)
	}
}

func TestFindMatch(t *testing.T) {
	matches := []timeline.Match{{ID: 10, Name: "Q1"}, {ID: 11, Name: "QF 1-1"}, {ID: 1, Name: "Q10"}}
	tests := []struct {
		ref  string
		want int
		ok   bool
	}{
		{"q1", 10, true},
		{"QF 1-1", 11, true},
		{"11", 11, true},
		{"1", 1, true},
		{"F1", 0, false},
	}
	for _, tt := range tests {
		got, ok := findMatch(matches, tt.ref)
		if got != tt.want || ok != tt.ok {
			t.Errorf("findMatch(%q) = %d, %v", tt.ref, got, ok)
		}
	}
}

func TestMask(t *testing.T) {
	if mask("") != "-" || mask("abc") != "******" || mask("AIzaSyExample123") != "AIz...123" {
		t.Error("mask mismatch")
	}
}
