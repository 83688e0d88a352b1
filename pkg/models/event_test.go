package models

import (
	"math"
	"testing"
	"time"
)

func TestParseEventCoercesLooseTypes(t *testing.T) {
	payload := []byte(`{
		"timestamp": "2026-03-05T10:15:00Z",
		"process_name": "nginx",
		"cpu_usage": "55.5",
		"connections": 12,
		"has_network": 1,
		"remote_port": "4444",
		"custom_tag": "edge-7"
	}`)

	event, err := ParseEvent(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.ProcessName != "nginx" {
		t.Fatalf("unexpected process name: %q", event.ProcessName)
	}
	if event.CPUUsage != 55.5 {
		t.Fatalf("expected cpu 55.5, got %v", event.CPUUsage)
	}
	if event.ConnectionCount != 12 {
		t.Fatalf("expected 12 connections, got %d", event.ConnectionCount)
	}
	if !event.HasNetwork {
		t.Fatalf("expected has_network true")
	}
	if event.RemotePort != 4444 {
		t.Fatalf("expected remote port 4444, got %d", event.RemotePort)
	}
	if event.Extra["custom_tag"] != "edge-7" {
		t.Fatalf("expected unknown field in Extra, got %v", event.Extra)
	}
	want := time.Date(2026, 3, 5, 10, 15, 0, 0, time.UTC)
	if !event.Timestamp.Equal(want) {
		t.Fatalf("unexpected timestamp: %v", event.Timestamp)
	}
}

func TestParseEventInvalidJSON(t *testing.T) {
	if _, err := ParseEvent([]byte("{not json")); err == nil {
		t.Fatalf("expected error for invalid payload")
	}
}

func TestParseEventMissingTimestampDefaultsToNow(t *testing.T) {
	event, err := ParseEvent([]byte(`{"process_name":"x"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Timestamp.IsZero() {
		t.Fatalf("expected a defaulted timestamp")
	}
}

func TestAttributeMapCarriesRuleAliases(t *testing.T) {
	event := &Event{
		Timestamp:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ProcessName: "evil.exe",
		Cmdline:     "evil.exe -x",
		RemotePort:  1337,
	}
	attrs := event.AttributeMap()
	if attrs["Image"] != "evil.exe" || attrs["CommandLine"] != "evil.exe -x" {
		t.Fatalf("missing rule aliases: %v", attrs)
	}
	if attrs["DestinationPort"] != 1337 {
		t.Fatalf("missing port alias: %v", attrs)
	}
}

func TestSeverityForLowConfidenceDowngrades(t *testing.T) {
	if got := SeverityFor(CategoryRansomware, 0.9); got != SeverityCritical {
		t.Fatalf("expected critical, got %s", got)
	}
	if got := SeverityFor(CategoryRansomware, 0.3); got != SeverityLow {
		t.Fatalf("expected low for low confidence, got %s", got)
	}
	if got := SeverityFor(CategoryNormal, 0.3); got != SeverityNone {
		t.Fatalf("normal must stay none, got %s", got)
	}
}

func TestSeverityMonotonicInConfidence(t *testing.T) {
	rank := map[string]int{
		SeverityNone: 0, SeverityLow: 1, SeverityMedium: 2, SeverityHigh: 3, SeverityCritical: 4,
	}
	for _, category := range []string{CategoryMalware, CategoryBruteForce, CategoryTrojan, CategoryNormal} {
		prev := -1
		for _, conf := range []float64{0.1, 0.3, 0.5, 0.7, 0.9, 1.0} {
			cur := rank[SeverityFor(category, conf)]
			if cur < prev {
				t.Fatalf("severity for %s dropped at confidence %.1f", category, conf)
			}
			prev = cur
		}
	}
}

func TestRiskScoreSeparatesThreatFromNormal(t *testing.T) {
	threat := RiskScore(CategoryMalware, 0.8)
	normal := RiskScore(CategoryNormal, 0.8)
	if threat <= normal {
		t.Fatalf("threat risk %.2f not above normal %.2f", threat, normal)
	}
	if math.Abs(threat-0.72) > 1e-9 || math.Abs(normal-0.08) > 1e-9 {
		t.Fatalf("unexpected risk values: %.3f %.3f", threat, normal)
	}
}
