package nfc

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		reason        string
		writeInFlight bool
		want          InvalidationClass
	}{
		{"", false, InvalidationClosed},
		{"Session is invalidated after first NDEF tag read", false, InvalidationClosed},
		{"Session invalidated by user", false, InvalidationUserCancelled},
		{"Session invalidated by user", true, InvalidationWritePresumed},
		{"User Canceled", false, InvalidationUserCancelled},
		{"Scan cancelled by user", true, InvalidationWritePresumed},
		{"System resource unavailable", false, InvalidationTransient},
		{"System resource unavailable", true, InvalidationTransient},
		{"Session timeout", false, InvalidationFailed},
		{"Tag connection lost", true, InvalidationFailed},
	}
	for _, tt := range tests {
		if got := Classify(tt.reason, tt.writeInFlight); got != tt.want {
			t.Errorf("Classify(%q, %v) = %v, want %v", tt.reason, tt.writeInFlight, got, tt.want)
		}
	}
}
