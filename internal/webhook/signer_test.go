package webhook

import (
	"testing"
	"time"
)

func TestGenerateSignature(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		secret    string
		timestamp int64
		body      []byte
	}{
		{
			name:      "event batch",
			secret:    "whsec_test123",
			timestamp: 1736600000,
			body:      []byte(`{"delivery_id":"d1","events":[{"type":"deployment.completed"}]}`),
		},
		{
			name:      "empty body",
			secret:    "secret",
			timestamp: 1000000000,
			body:      []byte(`{}`),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sig := GenerateSignature(tt.secret, tt.timestamp, tt.body)

			// Signature should be hex-encoded (64 chars for SHA256)
			if len(sig) != 64 {
				t.Errorf("signature length = %d, want 64", len(sig))
			}
			if sig != GenerateSignature(tt.secret, tt.timestamp, tt.body) {
				t.Error("signature is not deterministic")
			}
			if sig == GenerateSignature(tt.secret, tt.timestamp+1, tt.body) {
				t.Error("different timestamp should produce different signature")
			}
			if sig == GenerateSignature(tt.secret+"x", tt.timestamp, tt.body) {
				t.Error("different secret should produce different signature")
			}
		})
	}
}

func TestValidateSignature(t *testing.T) {
	t.Parallel()

	secret := "test_secret"
	timestamp := time.Now().Unix()
	body := []byte(`{"events":[]}`)
	stale := time.Now().Add(-10 * time.Minute).Unix()
	future := time.Now().Add(10 * time.Minute).Unix()

	tests := []struct {
		name      string
		signature string
		timestamp int64
		wantErr   error
	}{
		{"valid signature", GenerateSignature(secret, timestamp, body), timestamp, nil},
		{"invalid signature", "invalid", timestamp, ErrInvalidSignature},
		{"expired timestamp", GenerateSignature(secret, stale, body), stale, ErrReplayWindowExceeded},
		{"future timestamp beyond window", GenerateSignature(secret, future, body), future, ErrReplayWindowExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateSignature(secret, tt.signature, tt.timestamp, body, DefaultReplayWindow)
			if err != tt.wantErr {
				t.Errorf("ValidateSignature() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
