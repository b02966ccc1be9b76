package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Port:                   "8100",
		Env:                    "development",
		DatabaseURL:            "postgres://localhost/sync",
		DBMaxConns:             20,
		DBMinConns:             5,
		SyncFailureThreshold:   3,
		SchedulerInterval:      time.Minute,
		AdapterTimeout:         30 * time.Second,
		AdapterMaxRetries:      3,
		WebhookDefaultTimeout:  10 * time.Second,
		WebhookDefaultAttempts: 5,
		BulkExportMaxWait:      30 * time.Minute,
		BulkExportPollInterval: 15 * time.Second,
	}
}

func TestValidate_DevelopmentDefaults(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid dev config, got %v", err)
	}
}

func TestValidate_ProductionRequiresKeys(t *testing.T) {
	cfg := validConfig()
	cfg.Env = "production"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "PHI_ENCRYPTION_KEY") {
		t.Fatalf("expected PHI key requirement, got %v", err)
	}

	cfg.PHIEncryptionKey = strings.Repeat("ab", 32)
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "CHALLENGE_SIGNING_KEY") {
		t.Fatalf("expected challenge key requirement, got %v", err)
	}

	cfg.ChallengeSigningKey = "signing-secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid production config, got %v", err)
	}
}

func TestValidate_EncryptionKeyShape(t *testing.T) {
	cases := []struct {
		name string
		key  string
	}{
		{"not hex", "zz" + strings.Repeat("ab", 31)},
		{"too short", strings.Repeat("ab", 16)},
		{"too long", strings.Repeat("ab", 40)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.PHIEncryptionKey = tc.key
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected error for key %q", tc.key)
			}
		})
	}
}

func TestValidate_BulkExportBounds(t *testing.T) {
	cfg := validConfig()
	cfg.BulkExportPollInterval = time.Hour
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when poll interval exceeds max wait")
	}

	cfg = validConfig()
	cfg.SyncFailureThreshold = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero failure threshold")
	}
}
