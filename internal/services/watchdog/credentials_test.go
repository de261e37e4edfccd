package watchdog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"stagecoach/internal/services"
)

func TestCredentialProviders(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenFile, []byte("file-token\nsecond line ignored\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STAGECOACH_CRED_TEST", "env-token")

	cases := []struct {
		name      string
		source    string
		value     string
		want      string
		buildErr  bool
		lookupErr bool
	}{
		{name: "none", source: "none", want: ""},
		{name: "empty source means none", source: "", want: ""},
		{name: "static", source: "static", value: "tok-9", want: "tok-9"},
		{name: "static without value", source: "static", buildErr: true},
		{name: "env", source: "env", value: "STAGECOACH_CRED_TEST", want: "env-token"},
		{name: "env unset variable", source: "env", value: "STAGECOACH_CRED_UNSET", lookupErr: true},
		{name: "file first line", source: "file", value: tokenFile, want: "file-token"},
		{name: "file missing", source: "file", value: filepath.Join(t.TempDir(), "nope"), lookupErr: true},
		{name: "unknown source", source: "vault", buildErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider, err := NewCredentialProvider(tc.source, tc.value)
			if tc.buildErr {
				if !errors.Is(err, services.ErrConfiguration) {
					t.Fatalf("expected configuration error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewCredentialProvider: %v", err)
			}
			token, err := provider.Credential(context.Background())
			if tc.lookupErr {
				if err == nil {
					t.Fatal("expected lookup error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Credential: %v", err)
			}
			if token != tc.want {
				t.Fatalf("token = %q, want %q", token, tc.want)
			}
		})
	}
}
