package watchdog

import (
	"context"
	"fmt"
	"os"
	"strings"

	"stagecoach/internal/services"
)

// CredentialProvider supplies the bearer credential for the HTTP backend.
type CredentialProvider interface {
	Credential(ctx context.Context) (string, error)
}

// NewCredentialProvider builds a provider from the configured source:
// none (no credential), static (the configured value), env (named
// environment variable), or file (first line of the named file).
func NewCredentialProvider(source, value string) (CredentialProvider, error) {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "", "none":
		return noneProvider{}, nil
	case "static":
		if strings.TrimSpace(value) == "" {
			return nil, services.Wrap(services.ErrConfiguration, "", "watchdog",
				"static credential source requires credential_value", nil)
		}
		return staticProvider{token: strings.TrimSpace(value)}, nil
	case "env":
		if strings.TrimSpace(value) == "" {
			return nil, services.Wrap(services.ErrConfiguration, "", "watchdog",
				"env credential source requires credential_value to name the variable", nil)
		}
		return envProvider{name: strings.TrimSpace(value)}, nil
	case "file":
		if strings.TrimSpace(value) == "" {
			return nil, services.Wrap(services.ErrConfiguration, "", "watchdog",
				"file credential source requires credential_value to name the file", nil)
		}
		return fileProvider{path: strings.TrimSpace(value)}, nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "", "watchdog",
			fmt.Sprintf("unknown credential source %q", source), nil)
	}
}

type noneProvider struct{}

func (noneProvider) Credential(context.Context) (string, error) { return "", nil }

type staticProvider struct {
	token string
}

func (p staticProvider) Credential(context.Context) (string, error) { return p.token, nil }

type envProvider struct {
	name string
}

func (p envProvider) Credential(context.Context) (string, error) {
	token := strings.TrimSpace(os.Getenv(p.name))
	if token == "" {
		return "", services.Wrap(services.ErrConfiguration, "", "watchdog",
			fmt.Sprintf("environment variable %s is empty", p.name), nil)
	}
	return token, nil
}

type fileProvider struct {
	path string
}

func (p fileProvider) Credential(context.Context) (string, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "", "watchdog",
			"read credential file", err)
	}
	token := strings.TrimSpace(strings.SplitN(string(data), "\n", 2)[0])
	if token == "" {
		return "", services.Wrap(services.ErrConfiguration, "", "watchdog",
			fmt.Sprintf("credential file %s is empty", p.path), nil)
	}
	return token, nil
}
