package registry

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
)

// RegistryAuth holds credentials for one registry.
type RegistryAuth struct {
	Username string `json:"username,omitempty" yaml:"username"`
	Password string `json:"password,omitempty" yaml:"password"`
	Token    string `json:"token,omitempty" yaml:"token"`
}

// AuthProvider discovers credentials for registry operations.
type AuthProvider struct {
	registries map[string]*RegistryAuth
}

// NewAuthProvider creates an authentication provider with optional explicit
// per-registry credentials.
func NewAuthProvider(registries map[string]*RegistryAuth) *AuthProvider {
	if registries == nil {
		registries = make(map[string]*RegistryAuth)
	}
	return &AuthProvider{registries: registries}
}

// GetAuthenticator resolves credentials for the given registry host. Sources
// are tried in order: explicit configuration, environment variables, the
// Docker config file. Anonymous access is the fallback.
func (a *AuthProvider) GetAuthenticator(registry string) (authn.Authenticator, error) {
	sources := []func(string) (authn.Authenticator, error){
		a.getFromConfig,
		a.getFromEnvironment,
		a.getFromDockerConfig,
	}

	for _, getAuth := range sources {
		if auth, err := getAuth(registry); err == nil && auth != authn.Anonymous {
			return auth, nil
		}
	}
	return authn.Anonymous, nil
}

func (a *AuthProvider) getFromConfig(registry string) (authn.Authenticator, error) {
	regAuth, exists := a.registries[registry]
	if !exists {
		return authn.Anonymous, fmt.Errorf("registry %s not configured", registry)
	}
	return authenticatorFor(regAuth)
}

func (a *AuthProvider) getFromEnvironment(registry string) (authn.Authenticator, error) {
	// Registry-specific variables win over the generic ones.
	envPrefix := strings.ToUpper(strings.ReplaceAll(registry, ".", "_"))
	envPrefix = strings.ReplaceAll(envPrefix, "-", "_")

	for _, prefix := range []string{envPrefix, "STRATUM_REGISTRY"} {
		regAuth := &RegistryAuth{
			Username: os.Getenv(prefix + "_USERNAME"),
			Password: os.Getenv(prefix + "_PASSWORD"),
			Token:    os.Getenv(prefix + "_TOKEN"),
		}
		if auth, err := authenticatorFor(regAuth); err == nil {
			return auth, nil
		}
	}
	return authn.Anonymous, fmt.Errorf("no credentials in environment")
}

func (a *AuthProvider) getFromDockerConfig(registry string) (authn.Authenticator, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return authn.Anonymous, err
	}
	return authFromDockerConfigFile(filepath.Join(homeDir, ".docker", "config.json"), registry)
}

func authFromDockerConfigFile(configPath, registry string) (authn.Authenticator, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return authn.Anonymous, err
	}

	var dockerConfig struct {
		Auths map[string]struct {
			Auth     string `json:"auth"`
			Username string `json:"username"`
			Password string `json:"password"`
		} `json:"auths"`
	}
	if err := json.Unmarshal(data, &dockerConfig); err != nil {
		return authn.Anonymous, fmt.Errorf("failed to parse Docker config: %v", err)
	}

	for host, entry := range dockerConfig.Auths {
		if !registryMatches(host, registry) {
			continue
		}

		if entry.Auth != "" {
			decoded, err := base64.StdEncoding.DecodeString(entry.Auth)
			if err != nil {
				continue
			}
			parts := strings.SplitN(string(decoded), ":", 2)
			if len(parts) != 2 {
				continue
			}
			return &authn.Basic{Username: parts[0], Password: parts[1]}, nil
		}
		if entry.Username != "" && entry.Password != "" {
			return &authn.Basic{Username: entry.Username, Password: entry.Password}, nil
		}
	}
	return authn.Anonymous, fmt.Errorf("no credentials for %s", registry)
}

// registryMatches accounts for the several spellings of Docker Hub that
// appear in config files.
func registryMatches(host, registry string) bool {
	normalize := func(s string) string {
		s = strings.TrimPrefix(s, "https://")
		s = strings.TrimPrefix(s, "http://")
		s = strings.TrimSuffix(s, "/v1/")
		s = strings.TrimSuffix(s, "/")
		if s == "index.docker.io" || s == "registry-1.docker.io" {
			return "docker.io"
		}
		return s
	}
	return normalize(host) == normalize(registry)
}

func authenticatorFor(regAuth *RegistryAuth) (authn.Authenticator, error) {
	if regAuth == nil {
		return authn.Anonymous, fmt.Errorf("no credentials")
	}
	if regAuth.Username != "" && regAuth.Password != "" {
		return &authn.Basic{Username: regAuth.Username, Password: regAuth.Password}, nil
	}
	if regAuth.Token != "" {
		return &authn.Bearer{Token: regAuth.Token}, nil
	}
	return authn.Anonymous, fmt.Errorf("no usable credentials")
}
