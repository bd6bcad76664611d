// Package registry wraps the remote image operations the assembly backends
// need: resolving base images and pushing finished images. Authentication is
// discovered by AuthProvider from explicit credentials, environment
// variables, or the Docker config file.
package registry

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	"github.com/stratumbuild/stratum/internal/errors"
)

// BaseScratch is the reserved base reference for images built from nothing.
const BaseScratch = "scratch"

// Client provides container registry operations.
type Client struct {
	options *ClientOptions
	auth    authn.Authenticator
}

// ClientOptions configures the registry client.
type ClientOptions struct {
	// Transport for HTTP requests
	Transport http.RoundTripper
	// UserAgent for requests
	UserAgent string
	// Timeout for metadata operations
	Timeout time.Duration
	// Retry configuration for network operations
	RetryConfig *errors.RetryConfig
	// Insecure registries (plain HTTP)
	InsecureRegistries []string
}

// DefaultClientOptions returns sensible defaults for the registry client.
func DefaultClientOptions() *ClientOptions {
	return &ClientOptions{
		UserAgent:          "stratum/1.0",
		Timeout:            30 * time.Second,
		RetryConfig:        errors.DefaultRetryConfig(),
		InsecureRegistries: []string{},
	}
}

// NewClient creates a new registry client with the given options.
func NewClient(options *ClientOptions) *Client {
	if options == nil {
		options = DefaultClientOptions()
	}
	return &Client{
		options: options,
		auth:    authn.Anonymous,
	}
}

// SetAuthenticator sets the authenticator for registry operations.
func (c *Client) SetAuthenticator(auth authn.Authenticator) {
	c.auth = auth
}

// GetAuthenticator returns the current authenticator.
func (c *Client) GetAuthenticator() authn.Authenticator {
	if c.auth != nil {
		return c.auth
	}
	return authn.Anonymous
}

func (c *Client) remoteOptions(ctx context.Context) []remote.Option {
	opts := []remote.Option{
		remote.WithAuth(c.GetAuthenticator()),
		remote.WithContext(ctx),
	}
	if c.options.Transport != nil {
		opts = append(opts, remote.WithTransport(c.options.Transport))
	}
	if c.options.UserAgent != "" {
		opts = append(opts, remote.WithUserAgent(c.options.UserAgent))
	}
	return opts
}

func (c *Client) parseReference(ref string) (name.Reference, error) {
	var parseOpts []name.Option
	for _, insecure := range c.options.InsecureRegistries {
		if strings.HasPrefix(ref, insecure+"/") {
			parseOpts = append(parseOpts, name.Insecure)
			break
		}
	}

	nameRef, err := name.ParseReference(ref, parseOpts...)
	if err != nil {
		return nil, errors.NewRegistryError("parse_reference", fmt.Sprintf("invalid image reference %q", ref), err)
	}
	return nameRef, nil
}

// ResolveBase fetches the base image for the requested platform. The
// reference "scratch" resolves to an empty image without touching the
// network.
func (c *Client) ResolveBase(ctx context.Context, baseRef, platform string) (v1.Image, error) {
	if baseRef == BaseScratch {
		return empty.Image, nil
	}

	nameRef, err := c.parseReference(baseRef)
	if err != nil {
		return nil, err
	}

	opts := c.remoteOptions(ctx)
	if platform != "" {
		parsed, err := v1.ParsePlatform(platform)
		if err != nil {
			return nil, errors.NewRegistryError("parse_platform", fmt.Sprintf("invalid platform %q", platform), err)
		}
		opts = append(opts, remote.WithPlatform(*parsed))
	}

	if c.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.Timeout)
		defer cancel()
	}

	var image v1.Image
	err = errors.RetryWithContext(ctx, c.options.RetryConfig, "resolve_base", func() error {
		var pullErr error
		image, pullErr = remote.Image(nameRef, opts...)
		return pullErr
	})
	if err != nil {
		return nil, errors.NewRegistryError("resolve_base", fmt.Sprintf("failed to resolve base image %s", baseRef), err)
	}
	return image, nil
}

// Push uploads an image under the given reference, retrying transient
// network failures. The context bounds the whole operation.
func (c *Client) Push(ctx context.Context, ref string, image v1.Image) (string, error) {
	nameRef, err := c.parseReference(ref)
	if err != nil {
		return "", err
	}

	opts := c.remoteOptions(ctx)
	err = errors.RetryWithContext(ctx, c.options.RetryConfig, "push_image", func() error {
		return remote.Write(nameRef, image, opts...)
	})
	if err != nil {
		return "", errors.NewRegistryError("push_image", fmt.Sprintf("failed to push %s", ref), err)
	}

	imageDigest, err := image.Digest()
	if err != nil {
		return nameRef.Name(), nil
	}
	return fmt.Sprintf("%s@%s", nameRef.Context().Name(), imageDigest.String()), nil
}
