package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

var (
	// ErrUnknownEndpoint is returned for an endpoint id without a configured root.
	ErrUnknownEndpoint = errors.New("unknown endpoint")
	// ErrUnsupportedRoot is returned for a root URL with an unsupported scheme.
	ErrUnsupportedRoot = errors.New("unsupported endpoint root")
)

// Resolver maps backend endpoint ids onto storage providers. Each endpoint
// is configured with a root URL, either file:///some/dir or s3://bucket/prefix.
type Resolver struct {
	roots map[string]string

	mu        sync.Mutex
	providers map[string]Provider
	newS3     func(ctx context.Context, bucket, prefix string) (Provider, error)
}

// NewResolver creates a Resolver for the given endpoint id to root URL map.
func NewResolver(roots map[string]string) *Resolver {
	return &Resolver{
		roots:     roots,
		providers: make(map[string]Provider),
		newS3: func(ctx context.Context, bucket, prefix string) (Provider, error) {
			return NewS3Provider(ctx, bucket, prefix)
		},
	}
}

// Endpoint returns the provider serving endpoint. Providers are built on first
// use and reused afterwards.
func (r *Resolver) Endpoint(ctx context.Context, endpoint string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.providers[endpoint]; ok {
		return p, nil
	}

	root, ok := r.roots[endpoint]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEndpoint, endpoint)
	}

	u, err := url.Parse(root)
	if err != nil {
		return nil, fmt.Errorf("parsing root of endpoint %s: %w", endpoint, err)
	}

	var p Provider
	switch u.Scheme {
	case "", "file":
		p = NewLocalProvider(u.Path)
	case "s3":
		p, err = r.newS3(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRoot, root)
	}

	r.providers[endpoint] = p
	return p, nil
}

// ObjectPath extracts the path part of a transfer URL. Plain paths are
// returned unchanged.
func ObjectPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return raw
	}
	return u.Path
}
