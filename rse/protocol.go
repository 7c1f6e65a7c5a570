package rse

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrPFNNotSupported is returned when a physical file name does not belong to
// a protocol.
var ErrPFNNotSupported = errors.New("pfn not supported by protocol")

// Protocol describes how files on a storage element are addressed.
type Protocol struct {
	Scheme   string
	Hostname string
	Port     int
	Prefix   string
}

// ParsedPFN is a physical file name split into its parts.
type ParsedPFN struct {
	Scheme   string
	Hostname string
	Port     int
	Prefix   string
	Path     string
	Name     string
}

func (p Protocol) prefix() string {
	prefix := p.Prefix
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

func (p Protocol) host() string {
	if p.Port == 0 {
		return p.Hostname
	}
	return p.Hostname + ":" + strconv.Itoa(p.Port)
}

// PFN returns the physical URL of scope:name. A non-empty relPath is placed
// under the prefix as is, otherwise the deterministic layout is used.
func (p Protocol) PFN(scope, name, relPath string) string {
	if relPath == "" {
		relPath = DeterministicPath(scope, name)
	}
	return p.Scheme + "://" + p.host() + p.prefix() + strings.TrimPrefix(relPath, "/")
}

// DeterministicPath lays files out as scope/xx/yy/name where xx and yy are
// taken from the md5 of "scope:name". user and group scopes are split on dots.
func DeterministicPath(scope, name string) string {
	sum := md5.Sum([]byte(scope + ":" + name))
	h := hex.EncodeToString(sum[:])
	if strings.HasPrefix(scope, "user") || strings.HasPrefix(scope, "group") {
		scope = strings.ReplaceAll(scope, ".", "/")
	}
	return fmt.Sprintf("%s/%s/%s/%s", scope, h[0:2], h[2:4], name)
}

// ParsePFN splits pfn into the parts known to the protocol. Hostname, port and
// prefix must match; a localhost hostname accepts any host since file URLs
// usually carry none.
func (p Protocol) ParsePFN(pfn string) (ParsedPFN, error) {
	u, err := url.Parse(pfn)
	if err != nil {
		return ParsedPFN{}, fmt.Errorf("parsing pfn %q: %w", pfn, err)
	}

	hostname := u.Hostname()
	port := 0
	if ps := u.Port(); ps != "" {
		port, err = strconv.Atoi(ps)
		if err != nil {
			return ParsedPFN{}, fmt.Errorf("parsing port of %q: %w", pfn, err)
		}
	}

	if p.Hostname != hostname && p.Hostname != "localhost" {
		return ParsedPFN{}, fmt.Errorf("%w: invalid hostname: provided %q, expected %q", ErrPFNNotSupported, hostname, p.Hostname)
	}
	if p.Port != port {
		return ParsedPFN{}, fmt.Errorf("%w: invalid port: provided %d, expected %d", ErrPFNNotSupported, port, p.Port)
	}

	path := u.Path
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}

	prefix := p.prefix()
	if !strings.HasPrefix(path, prefix) {
		return ParsedPFN{}, fmt.Errorf("%w: invalid prefix: %q does not start with %q", ErrPFNNotSupported, path, prefix)
	}

	rest := strings.TrimPrefix(path, prefix)
	dir, name := "", rest
	if i := strings.LastIndex(rest, "/"); i >= 0 {
		dir, name = rest[:i], rest[i+1:]
	}
	dir = "/" + dir
	if dir != "/" {
		dir += "/"
	}

	return ParsedPFN{
		Scheme:   u.Scheme,
		Hostname: hostname,
		Port:     port,
		Prefix:   prefix,
		Path:     dir,
		Name:     name,
	}, nil
}
