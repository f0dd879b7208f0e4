package mongo

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/velmie/drain"
)

const (
	defaultPort           = 27017
	defaultHost           = "localhost"
	defaultConnectTimeout = 10 * time.Second
)

// Config defines the MongoDB collection written by a Store.
type Config struct {
	// Hosts is a comma-separated list of host[:port] seeds. The port defaults to 27017.
	Hosts      string
	Database   string
	Collection string

	AuthEnabled bool
	Username    string
	Password    string
	// AuthSource is the database holding the user. Defaults to Database.
	AuthSource string

	ConnectTimeout time.Duration
}

// Validate reports missing or malformed settings.
func (c Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("%w: mongo database is required", drain.ErrConfiguration)
	}
	if c.Collection == "" {
		return fmt.Errorf("%w: mongo collection is required", drain.ErrConfiguration)
	}
	if c.AuthEnabled && c.Username == "" {
		return fmt.Errorf("%w: mongo username is required when auth is enabled", drain.ErrConfiguration)
	}
	if _, err := Seeds(c.Hosts); err != nil {
		return err
	}

	return nil
}

func (c Config) withDefaults() Config {
	if c.AuthSource == "" {
		c.AuthSource = c.Database
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}

	return c
}

// Seeds parses a comma-separated host list into host:port seeds.
// Whitespace is ignored and hosts without a port get 27017.
func Seeds(hosts string) ([]string, error) {
	hosts = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, hosts)
	if hosts == "" {
		return []string{net.JoinHostPort(defaultHost, strconv.Itoa(defaultPort))}, nil
	}

	parts := strings.Split(hosts, ",")
	seeds := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}

		host, port, found := strings.Cut(part, ":")
		if host == "" {
			return nil, fmt.Errorf("%w: mongo host is empty in %q", drain.ErrConfiguration, part)
		}
		portNum := defaultPort
		if found {
			n, err := strconv.Atoi(port)
			if err != nil || n <= 0 || n > 65535 {
				return nil, fmt.Errorf("%w: invalid mongo port in %q", drain.ErrConfiguration, part)
			}
			portNum = n
		}
		seeds = append(seeds, net.JoinHostPort(host, strconv.Itoa(portNum)))
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("%w: no mongo hosts in %q", drain.ErrConfiguration, hosts)
	}

	return seeds, nil
}
