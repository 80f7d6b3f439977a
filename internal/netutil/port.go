package netutil

import (
	"errors"
	"fmt"
	"net"
)

// DefaultAPICandidates are tried, in order, when no candidates are configured.
var DefaultAPICandidates = []string{
	"127.0.0.1:8711",
	"127.0.0.1:8712",
	"127.0.0.1:8713",
	"127.0.0.1:8714",
}

// ErrNoAddr is returned when neither the preferred address nor any candidate
// can be bound.
var ErrNoAddr = errors.New("no available control API bind addresses")

// Listen binds preferred, falling back to candidates in order when
// autoFallback is set or preferred is empty. The listener is returned open so
// the address cannot be taken between selection and serving.
func Listen(preferred string, candidates []string, autoFallback bool) (net.Listener, error) {
	if preferred != "" {
		ln, err := net.Listen("tcp", preferred)
		if err == nil {
			return ln, nil
		}
		if !autoFallback {
			return nil, fmt.Errorf("preferred bind address in use: %s: %w", preferred, err)
		}
	}

	if len(candidates) == 0 {
		candidates = DefaultAPICandidates
	}
	for _, addr := range candidates {
		if addr == preferred {
			continue
		}
		if ln, err := net.Listen("tcp", addr); err == nil {
			return ln, nil
		}
	}

	return nil, ErrNoAddr
}
