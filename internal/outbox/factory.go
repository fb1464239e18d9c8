package outbox

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// BuildFromDSN picks the queue implementation. An empty DSN or
// "immediate://" dispatches each op on its own goroutine; "inline://" runs it
// synchronously; "memory://" and "file://<path>" spool ops for a Buffered
// worker whose Run the caller must start.
func BuildFromDSN(dsn string, capacity int, handler Handler, logger *slog.Logger) (Queue, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewImmediate(handler), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "immediate":
		return NewImmediate(handler), nil
	case "inline", "sync":
		return NewInline(handler), nil
	case "memory", "mem", "inmem":
		return NewBuffered(NewMemorySpool(capacity), handler, logger), nil
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		spool, spoolErr := NewFileSpool(path, capacity)
		if spoolErr != nil {
			return nil, spoolErr
		}
		return NewBuffered(spool, handler, logger), nil
	default:
		return nil, fmt.Errorf("unsupported outbox scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	} else if host := strings.TrimSpace(parsed.Host); host != "" {
		path = host + path
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
