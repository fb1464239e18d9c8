// Package realtime listens for remote change notifications over a websocket
// and turns bursts of them into single hydration triggers.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"
)

var ErrInvalidInput = errors.New("invalid input")

// Event is the subset of a change message the listener reads. Messages that
// do not decode still count as a change.
type Event struct {
	Type  string `json:"type"`
	Table string `json:"table"`
}

type Options struct {
	URL    string
	Header http.Header
	// Debounce coalesces messages arriving within this window.
	Debounce       time.Duration
	ReconnectDelay time.Duration
	Logger         *slog.Logger
}

type Listener struct {
	url            string
	header         http.Header
	debounce       time.Duration
	reconnectDelay time.Duration
	logger         *slog.Logger
	trigger        func(ctx context.Context)
	pending        chan struct{}
}

func NewListener(opts Options, trigger func(ctx context.Context)) (*Listener, error) {
	url := strings.TrimSpace(opts.URL)
	if url == "" || trigger == nil {
		return nil, ErrInvalidInput
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	reconnect := opts.ReconnectDelay
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		url:            url,
		header:         opts.Header,
		debounce:       debounce,
		reconnectDelay: reconnect,
		logger:         logger,
		trigger:        trigger,
		pending:        make(chan struct{}, 1),
	}, nil
}

// Run keeps a connection open until ctx is done, reconnecting after
// failures.
func (l *Listener) Run(ctx context.Context) error {
	go l.dispatch(ctx)
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.Warn("realtime connection lost", "url", l.url, "err", err)
		timer := time.NewTimer(l.reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, l.url, &websocket.DialOptions{HTTPHeader: l.header})
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	l.logger.Debug("realtime connected", "url", l.url)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var event Event
		if json.Unmarshal(data, &event) == nil && event.Table != "" {
			l.logger.Debug("remote change", "type", event.Type, "table", event.Table)
		}
		select {
		case l.pending <- struct{}{}:
		default:
		}
	}
}

func (l *Listener) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.pending:
		}
		timer := time.NewTimer(l.debounce)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		// Messages that arrived during the window are covered by this run.
		select {
		case <-l.pending:
		default:
		}
		l.trigger(ctx)
	}
}
