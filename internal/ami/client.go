package ami

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrTimeout is returned when an action gets no response before its deadline.
	ErrTimeout = errors.New("ami: action timed out")
	// ErrNotConnected is returned for actions on a closed or detached connection.
	ErrNotConnected = errors.New("ami: not connected")
	// ErrActionFailed wraps a "Response: Error" reply.
	ErrActionFailed = errors.New("ami: action failed")
	// ErrConnectionClosed is returned by Run when the server hangs up.
	ErrConnectionClosed = errors.New("ami: connection closed")
)

const bannerTimeout = 10 * time.Second

var actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "asterisk_ledger",
	Subsystem: "ami",
	Name:      "actions_total",
	Help:      "AMI actions sent, by action and result",
}, []string{"action", "result"})

// Client is a single AMI manager connection. Run must be running for Send
// to receive responses.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	banner string
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Event
	nextID  atomic.Uint64

	closed    chan struct{}
	closeOnce sync.Once
}

// Dial connects to addr and reads the AMI banner.
func Dial(ctx context.Context, addr string, logger *slog.Logger) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial AMI: %w", err)
	}
	c, err := NewClient(conn, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// NewClient wraps an established connection and consumes the banner line.
func NewClient(conn net.Conn, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	_ = conn.SetReadDeadline(time.Now().Add(bannerTimeout))
	reader := bufio.NewReader(conn)
	banner, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading AMI banner: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	return &Client{
		conn:    conn,
		reader:  reader,
		banner:  strings.TrimSpace(banner),
		logger:  logger,
		pending: make(map[string]chan Event),
		closed:  make(chan struct{}),
	}, nil
}

// Banner returns the server greeting, e.g. "Asterisk Call Manager/5.0.1".
func (c *Client) Banner() string {
	return c.banner
}

// Login authenticates the session.
func (c *Client) Login(ctx context.Context, username, secret string) error {
	if _, err := c.Send(ctx, "Login", "Username", username, "Secret", secret); err != nil {
		return fmt.Errorf("AMI login: %w", err)
	}
	return nil
}

// Logoff ends the session politely. The connection is closed by the server.
func (c *Client) Logoff(ctx context.Context) error {
	_, err := c.Send(ctx, "Logoff")
	return err
}

// Run reads the stream until the connection ends, delivering action
// responses to their waiting Send calls and everything else to handle.
// It returns nil when ctx is cancelled.
func (c *Client) Run(ctx context.Context, handle func(Event)) error {
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.closed:
		}
	}()

	parser := NewParser(c.reader)
	for {
		evt, ok := parser.Next()
		if !ok {
			c.Close()
			if ctx.Err() != nil {
				return nil
			}
			if err := parser.Err(); err != nil {
				return fmt.Errorf("reading AMI stream: %w", err)
			}
			return ErrConnectionClosed
		}

		if evt.IsResponse() && c.deliver(evt) {
			continue
		}
		if evt.Type() == "" {
			continue
		}
		handle(evt)
	}
}

// Send writes an action and waits for its response. Extra headers are
// given as alternating key/value strings.
func (c *Client) Send(ctx context.Context, action string, kvs ...string) (Event, error) {
	select {
	case <-c.closed:
		return Event{}, ErrNotConnected
	default:
	}

	id := strconv.FormatUint(c.nextID.Add(1), 10)
	msg := NewEvent(append([]string{"Action", action, "ActionID", id}, kvs...)...)

	ch := make(chan Event, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, msg.Encode()); err != nil {
		actionsTotal.WithLabelValues(action, "write_error").Inc()
		return Event{}, fmt.Errorf("sending %s: %w", action, err)
	}

	select {
	case resp := <-ch:
		if strings.EqualFold(resp.Get("Response"), "Error") {
			actionsTotal.WithLabelValues(action, "error").Inc()
			return resp, fmt.Errorf("%w: %s: %s", ErrActionFailed, action, resp.Get("Message"))
		}
		actionsTotal.WithLabelValues(action, "success").Inc()
		return resp, nil
	case <-ctx.Done():
		actionsTotal.WithLabelValues(action, "timeout").Inc()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Event{}, fmt.Errorf("%s: %w", action, ErrTimeout)
		}
		return Event{}, ctx.Err()
	case <-c.closed:
		actionsTotal.WithLabelValues(action, "disconnected").Inc()
		return Event{}, ErrNotConnected
	}
}

// Close closes the connection and fails any waiting Send calls.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	_, err := c.conn.Write(data)
	return err
}

func (c *Client) deliver(resp Event) bool {
	id := resp.ActionID()
	if id == "" {
		return false
	}
	c.mu.Lock()
	ch, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("AMI response for unknown action", "action_id", id)
		return true
	}
	select {
	case ch <- resp:
	default:
	}
	return true
}
