package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RedisConfig carries the connection parameters for the lightweight Redis
// client used by the rate limiter and session cache.
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      bool
	Timeout  time.Duration
}

const (
	defaultRedisTimeout = 5 * time.Second
	redisKeyPrefix      = "devfolio:"
)

// RedisStore speaks the minimal subset of the Redis protocol the API needs:
// AUTH, SELECT, INCR, PEXPIRE, PTTL, GET, SET (with PX) and DEL. A single
// connection is shared and guarded by a mutex; commands reconnect lazily
// after a failure.
type RedisStore struct {
	cfg    RedisConfig
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// NewRedisStore dials the configured Redis server eagerly so that bad
// credentials or an unreachable host fail at startup, not on first request.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	cfg.Address = strings.TrimSpace(cfg.Address)
	if cfg.Address == "" {
		return nil, errors.New("redis: address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRedisTimeout
	}

	store := &RedisStore{cfg: cfg}
	store.mu.Lock()
	defer store.mu.Unlock()
	if err := store.connectLocked(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

// Close tears down the underlying connection.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.reader = nil
	return err
}

// IncrementWithTTL increments the counter at key, arming the expiry window on
// first increment. It returns the current count and the remaining TTL.
func (s *RedisStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	k := s.prefixed(key)

	count, err := s.commandInt(ctx, "INCR", k)
	if err != nil {
		return 0, 0, err
	}
	if count == 1 {
		if _, err := s.commandInt(ctx, "PEXPIRE", k, millisArg(window)); err != nil {
			return 0, 0, err
		}
	}

	ttlMillis, err := s.commandInt(ctx, "PTTL", k)
	if err != nil || ttlMillis < 0 {
		return count, window, nil
	}
	return count, time.Duration(ttlMillis) * time.Millisecond, nil
}

// Set stores a value with PX expiry semantics.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.commandStatus(ctx, "SET", s.prefixed(key), string(value), "PX", millisArg(ttl))
	return err
}

// Get retrieves the value stored at key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := s.command(ctx, "GET", s.prefixed(key))
	if err != nil {
		return nil, false, err
	}
	switch v := resp.(type) {
	case nil:
		return nil, false, nil
	case []byte:
		return v, true, nil
	default:
		return nil, false, fmt.Errorf("redis: unexpected response type %T", v)
	}
}

// Delete removes the supplied keys, ignoring ones that do not exist.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]string, 0, len(keys)+1)
	args = append(args, "DEL")
	for _, key := range keys {
		args = append(args, s.prefixed(key))
	}
	_, err := s.command(ctx, args...)
	return err
}

func (s *RedisStore) prefixed(key string) string {
	if strings.HasPrefix(key, redisKeyPrefix) {
		return key
	}
	return redisKeyPrefix + key
}

func (s *RedisStore) commandStatus(ctx context.Context, args ...string) (string, error) {
	resp, err := s.command(ctx, args...)
	if err != nil {
		return "", err
	}
	status, ok := resp.(string)
	if !ok {
		return "", fmt.Errorf("redis: unexpected status response %T", resp)
	}
	return status, nil
}

func (s *RedisStore) commandInt(ctx context.Context, args ...string) (int64, error) {
	resp, err := s.command(ctx, args...)
	if err != nil {
		return 0, err
	}
	switch v := resp.(type) {
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("redis: unexpected integer response %T", v)
	}
}

func (s *RedisStore) command(ctx context.Context, args ...string) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		if err := s.connectLocked(ctx); err != nil {
			return nil, err
		}
	}

	if err := s.conn.SetDeadline(commandDeadline(ctx, s.cfg.Timeout)); err != nil {
		s.dropLocked()
		return nil, err
	}
	if err := writeRESPCommand(s.conn, args); err != nil {
		s.dropLocked()
		return nil, err
	}

	resp, err := readRESPValue(s.reader)
	if err != nil {
		s.dropLocked()
		return nil, err
	}
	return resp, nil
}

func (s *RedisStore) connectLocked(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var (
		conn net.Conn
		err  error
	)
	if s.cfg.TLS {
		dialer := &tls.Dialer{NetDialer: &net.Dialer{}}
		conn, err = dialer.DialContext(ctx, "tcp", s.cfg.Address)
	} else {
		dialer := &net.Dialer{}
		conn, err = dialer.DialContext(ctx, "tcp", s.cfg.Address)
	}
	if err != nil {
		return err
	}

	reader := bufio.NewReader(conn)
	if err := conn.SetDeadline(commandDeadline(ctx, s.cfg.Timeout)); err != nil {
		conn.Close()
		return err
	}

	if s.cfg.Password != "" || s.cfg.Username != "" {
		authArgs := []string{"AUTH"}
		if s.cfg.Username != "" {
			authArgs = append(authArgs, s.cfg.Username, s.cfg.Password)
		} else {
			authArgs = append(authArgs, s.cfg.Password)
		}
		if err := handshakeCommand(conn, reader, authArgs); err != nil {
			conn.Close()
			return fmt.Errorf("redis: AUTH failed: %w", err)
		}
	}

	if s.cfg.DB > 0 {
		if err := handshakeCommand(conn, reader, []string{"SELECT", strconv.Itoa(s.cfg.DB)}); err != nil {
			conn.Close()
			return fmt.Errorf("redis: SELECT failed: %w", err)
		}
	}

	// Clear the handshake deadline; commands set their own per call.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return err
	}

	s.conn = conn
	s.reader = reader
	return nil
}

func (s *RedisStore) dropLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = nil
	s.reader = nil
}

func handshakeCommand(conn net.Conn, reader *bufio.Reader, args []string) error {
	if err := writeRESPCommand(conn, args); err != nil {
		return err
	}
	resp, err := readRESPValue(reader)
	if err != nil {
		return err
	}
	if status, ok := resp.(string); !ok || !strings.EqualFold(status, "OK") {
		return fmt.Errorf("unexpected reply %v", resp)
	}
	return nil
}

func commandDeadline(ctx context.Context, fallback time.Duration) time.Time {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline
	}
	return time.Now().Add(fallback)
}

func writeRESPCommand(conn net.Conn, args []string) error {
	var builder strings.Builder
	builder.WriteByte('*')
	builder.WriteString(strconv.Itoa(len(args)))
	builder.WriteString("\r\n")
	for _, arg := range args {
		builder.WriteByte('$')
		builder.WriteString(strconv.Itoa(len(arg)))
		builder.WriteString("\r\n")
		builder.WriteString(arg)
		builder.WriteString("\r\n")
	}
	_, err := io.WriteString(conn, builder.String())
	return err
}

func readRESPValue(r *bufio.Reader) (interface{}, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	switch prefix {
	case '+':
		return readRESPLine(r)
	case '-':
		line, err := readRESPLine(r)
		if err != nil {
			return nil, err
		}
		return nil, errors.New(line)
	case ':':
		line, err := readRESPLine(r)
		if err != nil {
			return nil, err
		}
		return strconv.ParseInt(line, 10, 64)
	case '$':
		line, err := readRESPLine(r)
		if err != nil {
			return nil, err
		}
		length, err := strconv.Atoi(line)
		if err != nil {
			return nil, err
		}
		if length < 0 {
			return nil, nil
		}
		buf := make([]byte, length+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		if buf[length] != '\r' || buf[length+1] != '\n' {
			return nil, errors.New("redis: malformed bulk string terminator")
		}
		return buf[:length], nil
	case '*':
		line, err := readRESPLine(r)
		if err != nil {
			return nil, err
		}
		count, err := strconv.Atoi(line)
		if err != nil {
			return nil, err
		}
		if count < 0 {
			return nil, nil
		}
		items := make([]interface{}, count)
		for i := range items {
			item, err := readRESPValue(r)
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		return items, nil
	default:
		return nil, fmt.Errorf("redis: unexpected reply prefix %q", prefix)
	}
}

func readRESPLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"), nil
}

func millisArg(duration time.Duration) string {
	if duration <= 0 {
		return "0"
	}
	return strconv.FormatInt(duration.Milliseconds(), 10)
}
