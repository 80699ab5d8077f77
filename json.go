// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	gorillarpc "github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

const (
	jsonPath    = "/rpc"
	jsonService = "Flat"
	jsonMethod  = jsonService + ".Call"

	readHeaderTimeout = 10 * time.Second
)

func init() {
	registerTransport(TransportJSON, dialJSON, listenJSON)
}

// CleanlyCloseBody drains and closes an HTTP response body to prevent
// HTTP/2 GOAWAY errors caused by closing bodies with unread data.
// See: https://github.com/golang/go/issues/46071
func CleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

// FlatService is the JSON-RPC 2.0 service behind the json transport. Its
// single method takes a request body as params and returns a response body
// as result.
type FlatService struct {
	d *dispatcher
}

func (s *FlatService) Call(r *http.Request, args *json.RawMessage, reply *json.RawMessage) error {
	*reply = s.d.handle(r.Context(), *args)
	return nil
}

func jsonURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr + jsonPath
}

func jsonHost(addr string) string {
	addr = strings.TrimPrefix(strings.TrimPrefix(addr, "http://"), "https://")
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		addr = addr[:i]
	}
	return addr
}

// dialJSON checks that the server accepts TCP connections and returns a
// conn backed by an HTTP client.
func dialJSON(ctx context.Context, addr string, o *dialOptions) (conn, error) {
	var d net.Dialer
	check, err := d.DialContext(ctx, "tcp", jsonHost(addr))
	if err != nil {
		return nil, fmt.Errorf("json dial: %w", err)
	}
	_ = check.Close()

	dialer := &net.Dialer{Timeout: o.connectTimeout}
	return &jsonConn{
		url:            jsonURL(addr),
		maxFrame:       o.maxFrameSize,
		connectTimeout: o.connectTimeout,
		client: &http.Client{
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				MaxIdleConnsPerHost: 1,
			},
		},
	}, nil
}

type jsonConn struct {
	url            string
	maxFrame       int
	connectTimeout time.Duration
	client         *http.Client
}

func (c *jsonConn) roundTrip(ctx context.Context, _ string, body []byte) ([]byte, error) {
	if len(body) > c.maxFrame {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	requestBodyBytes, err := json2.EncodeClientRequest(jsonMethod, json.RawMessage(body))
	if err != nil {
		return nil, fmt.Errorf("failed to encode client params: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var op *net.OpError
		if errors.As(err, &op) && op.Op == "dial" && op.Timeout() {
			return nil, fmt.Errorf("%w: %s after %v: %w", ErrConnectionTimeout, c.url, c.connectTimeout, err)
		}
		return nil, fmt.Errorf("%w: failed to issue request: %w", ErrTransport, err)
	}
	defer CleanlyCloseBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: received status code: %d", ErrTransport, resp.StatusCode)
	}

	var reply json.RawMessage
	if err := json2.DecodeClientResponse(io.LimitReader(resp.Body, int64(c.maxFrame)), &reply); err != nil {
		return nil, fmt.Errorf("%w: failed to decode client response: %w", ErrTransport, err)
	}
	return reply, nil
}

func (c *jsonConn) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// jsonServer serves FlatService over HTTP.
type jsonServer struct {
	*dispatcher
	listener net.Listener
	http     *http.Server
	cancel   context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func listenJSON(addr string, o *serverOptions) (Server, error) {
	d := newDispatcher(o.registry)
	rs := gorillarpc.NewServer()
	rs.RegisterCodec(json2.NewCodec(), "application/json")
	if err := rs.RegisterService(&FlatService{d: d}, jsonService); err != nil {
		return nil, fmt.Errorf("register json service: %w", err)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &jsonServer{
		dispatcher: d,
		listener:   listener,
		cancel:     cancel,
	}
	mux := http.NewServeMux()
	mux.Handle(jsonPath, s.track(http.MaxBytesHandler(rs, int64(o.maxFrameSize))))
	s.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	return s, nil
}

// track counts in-flight requests so Close can wait for them.
func (s *jsonServer) track(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			http.Error(w, ErrClosed.Error(), http.StatusServiceUnavailable)
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()
		defer s.wg.Done()
		h.ServeHTTP(w, r)
	})
}

func (s *jsonServer) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	log.Debug().Str("addr", s.Addr()).Msg("json server listening")
	err := s.http.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *jsonServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	err := s.http.Close()
	if lerr := s.listener.Close(); lerr != nil && !errors.Is(lerr, net.ErrClosed) {
		err = multierr.Append(err, lerr)
	}
	s.wg.Wait()
	return err
}

func (s *jsonServer) Addr() string {
	return s.listener.Addr().String()
}
