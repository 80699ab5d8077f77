// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

// DefaultMaxFrameSize bounds a single ZAP frame.
const DefaultMaxFrameSize = 64 * 1024 * 1024

const (
	frameHeaderLen = 4 + 1 + 4
	writeTimeout   = 30 * time.Second
)

var ErrFrameTooLarge = fmt.Errorf("%w: frame too large", ErrTransport)

// MessageType identifies ZAP message types
type MessageType uint8

const (
	MsgRequest  MessageType = 0x01
	MsgResponse MessageType = 0x02
)

// writeFrame encodes [4 len][1 type][4 reqID][body]. len counts everything
// after itself.
func writeFrame(w io.Writer, typ MessageType, id uint32, body []byte, maxSize int) error {
	msgLen := 1 + 4 + len(body)
	if msgLen > maxSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, msgLen)
	}
	buf := make([]byte, 4+msgLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(msgLen))
	buf[4] = byte(typ)
	binary.BigEndian.PutUint32(buf[5:9], id)
	copy(buf[frameHeaderLen:], body)
	_, err := w.Write(buf)
	return err
}

// readFrame returns io.EOF only when the peer closed between frames.
func readFrame(r io.Reader, maxSize int) (MessageType, uint32, []byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, 0, nil, err
	}
	msgLen := binary.BigEndian.Uint32(header[:])
	if msgLen < 5 {
		return 0, 0, nil, fmt.Errorf("%w: short frame of %d bytes", ErrTransport, msgLen)
	}
	if uint64(msgLen) > uint64(maxSize) {
		return 0, 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, msgLen)
	}
	msg := make([]byte, msgLen)
	if _, err := io.ReadFull(r, msg); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, 0, nil, err
	}
	return MessageType(msg[0]), binary.BigEndian.Uint32(msg[1:5]), msg[5:], nil
}

// ZAPConn is the client side of a ZAP connection. Calls may be issued
// concurrently; responses are paired to requests by id.
type ZAPConn struct {
	conn     net.Conn
	maxFrame int
	writeMu  sync.Mutex
	pending  sync.Map // requestID -> chan []byte
	nextID   atomic.Uint32
	closed   atomic.Bool
	readDone chan struct{}
	readErr  error // set before readDone is closed
}

// ZAPDial connects to a ZAP server
func ZAPDial(ctx context.Context, addr string, maxFrameSize int) (*ZAPConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("zap dial: %w", err)
	}
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}

	zc := &ZAPConn{
		conn:     conn,
		maxFrame: maxFrameSize,
		readDone: make(chan struct{}),
	}
	go zc.readLoop()
	return zc, nil
}

// Call sends one request body and waits for the matching response body.
func (z *ZAPConn) Call(ctx context.Context, body []byte) ([]byte, error) {
	if z.closed.Load() {
		return nil, ErrClosed
	}

	requestID := z.nextID.Add(1)
	respCh := make(chan []byte, 1)
	z.pending.Store(requestID, respCh)
	defer z.pending.Delete(requestID)

	z.writeMu.Lock()
	_ = z.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := writeFrame(z.conn, MsgRequest, requestID, body, z.maxFrame)
	z.writeMu.Unlock()
	if err != nil {
		if errors.Is(err, ErrTransport) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: zap write: %w", ErrTransport, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-respCh:
		return resp, nil
	case <-z.readDone:
		select {
		case resp := <-respCh:
			return resp, nil
		default:
		}
		if z.closed.Load() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("%w: zap read: %w", ErrTransport, z.readErr)
	}
}

func (z *ZAPConn) readLoop() {
	defer close(z.readDone)
	defer z.conn.Close()

	r := bufio.NewReader(z.conn)
	for {
		msgType, requestID, payload, err := readFrame(r, z.maxFrame)
		if err != nil {
			z.readErr = err
			return
		}
		if msgType != MsgResponse {
			z.readErr = fmt.Errorf("unexpected message type %#x", msgType)
			return
		}
		// ids never issued mean the stream is out of step; ids already
		// abandoned by a cancelled call are dropped
		if requestID == 0 || requestID > z.nextID.Load() {
			z.readErr = fmt.Errorf("response id %d does not match any request", requestID)
			return
		}
		if ch, ok := z.pending.LoadAndDelete(requestID); ok {
			ch.(chan []byte) <- payload
		}
	}
}

// Broken reports whether the read side has stopped.
func (z *ZAPConn) Broken() bool {
	select {
	case <-z.readDone:
		return true
	default:
		return false
	}
}

// Close closes the connection
func (z *ZAPConn) Close() error {
	if z.closed.Swap(true) {
		return nil
	}
	err := z.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// ZAPHandler turns one request body into one response body.
type ZAPHandler interface {
	HandleZAP(ctx context.Context, body []byte) []byte
}

// ZAPHandlerFunc is a function adapter for ZAPHandler
type ZAPHandlerFunc func(ctx context.Context, body []byte) []byte

func (f ZAPHandlerFunc) HandleZAP(ctx context.Context, body []byte) []byte {
	return f(ctx, body)
}

// ZAPServer serves ZAP connections, one goroutine per connection. Requests
// on a connection are handled in order.
type ZAPServer struct {
	listener net.Listener
	handler  ZAPHandler
	maxFrame int

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewZAPServer creates a new ZAP server
func NewZAPServer(listener net.Listener, handler ZAPHandler, maxFrameSize int) *ZAPServer {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ZAPServer{
		listener: listener,
		handler:  handler,
		maxFrame: maxFrameSize,
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections until Close is called or ctx is done.
func (s *ZAPServer) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("zap accept: %w", err)
		}
		if !s.track(conn) {
			_ = conn.Close()
			return nil
		}
		go s.handleConn(conn)
	}
}

func (s *ZAPServer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *ZAPServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *ZAPServer) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
	s.wg.Done()
}

func (s *ZAPServer) handleConn(conn net.Conn) {
	defer s.untrack(conn)
	remote := conn.RemoteAddr().String()
	log.Debug().Str("remote", remote).Msg("zap connection accepted")
	defer log.Debug().Str("remote", remote).Msg("zap connection closed")

	r := bufio.NewReader(conn)
	for {
		msgType, requestID, body, err := readFrame(r, s.maxFrame)
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.isClosed() {
				log.Warn().Err(err).Str("remote", remote).Msg("dropping zap connection")
			}
			return
		}
		if msgType != MsgRequest {
			log.Warn().Str("remote", remote).Uint8("type", uint8(msgType)).Msg("unexpected zap message type")
			return
		}

		resp := s.handler.HandleZAP(s.ctx, body)

		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := writeFrame(conn, MsgResponse, requestID, resp, s.maxFrame); err != nil {
			if errors.Is(err, ErrFrameTooLarge) {
				// the caller still gets an answer
				resp = s.tooLarge(err)
				err = writeFrame(conn, MsgResponse, requestID, resp, s.maxFrame)
			}
			if err != nil {
				log.Warn().Err(err).Str("remote", remote).Msg("cannot write zap response")
				return
			}
		}
	}
}

func (s *ZAPServer) tooLarge(err error) []byte {
	out, _ := wire.Encode(failure(CodeProcedureFailed, fmt.Sprintf("cannot send result: %v", err)))
	return out
}

// Close stops accepting, closes every connection and waits for their
// goroutines. It is safe to call more than once.
func (s *ZAPServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.cancel()
	err := s.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	for _, c := range conns {
		if cerr := c.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	s.wg.Wait()
	return err
}

// Addr returns the listener address
func (s *ZAPServer) Addr() net.Addr {
	return s.listener.Addr()
}
