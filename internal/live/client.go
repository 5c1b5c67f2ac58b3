// Package live implements paper-market ingestion: a hand-rolled RFC-6455
// WebSocket client for public ticker/trade/kline streams, the reader-task to
// consumer-channel handoff mandated by the concurrency model, and the paper
// trading ledger that consumes the decoded events.
//
// The client is intentionally built on net/crypto/tls rather than
// gorilla/websocket: the spec's testable properties require byte-level frame
// parsing (FIN bit, opcode, mask, 7/16/64-bit extended length) and
// client-side masking of outbound frames, which a framing library would hide
// behind its own abstraction. internal/live.StatusFeed, the local read-only
// fan-out server in this same package, has no such constraint and does use
// gorilla/websocket — see status_feed.go.
package live

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // RFC 6455 mandates SHA-1 for Sec-WebSocket-Accept
	"crypto/tls"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/quantloop/enginecore/internal/engineerr"
)

// Opcodes as defined by RFC 6455 section 5.2.
const (
	opContinuation = 0x0
	opText         = 0x1
	opBinary       = 0x2
	opClose        = 0x8
	opPing         = 0x9
	opPong         = 0xA
)

const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// frame is one parsed RFC-6455 frame.
type frame struct {
	fin     bool
	opcode  byte
	payload []byte
}

// TickerUpdate is a decoded 24hrTicker event.
type TickerUpdate struct {
	Symbol             string
	LastPrice          float64
	PriceChange        float64
	PriceChangePercent float64
	HighPrice          float64
	LowPrice           float64
	Volume             float64
	QuoteVolume        float64
	Timestamp          int64
}

// TradeUpdate is a decoded trade event.
type TradeUpdate struct {
	Symbol       string
	TradeID      int64
	Price        float64
	Quantity     float64
	Timestamp    int64
	IsBuyerMaker bool
}

// KlineUpdate is a decoded kline event.
type KlineUpdate struct {
	Symbol    string
	Interval  string
	OpenTime  int64
	CloseTime int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	IsClosed  bool
}

// Event is whatever decoded update the reader handed off this tick. Exactly
// one of the three fields is non-nil.
type Event struct {
	Ticker *TickerUpdate
	Trade  *TradeUpdate
	Kline  *KlineUpdate
}

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type eventTypeOnly struct {
	EventType string `json:"e"`
}

// LiveMarketClient maintains one WebSocket connection to a combined-stream
// endpoint and decodes/dispatches ticker, trade, and kline events.
//
// Per spec §5's concurrency model, the reader task that owns the socket
// NEVER invokes a callback into consumer state directly. It posts decoded
// Events onto Events(), a buffered channel (capacity 4096) the consumer
// drains on its own goroutine.
type LiveMarketClient struct {
	conn   net.Conn
	writer *bufio.Writer
	reader *bufio.Reader

	writeMu sync.Mutex // serializes outbound frames: subscribe msgs vs. auto-PONG

	events     chan Event
	errs       chan error
	stopped    atomic.Bool
	readerDone chan struct{}
}

// Dial connects to wsURL (wss://host:port/stream?streams=...), performs the
// RFC-6455 handshake, and spawns the background reader task. wsURL's scheme
// must be "wss" (TLS, default port 443) or "ws" (plain TCP, default port 80).
func Dial(ctx context.Context, wsURL string) (*LiveMarketClient, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse websocket url: %v", engineerr.ErrWebSocketError, err)
	}
	if u.Scheme != "wss" && u.Scheme != "ws" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", engineerr.ErrWebSocketError, u.Scheme)
	}

	host := u.Host
	if !strings.Contains(host, ":") {
		if u.Scheme == "wss" {
			host += ":443"
		} else {
			host += ":80"
		}
	}

	var conn net.Conn
	dialer := &net.Dialer{}
	if u.Scheme == "wss" {
		conn, err = tls.DialWithDialer(dialer, "tcp", host, &tls.Config{ServerName: u.Hostname()})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", host)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", engineerr.ErrWebSocketError, host, err)
	}

	c := &LiveMarketClient{
		conn:       conn,
		writer:     bufio.NewWriter(conn),
		reader:     bufio.NewReader(conn),
		// Large buffer approximates the spec's "reference behavior is
		// unbounded queue" backpressure choice without an unlimited
		// allocation; dispatch blocks the reader rather than drop once full.
		events:     make(chan Event, 4096),
		errs:       make(chan error, 1),
		readerDone: make(chan struct{}),
	}

	if err := c.handshake(u); err != nil {
		conn.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

// handshake performs the RFC-6455 client handshake and requires a 101
// Switching Protocols response.
func (c *LiveMarketClient) handshake(u *url.URL) error {
	keyBytes := make([]byte, 16)
	if _, err := rand.Read(keyBytes); err != nil {
		return fmt.Errorf("%w: generate Sec-WebSocket-Key: %v", engineerr.ErrWebSocketError, err)
	}
	key := base64.StdEncoding.EncodeToString(keyBytes)

	path := u.Path
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	if path == "" {
		path = "/"
	}

	req := "GET " + path + " HTTP/1.1\r\n" +
		"Host: " + u.Host + "\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + key + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"

	if _, err := c.writer.WriteString(req); err != nil {
		return fmt.Errorf("%w: send handshake: %v", engineerr.ErrWebSocketError, err)
	}
	if err := c.writer.Flush(); err != nil {
		return fmt.Errorf("%w: flush handshake: %v", engineerr.ErrWebSocketError, err)
	}

	resp, err := http.ReadResponse(c.reader, &http.Request{Method: "GET"})
	if err != nil {
		return fmt.Errorf("%w: read handshake response: %v", engineerr.ErrWebSocketError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		return fmt.Errorf("%w: handshake status %d, want 101", engineerr.ErrWebSocketError, resp.StatusCode)
	}

	expectedAccept := computeAcceptKey(key)
	if resp.Header.Get("Sec-WebSocket-Accept") != expectedAccept {
		return fmt.Errorf("%w: Sec-WebSocket-Accept mismatch", engineerr.ErrWebSocketError)
	}
	return nil
}

func computeAcceptKey(key string) string {
	h := sha1.New() //nolint:gosec // RFC 6455 mandates SHA-1 here
	h.Write([]byte(key + websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Events returns the channel the consumer drains decoded updates from. The
// reader task is the only writer; it never blocks the consumer's own
// goroutine and never calls back into consumer state.
func (c *LiveMarketClient) Events() <-chan Event {
	return c.events
}

// Errs surfaces connection-lost/bad-handshake errors (spec §7
// WebSocketError), one per terminal failure, for the main context to decide
// whether to reconnect.
func (c *LiveMarketClient) Errs() <-chan error {
	return c.errs
}

// readLoop is the background reader task (spec §5 context 3). It blocks on
// socket reads, parses frames, and either replies automatically (PONG) or
// hands a decoded event to the consumer channel. It never mutates any state
// owned by the consumer directly.
func (c *LiveMarketClient) readLoop() {
	defer close(c.readerDone)
	defer c.conn.Close()

	for {
		f, err := c.readFrame()
		if err != nil {
			if !c.stopped.Load() {
				select {
				case c.errs <- fmt.Errorf("%w: %v", engineerr.ErrWebSocketError, err):
				default:
				}
			}
			return
		}

		switch f.opcode {
		case opText:
			c.dispatch(f.payload)
		case opClose:
			c.stopped.Store(true)
			return
		case opPing:
			if err := c.writeFrame(opPong, f.payload); err != nil {
				return
			}
		case opBinary, opContinuation, opPong:
			// Ignorable per spec §4.7.
		}
	}
}

// readFrame parses one RFC-6455 frame off the wire: FIN bit, opcode, mask
// bit, and the 7/16/64-bit extended payload-length forms.
func (c *LiveMarketClient) readFrame() (frame, error) {
	header := make([]byte, 2)
	if _, err := io.ReadFull(c.reader, header); err != nil {
		return frame{}, err
	}

	fin := header[0]&0x80 != 0
	opcode := header[0] & 0x0F
	masked := header[1]&0x80 != 0
	payloadLen := int64(header[1] & 0x7F)

	switch payloadLen {
	case 126:
		ext := make([]byte, 2)
		if _, err := io.ReadFull(c.reader, ext); err != nil {
			return frame{}, err
		}
		payloadLen = int64(binary.BigEndian.Uint16(ext))
	case 127:
		ext := make([]byte, 8)
		if _, err := io.ReadFull(c.reader, ext); err != nil {
			return frame{}, err
		}
		payloadLen = int64(binary.BigEndian.Uint64(ext))
	}

	var maskKey [4]byte
	if masked {
		if _, err := io.ReadFull(c.reader, maskKey[:]); err != nil {
			return frame{}, err
		}
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(c.reader, payload); err != nil {
		return frame{}, err
	}
	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i%4]
		}
	}

	return frame{fin: fin, opcode: opcode, payload: payload}, nil
}

// writeFrame writes one masked client frame under the write mutex, so an
// automatic PONG from the reader task and an outbound subscribe message from
// the main context never interleave bytes.
func (c *LiveMarketClient) writeFrame(opcode byte, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var header []byte
	first := byte(0x80) | opcode // FIN=1

	n := len(payload)
	switch {
	case n <= 125:
		header = []byte{first, 0x80 | byte(n)}
	case n <= 0xFFFF:
		header = make([]byte, 4)
		header[0] = first
		header[1] = 0x80 | 126
		binary.BigEndian.PutUint16(header[2:], uint16(n))
	default:
		header = make([]byte, 10)
		header[0] = first
		header[1] = 0x80 | 127
		binary.BigEndian.PutUint64(header[2:], uint64(n))
	}

	var maskKey [4]byte
	if _, err := rand.Read(maskKey[:]); err != nil {
		return fmt.Errorf("generate mask key: %w", err)
	}

	masked := make([]byte, n)
	for i, b := range payload {
		masked[i] = b ^ maskKey[i%4]
	}

	if _, err := c.writer.Write(header); err != nil {
		return err
	}
	if _, err := c.writer.Write(maskKey[:]); err != nil {
		return err
	}
	if _, err := c.writer.Write(masked); err != nil {
		return err
	}
	return c.writer.Flush()
}

// Subscribe sends a combined-stream SUBSCRIBE control message. The client
// has no unsubscribe call; dropping streams from the server-side
// subscription set means reconnecting with a new URL.
func (c *LiveMarketClient) Subscribe(streams []string, id int64) error {
	msg := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     id,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}
	return c.writeFrame(opText, payload)
}

// dispatch decodes one TEXT payload's envelope and event, and posts the
// resulting Event to the consumer channel. If the channel is saturated this
// blocks the reader task (spec §4.7's documented backpressure choice:
// reference behavior is an unbounded queue, approximated here by a large
// buffer rather than dropping events).
func (c *LiveMarketClient) dispatch(payload []byte) {
	var env streamEnvelope
	data := payload
	if err := json.Unmarshal(payload, &env); err == nil && len(env.Data) > 0 {
		data = env.Data
	}

	var kind eventTypeOnly
	if err := json.Unmarshal(data, &kind); err != nil {
		log.Warn().Err(err).Msg("live: malformed stream payload")
		return
	}

	var evt Event
	switch kind.EventType {
	case "24hrTicker":
		t, err := decodeTicker(data)
		if err != nil {
			log.Warn().Err(err).Msg("live: decode ticker")
			return
		}
		evt.Ticker = t
	case "trade":
		t, err := decodeTrade(data)
		if err != nil {
			log.Warn().Err(err).Msg("live: decode trade")
			return
		}
		evt.Trade = t
	case "kline":
		k, err := decodeKline(data)
		if err != nil {
			log.Warn().Err(err).Msg("live: decode kline")
			return
		}
		evt.Kline = k
	default:
		return
	}

	select {
	case c.events <- evt:
	case <-c.readerDone:
	}
}

type rawTicker struct {
	Symbol             string `json:"s"`
	LastPrice          string `json:"c"`
	PriceChange        string `json:"p"`
	PriceChangePercent string `json:"P"`
	HighPrice          string `json:"h"`
	LowPrice           string `json:"l"`
	Volume             string `json:"v"`
	QuoteVolume        string `json:"q"`
	EventTime          int64  `json:"E"`
}

func decodeTicker(data []byte) (*TickerUpdate, error) {
	var r rawTicker
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &TickerUpdate{
		Symbol:             strings.ToLower(r.Symbol),
		LastPrice:          parseFloatOrZero(r.LastPrice),
		PriceChange:        parseFloatOrZero(r.PriceChange),
		PriceChangePercent: parseFloatOrZero(r.PriceChangePercent),
		HighPrice:          parseFloatOrZero(r.HighPrice),
		LowPrice:           parseFloatOrZero(r.LowPrice),
		Volume:             parseFloatOrZero(r.Volume),
		QuoteVolume:        parseFloatOrZero(r.QuoteVolume),
		Timestamp:          r.EventTime,
	}, nil
}

type rawTrade struct {
	Symbol       string `json:"s"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

func decodeTrade(data []byte) (*TradeUpdate, error) {
	var r rawTrade
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &TradeUpdate{
		Symbol:       strings.ToLower(r.Symbol),
		TradeID:      r.TradeID,
		Price:        parseFloatOrZero(r.Price),
		Quantity:     parseFloatOrZero(r.Quantity),
		Timestamp:    r.TradeTime,
		IsBuyerMaker: r.IsBuyerMaker,
	}, nil
}

type rawKline struct {
	Symbol string `json:"s"`
	Kline  struct {
		Interval  string `json:"i"`
		OpenTime  int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Close     string `json:"c"`
		Volume    string `json:"v"`
		IsClosed  bool   `json:"x"`
	} `json:"k"`
}

func decodeKline(data []byte) (*KlineUpdate, error) {
	var r rawKline
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &KlineUpdate{
		Symbol:    strings.ToLower(r.Symbol),
		Interval:  r.Kline.Interval,
		OpenTime:  r.Kline.OpenTime,
		CloseTime: r.Kline.CloseTime,
		Open:      parseFloatOrZero(r.Kline.Open),
		High:      parseFloatOrZero(r.Kline.High),
		Low:       parseFloatOrZero(r.Kline.Low),
		Close:     parseFloatOrZero(r.Kline.Close),
		Volume:    parseFloatOrZero(r.Kline.Volume),
		IsClosed:  r.Kline.IsClosed,
	}, nil
}

func parseFloatOrZero(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// Disconnect idempotently tears down the connection: it sets the stop flag,
// sends a CLOSE frame best-effort, and joins the reader task. Multiple calls
// are safe.
func (c *LiveMarketClient) Disconnect() {
	if !c.stopped.CompareAndSwap(false, true) {
		<-c.readerDone
		return
	}
	_ = c.writeFrame(opClose, nil)
	c.conn.Close()
	<-c.readerDone
}
