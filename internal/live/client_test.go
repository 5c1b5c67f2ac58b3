package live

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeServer is a minimal RFC-6455 server used only to exercise
// LiveMarketClient's handshake and frame handling from the other end of the
// wire, without depending on a real exchange.
type fakeServer struct {
	listener net.Listener
	conn     net.Conn
	reader   *bufio.Reader
	writer   *bufio.Writer
}

func startFakeServer(t *testing.T) (*fakeServer, string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	fs := &fakeServer{listener: ln}
	accepted := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		fs.conn = conn
		fs.reader = bufio.NewReader(conn)
		fs.writer = bufio.NewWriter(conn)
		close(accepted)
	}()

	url := fmt.Sprintf("ws://%s/stream?streams=btcusdt@ticker", ln.Addr().String())

	t.Cleanup(func() {
		ln.Close()
		if fs.conn != nil {
			fs.conn.Close()
		}
	})

	return fs, url
}

// acceptHandshake waits for the client's TCP connection, reads its HTTP
// upgrade request, and replies with a valid 101 Switching Protocols
// response. It must run in its own goroutine concurrently with the Dial
// call, since Dial blocks until the handshake response arrives.
func (fs *fakeServer) acceptHandshake(t *testing.T) {
	t.Helper()
	for fs.conn == nil {
		time.Sleep(time.Millisecond)
	}

	req, err := http.ReadRequest(fs.reader)
	require.NoError(t, err)
	key := req.Header.Get("Sec-WebSocket-Key")
	require.NotEmpty(t, key)

	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + computeAcceptKey(key) + "\r\n\r\n"
	_, err = fs.writer.WriteString(resp)
	require.NoError(t, err)
	require.NoError(t, fs.writer.Flush())
}

// dialWithHandshake runs the fake server's handshake concurrently with
// Dial, since the server side only has a connection to read from once the
// client starts dialing.
func dialWithHandshake(t *testing.T, fs *fakeServer, url string) *LiveMarketClient {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fs.acceptHandshake(t)
	}()

	client, err := Dial(context.Background(), url)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fake server handshake did not complete")
	}
	return client
}

// writeServerFrame writes one unmasked server->client frame (server frames
// are expected unmasked per spec §4.7).
func (fs *fakeServer) writeServerFrame(opcode byte, payload []byte) error {
	n := len(payload)
	first := byte(0x80) | opcode
	var header []byte
	switch {
	case n <= 125:
		header = []byte{first, byte(n)}
	case n <= 0xFFFF:
		header = make([]byte, 4)
		header[0] = first
		header[1] = 126
		binary.BigEndian.PutUint16(header[2:], uint16(n))
	default:
		header = make([]byte, 10)
		header[0] = first
		header[1] = 127
		binary.BigEndian.PutUint64(header[2:], uint64(n))
	}
	if _, err := fs.writer.Write(header); err != nil {
		return err
	}
	if _, err := fs.writer.Write(payload); err != nil {
		return err
	}
	return fs.writer.Flush()
}

// readClientFrame reads one client->server frame and unmasks it, verifying
// the mask bit was set (client frames MUST be masked).
func (fs *fakeServer) readClientFrame(t *testing.T) frame {
	t.Helper()
	header := make([]byte, 2)
	_, err := io.ReadFull(fs.reader, header)
	require.NoError(t, err)

	fin := header[0]&0x80 != 0
	opcode := header[0] & 0x0F
	masked := header[1]&0x80 != 0
	require.True(t, masked, "client frames must be masked")
	length := int64(header[1] & 0x7F)

	switch length {
	case 126:
		ext := make([]byte, 2)
		_, err := io.ReadFull(fs.reader, ext)
		require.NoError(t, err)
		length = int64(binary.BigEndian.Uint16(ext))
	case 127:
		ext := make([]byte, 8)
		_, err := io.ReadFull(fs.reader, ext)
		require.NoError(t, err)
		length = int64(binary.BigEndian.Uint64(ext))
	}

	var maskKey [4]byte
	_, err = io.ReadFull(fs.reader, maskKey[:])
	require.NoError(t, err)

	payload := make([]byte, length)
	_, err = io.ReadFull(fs.reader, payload)
	require.NoError(t, err)
	for i := range payload {
		payload[i] ^= maskKey[i%4]
	}

	return frame{fin: fin, opcode: opcode, payload: payload}
}

func TestLiveMarketClient_HandshakeAndTickerDispatch(t *testing.T) {
	fs, url := startFakeServer(t)
	client := dialWithHandshake(t, fs, url)
	defer client.Disconnect()

	tickerJSON := `{"stream":"btcusdt@ticker","data":{"e":"24hrTicker","s":"BTCUSDT","c":"50000.5","p":"100.0","P":"0.2","h":"51000","l":"49000","v":"1234.5","q":"987654.3","E":1700000000000}}`
	require.NoError(t, fs.writeServerFrame(opText, []byte(tickerJSON)))

	select {
	case evt := <-client.Events():
		require.NotNil(t, evt.Ticker)
		require.Equal(t, "btcusdt", evt.Ticker.Symbol)
		require.Equal(t, 50000.5, evt.Ticker.LastPrice)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ticker event")
	}
}

func TestLiveMarketClient_TradeDispatch(t *testing.T) {
	fs, url := startFakeServer(t)
	client := dialWithHandshake(t, fs, url)
	defer client.Disconnect()

	tradeJSON := `{"e":"trade","s":"ETHUSDT","t":12345,"p":"3000.25","q":"0.5","T":1700000001000,"m":true}`
	require.NoError(t, fs.writeServerFrame(opText, []byte(tradeJSON)))

	select {
	case evt := <-client.Events():
		require.NotNil(t, evt.Trade)
		require.Equal(t, "ethusdt", evt.Trade.Symbol)
		require.Equal(t, int64(12345), evt.Trade.TradeID)
		require.True(t, evt.Trade.IsBuyerMaker)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for trade event")
	}
}

func TestLiveMarketClient_KlineDispatch(t *testing.T) {
	fs, url := startFakeServer(t)
	client := dialWithHandshake(t, fs, url)
	defer client.Disconnect()

	klineJSON := `{"e":"kline","s":"BTCUSDT","k":{"t":1700000000000,"T":1700000059999,"i":"1m","o":"100","h":"110","l":"95","c":"105","v":"12.5","x":true}}`
	require.NoError(t, fs.writeServerFrame(opText, []byte(klineJSON)))

	select {
	case evt := <-client.Events():
		require.NotNil(t, evt.Kline)
		require.Equal(t, "btcusdt", evt.Kline.Symbol)
		require.Equal(t, "1m", evt.Kline.Interval)
		require.True(t, evt.Kline.IsClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for kline event")
	}
}

func TestLiveMarketClient_RepliesPongToPing(t *testing.T) {
	fs, url := startFakeServer(t)
	client := dialWithHandshake(t, fs, url)
	defer client.Disconnect()

	require.NoError(t, fs.writeServerFrame(opPing, []byte("keepalive")))

	fs.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	f := fs.readClientFrame(t)
	require.Equal(t, byte(opPong), f.opcode)
	require.Equal(t, []byte("keepalive"), f.payload)
}

func TestLiveMarketClient_CloseFrameEndsReader(t *testing.T) {
	fs, url := startFakeServer(t)
	client := dialWithHandshake(t, fs, url)

	require.NoError(t, fs.writeServerFrame(opClose, nil))

	select {
	case <-client.readerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("reader task did not exit after CLOSE frame")
	}
}

func TestLiveMarketClient_SubscribeSendsMaskedFrame(t *testing.T) {
	fs, url := startFakeServer(t)
	client := dialWithHandshake(t, fs, url)
	defer client.Disconnect()

	require.NoError(t, client.Subscribe([]string{"btcusdt@ticker"}, 1))

	fs.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	f := fs.readClientFrame(t)
	require.Equal(t, byte(opText), f.opcode)
	require.Contains(t, string(f.payload), "SUBSCRIBE")
}

func TestLiveMarketClient_DisconnectIsIdempotent(t *testing.T) {
	fs, url := startFakeServer(t)
	client := dialWithHandshake(t, fs, url)

	client.Disconnect()
	client.Disconnect() // must not block or panic
}
