package cdp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	json "github.com/json-iterator/go"
)

// mockConn implements the Conn interface for testing.
type mockConn struct {
	mu       sync.Mutex
	readCh   chan []byte // Channel-based message delivery
	written  [][]byte
	writeErr error
	closed   bool
	closeCh  chan struct{}
	hungUp   bool
}

func newMockConn(messages ...[]byte) *mockConn {
	m := &mockConn{
		readCh:  make(chan []byte, len(messages)+10),
		closeCh: make(chan struct{}),
	}
	for _, msg := range messages {
		m.readCh <- msg
	}
	return m
}

func (m *mockConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case msg, ok := <-m.readCh:
		if !ok {
			return 0, nil, errors.New("connection reset by peer")
		}
		return websocket.MessageText, msg, nil
	case <-m.closeCh:
		return 0, nil, errors.New("connection closed")
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (m *mockConn) Write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return m.writeErr
	}
	m.written = append(m.written, append([]byte(nil), data...))
	return nil
}

func (m *mockConn) Close(code websocket.StatusCode, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.closeCh)
	}
	return nil
}

func (m *mockConn) getWritten() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([][]byte, len(m.written))
	copy(result, m.written)
	return result
}

func (m *mockConn) queue(data string) {
	m.readCh <- []byte(data)
}

// hangup simulates the browser dropping the connection.
func (m *mockConn) hangup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hungUp {
		m.hungUp = true
		close(m.readCh)
	}
}

func newTestClient(conn Conn, opts ...Option) *Client {
	return NewClient(NewStreamTransport("ws://test", conn, opts...), opts...)
}

func TestClient_Command_SequentialIDs(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := newTestClient(conn)
	defer client.Close()

	const n = 5
	for i := 1; i <= n; i++ {
		id, err := client.Command("Runtime.enable", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id != int64(i) {
			t.Errorf("expected id %d, got %d", i, id)
		}
	}

	written := conn.getWritten()
	if len(written) != n {
		t.Fatalf("expected %d written messages, got %d", n, len(written))
	}

	var req struct {
		ID     int64           `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(written[0], &req); err != nil {
		t.Fatalf("failed to unmarshal request: %v", err)
	}
	if req.ID != 1 || req.Method != "Runtime.enable" {
		t.Errorf("unexpected request: %+v", req)
	}
	if string(req.Params) != "{}" {
		t.Errorf("expected empty params object, got %s", string(req.Params))
	}
}

func TestClient_Wait_ReturnsResult(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := newTestClient(conn)
	defer client.Close()

	id, err := client.Command("Page.navigate", map[string]string{"url": "http://x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected id 1, got %d", id)
	}

	conn.queue(`{"id":1,"result":{"frameId":"abc"}}`)

	result, err := client.Wait(id, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != `{"frameId":"abc"}` {
		t.Errorf("expected result {\"frameId\":\"abc\"}, got %s", string(result))
	}

	written := conn.getWritten()
	if !bytes.Contains(written[0], []byte(`"url":"http://x"`)) {
		t.Errorf("expected params in request, got %s", string(written[0]))
	}
}

func TestClient_Wait_ReturnsBrowserError(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := newTestClient(conn)
	defer client.Close()

	id, err := client.Command("Page.navigate", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conn.queue(fmt.Sprintf(`{"id":%d,"error":{"code":-32000,"message":"Target closed","data":"extra"}}`, id))

	_, err = client.Wait(id, time.Second)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var browserErr *BrowserError
	if !errors.As(err, &browserErr) {
		t.Fatalf("expected BrowserError, got %T: %v", err, err)
	}
	if browserErr.Code != -32000 {
		t.Errorf("expected error code -32000, got %d", browserErr.Code)
	}
	if browserErr.Message != "Target closed" {
		t.Errorf("expected message 'Target closed', got %s", browserErr.Message)
	}
	if !strings.Contains(string(browserErr.Payload), `"code":-32000`) {
		t.Errorf("expected raw payload to be kept, got %s", string(browserErr.Payload))
	}
}

func TestClient_Wait_TimesOutAfterDeadline(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := newTestClient(conn)
	defer client.Close()

	id, err := client.Command("Page.navigate", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const timeout = 100 * time.Millisecond
	start := time.Now()
	_, err = client.Wait(id, timeout)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed < timeout {
		t.Errorf("wait returned after %v, before the %v timeout", elapsed, timeout)
	}
	if elapsed > timeout+time.Second {
		t.Errorf("wait took %v, far beyond the %v timeout", elapsed, timeout)
	}
}

func TestClient_Wait_DiscardsMismatchedResponse(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := newTestClient(conn)
	defer client.Close()

	id, err := client.Command("Test.method", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	conn.queue(`{"id":9999,"result":{}}`)
	conn.queue(fmt.Sprintf(`{"id":%d,"result":{"success":true}}`, id))

	result, err := client.Wait(id, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != `{"success":true}` {
		t.Errorf("expected success result, got %s", string(result))
	}
}

func TestClient_Wait_DeadBrowserOnHangup(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := newTestClient(conn)
	defer client.Close()

	id, err := client.Command("Page.navigate", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		conn.hangup()
	}()

	_, err = client.Wait(id, 5*time.Second)
	if !errors.Is(err, ErrDeadBrowser) {
		t.Fatalf("expected ErrDeadBrowser, got %v", err)
	}

	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatal("routing loop did not exit")
	}
	if client.State() != StateClosed {
		t.Errorf("expected state closed, got %s", client.State())
	}
	if client.Err() == nil {
		t.Error("expected the read error to be recorded")
	}
}

func TestClient_Wait_DeadBrowserOnClose(t *testing.T) {
	t.Parallel()

	for _, mode := range []Correlation{CorrelationShared, CorrelationKeyed} {
		t.Run(mode.String(), func(t *testing.T) {
			t.Parallel()

			conn := newMockConn()
			client := newTestClient(conn, WithCorrelation(mode))

			id, err := client.Command("Page.navigate", nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			go func() {
				time.Sleep(20 * time.Millisecond)
				client.Close()
			}()

			start := time.Now()
			_, err = client.Wait(id, 5*time.Second)
			if !errors.Is(err, ErrDeadBrowser) {
				t.Fatalf("expected ErrDeadBrowser, got %v", err)
			}
			if elapsed := time.Since(start); elapsed > 2*time.Second {
				t.Errorf("Wait returned %v after Close, expected promptly", elapsed)
			}
		})
	}
}

func TestClient_Subscribe_EventDoesNotConsumeResponse(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := newTestClient(conn)
	defer client.Close()

	var mu sync.Mutex
	var calls []string
	client.Subscribe("Network.requestWillBeSent", func(e Event) {
		mu.Lock()
		calls = append(calls, string(e.Params))
		mu.Unlock()
	})

	id, err := client.Command("Page.navigate", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	conn.queue(`{"method":"Network.requestWillBeSent","params":{"requestId":"r1"}}`)
	conn.queue(fmt.Sprintf(`{"id":%d,"result":{"frameId":"abc"}}`, id))

	result, err := client.Wait(id, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != `{"frameId":"abc"}` {
		t.Errorf("unexpected result %s", string(result))
	}

	// The event is routed before the response, so it has been handled.
	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("expected 1 handler call, got %d", len(calls))
	}
	if calls[0] != `{"requestId":"r1"}` {
		t.Errorf("unexpected params %s", calls[0])
	}
}

func TestClient_Subscribe_HandlersRunInRegistrationOrder(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := newTestClient(conn)
	defer client.Close()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	for i := 1; i <= 3; i++ {
		i := i
		if !client.Subscribe("Page.loadEventFired", func(Event) {
			mu.Lock()
			order = append(order, i)
			if len(order) == 3 {
				close(done)
			}
			mu.Unlock()
		}) {
			t.Fatal("expected Subscribe to return true")
		}
	}

	conn.queue(`{"method":"Page.loadEventFired","params":{"timestamp":123.456}}`)
	conn.queue(`{"method":"Page.frameNavigated","params":{}}`)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for handlers")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, got := range order {
		if got != i+1 {
			t.Errorf("expected handler %d at position %d, got %d", i+1, i, got)
		}
	}
}

func TestClient_Close_Twice(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := newTestClient(conn)

	if err := client.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Error("expected connection to be closed")
	}

	if err := client.Close(); err != nil {
		t.Errorf("double close returned error: %v", err)
	}
	if client.State() != StateClosed {
		t.Errorf("expected state closed, got %s", client.State())
	}

	if _, err := client.Command("Page.navigate", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
}

func TestClient_Command_WriteError(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	conn.writeErr = errors.New("broken pipe")
	client := newTestClient(conn)
	defer client.Close()

	_, err := client.Command("Page.navigate", nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "broken pipe") {
		t.Errorf("expected wrapped write error, got %v", err)
	}
}

func TestClient_Keyed_OutOfOrderResponses(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := newTestClient(conn, WithCorrelation(CorrelationKeyed))
	defer client.Close()

	first, _ := client.Command("First.method", nil)
	second, _ := client.Command("Second.method", nil)

	conn.queue(fmt.Sprintf(`{"id":%d,"result":{"n":2}}`, second))
	conn.queue(fmt.Sprintf(`{"id":%d,"result":{"n":1}}`, first))

	r1, err := client.Wait(first, time.Second)
	if err != nil {
		t.Fatalf("wait first: %v", err)
	}
	r2, err := client.Wait(second, time.Second)
	if err != nil {
		t.Fatalf("wait second: %v", err)
	}
	if string(r1) != `{"n":1}` || string(r2) != `{"n":2}` {
		t.Errorf("responses crossed: first=%s second=%s", r1, r2)
	}
}

func TestClient_Keyed_ConcurrentSends(t *testing.T) {
	t.Parallel()

	const numRequests = 10

	// Use an echo mock that responds to each write with a matching response
	conn := newEchoMockConn()

	client := newTestClient(conn, WithCorrelation(CorrelationKeyed))
	defer client.Close()

	var wg sync.WaitGroup
	errCh := make(chan error, numRequests)

	for i := 0; i < numRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Send("Test.method", nil)
			if err != nil {
				errCh <- err
			}
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent send error: %v", err)
	}
}

func TestClient_Send_CorrelatesResponseByID(t *testing.T) {
	t.Parallel()

	conn := newEchoMockConn()
	conn.result = json.RawMessage(`{"frameId":"ABC123"}`)

	client := newTestClient(conn, WithTimeout(time.Second))
	defer client.Close()

	result, err := client.Send("Page.navigate", map[string]string{"url": "https://example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != `{"frameId":"ABC123"}` {
		t.Errorf("expected result {\"frameId\":\"ABC123\"}, got %s", string(result))
	}
}

func TestClient_Diagnostics_MirrorsRawTraffic(t *testing.T) {
	t.Parallel()

	var buf syncBuffer
	conn := newMockConn()
	client := newTestClient(conn, WithDiagnostics(&buf))
	defer client.Close()

	id, _ := client.Command("Page.reload", nil)
	conn.queue(fmt.Sprintf(`{"id":%d,"result":{}}`, id))
	if _, err := client.Wait(id, time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `>>> {"id":1,"method":"Page.reload","params":{}}`) {
		t.Errorf("outbound message missing from diagnostics: %q", out)
	}
	if !strings.Contains(out, `<<< {"id":1,"result":{}}`) {
		t.Errorf("inbound message missing from diagnostics: %q", out)
	}
}

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// echoMockConn echoes back a response for each written request.
type echoMockConn struct {
	mu        sync.Mutex
	responses chan []byte
	closed    bool
	closeCh   chan struct{}
	result    json.RawMessage // Custom result to return
}

func newEchoMockConn() *echoMockConn {
	return &echoMockConn{
		responses: make(chan []byte, 100),
		closeCh:   make(chan struct{}),
		result:    json.RawMessage(`{"ok":true}`),
	}
}

func (m *echoMockConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case resp := <-m.responses:
		return websocket.MessageText, resp, nil
	case <-m.closeCh:
		return 0, nil, errors.New("connection closed")
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (m *echoMockConn) Write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("connection closed")
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}

	resp := map[string]interface{}{
		"id":     req.ID,
		"result": m.result,
	}
	respData, _ := json.Marshal(resp)
	m.responses <- respData

	return nil
}

func (m *echoMockConn) Close(code websocket.StatusCode, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.closeCh)
	}
	return nil
}

func TestClient_Keyed_EvictsUncollectedResponses(t *testing.T) {
	t.Parallel()

	const retention = 50 * time.Millisecond
	conn := newMockConn()
	client := newTestClient(conn, WithCorrelation(CorrelationKeyed), WithTimeout(retention))
	defer client.Close()

	keyed := client.responses.(*keyedCorrelator)

	// Fire and forget: every command is answered, none is waited on.
	for i := 0; i < 1000; i++ {
		id, err := client.Command("Runtime.evaluate", nil)
		if err != nil {
			t.Fatalf("command %d: %v", i, err)
		}
		conn.queue(fmt.Sprintf(`{"id":%d,"result":{}}`, id))
	}

	// Responses are routed in order, so once this one is collected every
	// earlier response has been delivered.
	last, err := client.Command("Runtime.evaluate", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conn.queue(fmt.Sprintf(`{"id":%d,"result":{}}`, last))
	if _, err := client.Wait(last, time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}

	time.Sleep(2 * retention)

	if _, err := client.Command("Runtime.evaluate", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := keyed.pending(); n > 1 {
		t.Errorf("expected uncollected responses to be evicted, %d slots held", n)
	}
}

func TestClient_Keyed_KeepsPendingCommandsPastRetention(t *testing.T) {
	t.Parallel()

	const retention = 30 * time.Millisecond
	conn := newMockConn()
	client := newTestClient(conn, WithCorrelation(CorrelationKeyed), WithTimeout(retention))
	defer client.Close()

	slow, err := client.Command("Page.navigate", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A later register sweeps, but an unanswered command is never evicted.
	time.Sleep(2 * retention)
	if _, err := client.Command("Runtime.evaluate", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	conn.queue(fmt.Sprintf(`{"id":%d,"result":{"frameId":"F"}}`, slow))
	result, err := client.Wait(slow, time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if string(result) != `{"frameId":"F"}` {
		t.Errorf("unexpected result %s", result)
	}
}
