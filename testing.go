package quill

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pthm/quill/lib/envelope"
)

// pipeBuffer is the number of messages each direction of a Pipe queues
// before Write blocks.
const pipeBuffer = 64

type pipeEnd struct {
	in   <-chan []byte
	out  chan<- []byte
	done chan struct{}
	once *sync.Once
}

// Pipe returns the two ends of an in-memory Conn. Closing either end closes
// both; messages already queued can still be read, after which Read
// returns io.EOF.
func Pipe() (Conn, Conn) {
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	done := make(chan struct{})
	once := new(sync.Once)
	return &pipeEnd{in: ba, out: ab, done: done, once: once},
		&pipeEnd{in: ab, out: ba, done: done, once: once}
}

func (p *pipeEnd) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-p.in:
		return data, nil
	case <-p.done:
		select {
		case data := <-p.in:
			return data, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeEnd) Write(ctx context.Context, data []byte) error {
	select {
	case <-p.done:
		return io.ErrClosedPipe
	default:
	}
	select {
	case p.out <- append([]byte(nil), data...):
		return nil
	case <-p.done:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

// TestNode is a decoded render tree node as a client sees it. Text
// children of an element appear as nodes with an empty Tag.
type TestNode struct {
	Tag        string
	Attributes map[string]string
	Text       *string
	Key        string
	Children   []*TestNode
}

// ServerMessage is a decoded server payload.
type ServerMessage struct {
	Action  string
	Path    string
	URL     string
	Content []*TestNode
}

// Root returns the page tree of a render_page message, skipping the style
// node.
func (m *ServerMessage) Root() *TestNode {
	for _, n := range m.Content {
		if n.Tag == "style" && n.Attributes["id"] == StyleNodeID {
			continue
		}
		return n
	}
	return nil
}

// Styles returns the style node, or nil when none was sent.
func (m *ServerMessage) Styles() *TestNode {
	for _, n := range m.Content {
		if n.Tag == "style" && n.Attributes["id"] == StyleNodeID {
			return n
		}
	}
	return nil
}

// Find returns the first node, depth first, for which match is true.
func (n *TestNode) Find(match func(*TestNode) bool) *TestNode {
	if n == nil {
		return nil
	}
	if match(n) {
		return n
	}
	for _, c := range n.Children {
		if found := c.Find(match); found != nil {
			return found
		}
	}
	return nil
}

// FindKey returns the node rendered for a keyed component.
func (n *TestNode) FindKey(key string) *TestNode {
	return n.Find(func(c *TestNode) bool { return c.Key == key })
}

// FindTag returns the first element with the given tag.
func (n *TestNode) FindTag(tag string) *TestNode {
	return n.Find(func(c *TestNode) bool { return c.Tag == tag })
}

// FindText returns the first element whose own text equals text.
func (n *TestNode) FindText(text string) *TestNode {
	return n.Find(func(c *TestNode) bool { return c.Tag != "" && c.Text != nil && *c.Text == text })
}

// Handler returns the callback id bound to event, or "".
func (n *TestNode) Handler(event string) string {
	if n == nil {
		return ""
	}
	return n.Attributes["on"+strings.ToLower(event)]
}

// HasClass reports whether the class attribute lists name.
func (n *TestNode) HasClass(name string) bool {
	if n == nil {
		return false
	}
	for _, c := range strings.Fields(n.Attributes["class"]) {
		if c == name {
			return true
		}
	}
	return false
}

// InnerText concatenates the text of n and its descendants.
func (n *TestNode) InnerText() string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	n.writeText(&sb)
	return sb.String()
}

func (n *TestNode) writeText(sb *strings.Builder) {
	if n.Text != nil {
		sb.WriteString(*n.Text)
	}
	for _, c := range n.Children {
		c.writeText(sb)
	}
}

// TestClient drives a session in memory, speaking the same encrypted
// protocol as the browser runtime:
//
//	c, err := quill.NewTestClient(ctx, app, "/")
//	msg, err := c.Next(ctx)
//	btn := msg.Root().FindText("+")
//	err = c.Callback(ctx, btn.Handler("click"))
//	msg, err = c.Next(ctx)
type TestClient struct {
	conn Conn
	env  *envelope.Client
	done chan struct{}
	err  error
}

// NewTestClient connects to app, performs the key exchange and leaves the
// session showing path. The first render is available from Next.
func NewTestClient(ctx context.Context, app *App, path string) (*TestClient, error) {
	client, server := Pipe()

	opts := []envelope.Option{envelope.WithCodec(app.codec)}
	if app.derive != nil {
		opts = append(opts, envelope.WithKeyDerivation(app.derive))
	}
	env, err := envelope.NewClient(opts...)
	if err != nil {
		return nil, err
	}

	c := &TestClient{conn: client, env: env, done: make(chan struct{})}
	go func() {
		c.err = app.ServeConn(ctx, server, path)
		close(c.done)
	}()

	if err := c.writeFrame(ctx, env.Hello()); err != nil {
		return nil, err
	}
	f, err := c.readFrame(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("quill: handshake: %w", err)
	}
	if err := env.Accept(f); err != nil {
		client.Close()
		return nil, fmt.Errorf("quill: handshake: %w", err)
	}
	return c, nil
}

// Next waits for the next server message.
func (c *TestClient) Next(ctx context.Context) (*ServerMessage, error) {
	f, err := c.readFrame(ctx)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := c.env.Open(f, &raw); err != nil {
		return nil, err
	}
	msg := &ServerMessage{
		Action: stringOf(raw["action"]),
		Path:   stringOf(raw["path"]),
		URL:    stringOf(raw["url"]),
	}
	if content, ok := raw["content"].([]any); ok {
		for _, v := range content {
			if n := decodeTestNode(v); n != nil {
				msg.Content = append(msg.Content, n)
			}
		}
	}
	return msg, nil
}

// Send seals payload and writes it.
func (c *TestClient) Send(ctx context.Context, payload any) error {
	f, err := c.env.Seal(payload)
	if err != nil {
		return err
	}
	return c.writeFrame(ctx, f)
}

// SendRaw writes data as-is, bypassing the envelope.
func (c *TestClient) SendRaw(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, data)
}

// Callback fires the callback with id.
func (c *TestClient) Callback(ctx context.Context, id string) error {
	return c.Send(ctx, clientMessage{Action: ActionCallback, ID: id})
}

// EventCallback fires the callback with id carrying data. The browser
// sends data as a JSON string; a map is sent as-is.
func (c *TestClient) EventCallback(ctx context.Context, id string, data any) error {
	return c.Send(ctx, clientMessage{Action: ActionEventCallback, ID: id, EventData: data})
}

// Navigate asks the server to show path.
func (c *TestClient) Navigate(ctx context.Context, path string) error {
	return c.Send(ctx, clientMessage{Action: ActionNavigate, Path: path})
}

// ReportError sends a client_error message.
func (c *TestClient) ReportError(ctx context.Context, text string) error {
	return c.Send(ctx, clientMessage{Action: ActionClientError, Error: text})
}

// Close disconnects and returns what ServeConn returned.
func (c *TestClient) Close() error {
	c.conn.Close()
	<-c.done
	return c.err
}

// Done is closed once the session has ended.
func (c *TestClient) Done() <-chan struct{} {
	return c.done
}

// Err returns what ServeConn returned. It is only meaningful after Done.
func (c *TestClient) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *TestClient) writeFrame(ctx context.Context, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, data)
}

func (c *TestClient) readFrame(ctx context.Context) (Frame, error) {
	var f Frame
	data, err := c.conn.Read(ctx)
	if err != nil {
		return f, err
	}
	err = json.Unmarshal(data, &f)
	return f, err
}

func decodeTestNode(v any) *TestNode {
	switch n := v.(type) {
	case string:
		return &TestNode{Text: &n}
	case map[string]any:
		t := &TestNode{
			Tag:        stringOf(n["tag"]),
			Key:        stringOf(n["key"]),
			Attributes: make(map[string]string),
		}
		if s, ok := n["text"].(string); ok {
			t.Text = &s
		}
		if attrs, ok := n["attributes"].(map[string]any); ok {
			for k, v := range attrs {
				t.Attributes[k] = stringOf(v)
			}
		}
		if children, ok := n["children"].([]any); ok {
			for _, c := range children {
				if child := decodeTestNode(c); child != nil {
					t.Children = append(t.Children, child)
				}
			}
		}
		return t
	}
	return nil
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}
