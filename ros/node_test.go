package ros

import (
	"bytes"
	"encoding/binary"
	"net"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/edwinhayes/pathsave/xmlrpc"
)

type testStringType struct{}

func (testStringType) Text() string        { return "string data\n" }
func (testStringType) MD5Sum() string      { return "992ce8a1687cec8c8bd883ec73ca41d1" }
func (testStringType) Name() string        { return "std_msgs/String" }
func (testStringType) NewMessage() Message { return new(testString) }

type testString struct {
	Data string
}

func (m *testString) Type() MessageType {
	return testStringType{}
}

func (m *testString) Serialize(buf *bytes.Buffer) error {
	binary.Write(buf, binary.LittleEndian, uint32(len(m.Data)))
	buf.WriteString(m.Data)
	return nil
}

func (m *testString) Deserialize(buf *bytes.Reader) error {
	var size uint32
	if err := binary.Read(buf, binary.LittleEndian, &size); err != nil {
		return err
	}
	data := make([]byte, int(size))
	if err := binary.Read(buf, binary.LittleEndian, data); err != nil {
		return err
	}
	m.Data = string(data)
	return nil
}

// fakeMaster answers the master API calls a subscriber makes.
type fakeMaster struct {
	mu           sync.Mutex
	params       map[string]interface{}
	publishers   []string
	subscribed   []string
	unsubscribed []string
	server       *httptest.Server
}

func newFakeMaster(t *testing.T, publishers ...string) *fakeMaster {
	m := &fakeMaster{params: map[string]interface{}{}, publishers: publishers}
	handler := xmlrpc.NewHandler(map[string]xmlrpc.Method{
		"registerSubscriber": func(callerID, topic, topicType, callerAPI string) (interface{}, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.subscribed = append(m.subscribed, topic)
			return buildRosAPIResult(APIStatusSuccess, "Subscribed", m.publishers), nil
		},
		"unregisterSubscriber": func(callerID, topic, callerAPI string) (interface{}, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.unsubscribed = append(m.unsubscribed, topic)
			return buildRosAPIResult(APIStatusSuccess, "Unsubscribed", 1), nil
		},
		"getParam": func(callerID, key string) (interface{}, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			if v, ok := m.params[key]; ok {
				return buildRosAPIResult(APIStatusSuccess, "", v), nil
			}
			return buildRosAPIResult(APIStatusError, "Parameter ["+key+"] is not set", 0), nil
		},
		"setParam": func(callerID, key string, value interface{}) (interface{}, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.params[key] = value
			return buildRosAPIResult(APIStatusSuccess, "", 0), nil
		},
		"hasParam": func(callerID, key string) (interface{}, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			_, ok := m.params[key]
			return buildRosAPIResult(APIStatusSuccess, key, ok), nil
		},
		"deleteParam": func(callerID, key string) (interface{}, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.params, key)
			return buildRosAPIResult(APIStatusSuccess, "", 0), nil
		},
	})
	m.server = httptest.NewServer(handler)
	t.Cleanup(m.server.Close)
	return m
}

func (m *fakeMaster) calls() ([]string, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.subscribed...), append([]string(nil), m.unsubscribed...)
}

// fakePublisher serves requestTopic and streams frames over TCPROS to every
// subscriber that connects.
type fakePublisher struct {
	uri      string
	listener net.Listener
	md5sum   string
	frames   [][]byte
}

func newFakePublisher(t *testing.T, md5sum string, msgs ...Message) *fakePublisher {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { listener.Close() })
	p := &fakePublisher{listener: listener, md5sum: md5sum}
	for _, msg := range msgs {
		var buf bytes.Buffer
		msg.Serialize(&buf)
		p.frames = append(p.frames, buf.Bytes())
	}

	port := int32(listener.Addr().(*net.TCPAddr).Port)
	handler := xmlrpc.NewHandler(map[string]xmlrpc.Method{
		"requestTopic": func(callerID, topic string, protocols []interface{}) (interface{}, error) {
			return buildRosAPIResult(APIStatusSuccess, "ready", []interface{}{"TCPROS", "127.0.0.1", port}), nil
		},
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	p.uri = server.URL

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go p.serve(conn)
		}
	}()
	return p
}

func (p *fakePublisher) serve(conn net.Conn) {
	defer conn.Close()
	req, err := readConnectionHeader(conn)
	if err != nil {
		return
	}
	reqMap := headerMap(req)
	writeConnectionHeader([]header{
		{"callerid", "/talker"},
		{"md5sum", p.md5sum},
		{"type", reqMap["type"]},
		{"topic", reqMap["topic"]},
	}, conn)
	for _, frame := range p.frames {
		binary.Write(conn, binary.LittleEndian, uint32(len(frame)))
		conn.Write(frame)
	}
	// Hold the connection until the subscriber hangs up.
	var b [1]byte
	conn.Read(b[:])
}

func newTestNode(t *testing.T, master *fakeMaster, args ...string) *defaultNode {
	args = append([]string{"__master:=" + master.server.URL, "__ip:=127.0.0.1"}, args...)
	node, err := newDefaultNode("/listener", args)
	if err != nil {
		t.Fatal(err)
	}
	return node
}

func TestLoadParamFromString(t *testing.T) {
	cases := map[string]interface{}{
		"42":                 42,
		"-7":                 -7,
		"2.5":                2.5,
		"1e3":                1000.0,
		"3000000000":         3000000000.0,
		"true":               true,
		"false":              false,
		"True":               "True",
		"/tmp/path.txt":      "/tmp/path.txt",
		"/data/run #1.txt":   "/data/run #1.txt",
		"/data/out: x.txt":   "/data/out: x.txt",
		"'quoted'":           "'quoted'",
		"":                   "",
		"[1, 2]":             "[1, 2]",
		"{a: 1}":             "{a: 1}",
		"/liorf/mapping/odo": "/liorf/mapping/odo",
	}
	for in, expected := range cases {
		if value := loadParamFromString(in); !reflect.DeepEqual(value, expected) {
			t.Errorf("loadParamFromString(%q) = %#v, want %#v", in, value, expected)
		}
	}
}

func TestNodeRequiresMaster(t *testing.T) {
	t.Setenv("ROS_MASTER_URI", "")
	if _, err := newDefaultNode("/listener", nil); err == nil {
		t.Error("expected an error without ROS_MASTER_URI")
	}
}

func TestNodePrivateParams(t *testing.T) {
	master := newFakeMaster(t)
	node := newTestNode(t, master, "_rate:=10", "_file_path:=/tmp/run #1.txt", "extra")
	defer node.Shutdown()

	if node.Name() != "/listener" {
		t.Error(node.Name())
	}
	if args := node.NonRosArgs(); len(args) != 1 || args[0] != "extra" {
		t.Error(args)
	}

	value, err := node.GetParam("~rate")
	if err != nil {
		t.Fatal(err)
	}
	if value != int32(10) {
		t.Errorf("~rate = %#v", value)
	}
	value, err = node.GetParam("~file_path")
	if err != nil {
		t.Fatal(err)
	}
	if value != "/tmp/run #1.txt" {
		t.Errorf("~file_path = %#v", value)
	}

	if _, err := node.GetParam("missing"); err == nil {
		t.Error("expected an error for a missing parameter")
	} else if apiErr, ok := err.(*APIError); !ok || apiErr.Code != APIStatusError {
		t.Errorf("expected *APIError but %T: %v", err, err)
	}

	if err := node.SetParam("/global", "x"); err != nil {
		t.Fatal(err)
	}
	if ok, err := node.HasParam("/global"); err != nil || !ok {
		t.Error(ok, err)
	}
	if err := node.DeleteParam("/global"); err != nil {
		t.Fatal(err)
	}
	if ok, err := node.HasParam("/global"); err != nil || ok {
		t.Error(ok, err)
	}
}

func TestSubscriberReceivesMessages(t *testing.T) {
	pub := newFakePublisher(t, testStringType{}.MD5Sum(),
		&testString{"hello"}, &testString{"world"})
	master := newFakeMaster(t, pub.uri)
	node := newTestNode(t, master)
	defer node.Shutdown()

	var received []string
	var events []MessageEvent
	sub, err := node.NewSubscriber("chatter", testStringType{}, func(msg *testString, event MessageEvent) {
		received = append(received, msg.Data)
		events = append(events, event)
	})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(received) < 2 && time.Now().Before(deadline) {
		node.SpinOnce()
	}
	if !reflect.DeepEqual(received, []string{"hello", "world"}) {
		t.Fatalf("received %v", received)
	}
	if events[0].PublisherName != "/talker" {
		t.Error(events[0])
	}
	if sub.GetNumPublishers() != 1 {
		t.Error(sub.GetNumPublishers())
	}

	node.Shutdown()
	subscribed, unsubscribed := master.calls()
	if !reflect.DeepEqual(subscribed, []string{"/chatter"}) {
		t.Error(subscribed)
	}
	if !reflect.DeepEqual(unsubscribed, []string{"/chatter"}) {
		t.Error(unsubscribed)
	}
}

func TestSubscriberRejectsMismatchedType(t *testing.T) {
	pub := newFakePublisher(t, "0123456789abcdef0123456789abcdef", &testString{"hello"})
	master := newFakeMaster(t, pub.uri)
	node := newTestNode(t, master)
	defer node.Shutdown()

	var received int
	if _, err := node.NewSubscriber("chatter", testStringType{}, func(msg *testString) { received++ }); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		node.SpinOnce()
	}
	if received != 0 {
		t.Errorf("received %d messages from a mismatched publisher", received)
	}
}

func TestNewSubscriberValidation(t *testing.T) {
	master := newFakeMaster(t)
	node := newTestNode(t, master)
	defer node.Shutdown()

	if _, err := node.NewSubscriber("bad topic", testStringType{}, func() {}); err == nil {
		t.Error("expected an error for an invalid topic")
	}
	if _, err := node.NewSubscriber("chatter", testStringType{}, "not a function"); err == nil {
		t.Error("expected an error for a non-function callback")
	}
	if _, err := node.NewSubscriber("chatter", testStringType{}, func(s string) {}); err == nil {
		t.Error("expected an error for a callback of the wrong type")
	}
	if subscribed, _ := master.calls(); len(subscribed) != 0 {
		t.Error(subscribed)
	}
}

func TestSlaveAPI(t *testing.T) {
	master := newFakeMaster(t)
	node := newTestNode(t, master)
	defer node.Shutdown()

	if _, err := node.NewSubscriber("/chatter", testStringType{}, func() {}); err != nil {
		t.Fatal(err)
	}

	value, err := callRosAPI(node.xmlrpcURI, "getMasterUri", "/test")
	if err != nil || value != master.server.URL {
		t.Error(value, err)
	}

	value, err = callRosAPI(node.xmlrpcURI, "getSubscriptions", "/test")
	if err != nil {
		t.Fatal(err)
	}
	expected := []interface{}{[]interface{}{"/chatter", "std_msgs/String"}}
	if !reflect.DeepEqual(value, expected) {
		t.Errorf("getSubscriptions = %#v", value)
	}

	if _, err := callRosAPI(node.xmlrpcURI, "publisherUpdate", "/master", "/unknown", []interface{}{}); err == nil {
		t.Error("expected publisherUpdate for an unknown topic to fail")
	}
	if _, err := callRosAPI(node.xmlrpcURI, "requestTopic", "/other", "/chatter", []interface{}{}); err == nil {
		t.Error("expected requestTopic to fail on a subscriber-only node")
	}

	if !node.OK() {
		t.Fatal("node should be running")
	}
	if _, err := callRosAPI(node.xmlrpcURI, "shutdown", "/master", "test done"); err != nil {
		t.Fatal(err)
	}
	if node.OK() {
		t.Error("shutdown did not stop the node")
	}
}
