package ros

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	dialTimeout      = 5 * time.Second
	handshakeTimeout = 5 * time.Second
	// maxMessageSize guards against reading garbage as a frame length.
	maxMessageSize = 1 << 28
)

type messageEvent struct {
	bytes []byte
	event MessageEvent
}

// The subscription object runs in own goroutine (start).
// Do not access its unexported state from other goroutines; use the
// channels.
type defaultSubscriber struct {
	topic            string
	msgType          MessageType
	pubList          []string
	numPublishers    int32
	pubListChan      chan []string
	msgChan          chan messageEvent
	callbacks        []interface{}
	addCallbackChan  chan interface{}
	shutdownChan     chan struct{}
	shutdownOnce     sync.Once
	done             chan struct{}
	connections      map[string]chan struct{}
	connWaitGroup    sync.WaitGroup
	disconnectedChan chan string
}

func newDefaultSubscriber(topic string, msgType MessageType, callback interface{}) *defaultSubscriber {
	return &defaultSubscriber{
		topic:            topic,
		msgType:          msgType,
		msgChan:          make(chan messageEvent, 10),
		pubListChan:      make(chan []string, 10),
		addCallbackChan:  make(chan interface{}, 10),
		shutdownChan:     make(chan struct{}),
		done:             make(chan struct{}),
		disconnectedChan: make(chan string, 10),
		connections:      make(map[string]chan struct{}),
		callbacks:        []interface{}{callback},
	}
}

func (sub *defaultSubscriber) start(wg *sync.WaitGroup, nodeID string, nodeAPIURI string, masterURI string, jobChan chan func(), logger *logrus.Entry) {
	defer wg.Done()
	defer close(sub.done)
	logger.Debug("Subscriber goroutine started")
	defer logger.Debug("Subscriber goroutine exit")

	for {
		select {
		case list := <-sub.pubListChan:
			deadPubs := setDifference(sub.pubList, list)
			newPubs := setDifference(list, sub.pubList)
			sub.pubList = list
			atomic.StoreInt32(&sub.numPublishers, int32(len(list)))

			for _, pub := range deadPubs {
				if quitChan, ok := sub.connections[pub]; ok {
					close(quitChan)
					delete(sub.connections, pub)
				}
			}
			for _, pub := range newPubs {
				if err := sub.connect(pub, nodeID, logger); err != nil {
					logger.Error(err)
				}
			}
		case callback := <-sub.addCallbackChan:
			sub.callbacks = append(sub.callbacks, callback)
		case msgEvent := <-sub.msgChan:
			// Bind the current callbacks and hand the job to the spinning goroutine.
			callbacks := make([]interface{}, len(sub.callbacks))
			copy(callbacks, sub.callbacks)
			select {
			case jobChan <- sub.newJob(msgEvent, callbacks, logger):
			case <-sub.shutdownChan:
				sub.stop(nodeID, nodeAPIURI, masterURI, logger)
				return
			}
		case pubURI := <-sub.disconnectedChan:
			logger.Debugf("Connection to %s closed", pubURI)
			if quitChan, ok := sub.connections[pubURI]; ok {
				close(quitChan)
				delete(sub.connections, pubURI)
			}
		case <-sub.shutdownChan:
			sub.stop(nodeID, nodeAPIURI, masterURI, logger)
			return
		}
	}
}

func (sub *defaultSubscriber) stop(nodeID string, nodeAPIURI string, masterURI string, logger *logrus.Entry) {
	for pub, quitChan := range sub.connections {
		close(quitChan)
		delete(sub.connections, pub)
	}
	sub.connWaitGroup.Wait()
	if _, err := callRosAPI(masterURI, "unregisterSubscriber", nodeID, sub.topic, nodeAPIURI); err != nil {
		logger.Warn(err)
	}
}

// connect negotiates TCPROS with the publisher whose slave API is at pubURI.
func (sub *defaultSubscriber) connect(pubURI string, nodeID string, logger *logrus.Entry) error {
	protocols := []interface{}{[]interface{}{"TCPROS"}}
	result, err := callRosAPI(pubURI, "requestTopic", nodeID, sub.topic, protocols)
	if err != nil {
		return errors.Wrapf(err, "requestTopic on %s", pubURI)
	}
	protocolParams, ok := result.([]interface{})
	if !ok || len(protocolParams) == 0 {
		return errors.Errorf("requestTopic on %s: no protocol selected", pubURI)
	}
	if name, _ := protocolParams[0].(string); name != "TCPROS" {
		logger.Warnf("Publisher %s selected unsupported protocol %v", pubURI, protocolParams[0])
		return nil
	}
	if len(protocolParams) < 3 {
		return errors.Errorf("requestTopic on %s: malformed TCPROS parameters %v", pubURI, protocolParams)
	}
	addr, ok := protocolParams[1].(string)
	if !ok {
		return errors.Errorf("requestTopic on %s: host is not string", pubURI)
	}
	port, ok := protocolParams[2].(int32)
	if !ok {
		return errors.Errorf("requestTopic on %s: port is not int", pubURI)
	}

	quitChan := make(chan struct{})
	sub.connections[pubURI] = quitChan
	sub.connWaitGroup.Add(1)
	go func() {
		defer sub.connWaitGroup.Done()
		startRemotePublisherConn(logger, pubURI,
			net.JoinHostPort(addr, fmt.Sprint(port)),
			sub.topic, sub.msgType, nodeID,
			sub.msgChan, quitChan, sub.disconnectedChan)
	}()
	return nil
}

func (sub *defaultSubscriber) newJob(msgEvent messageEvent, callbacks []interface{}, logger *logrus.Entry) func() {
	return func() {
		m := sub.msgType.NewMessage()
		if err := m.Deserialize(bytes.NewReader(msgEvent.bytes)); err != nil {
			logger.Errorf("Dropping malformed %s message from %s: %v", sub.msgType.Name(), msgEvent.event.PublisherName, err)
			return
		}
		args := []reflect.Value{reflect.ValueOf(m), reflect.ValueOf(msgEvent.event)}
		for _, callback := range callbacks {
			fun := reflect.ValueOf(callback)
			fun.Call(args[:fun.Type().NumIn()])
		}
	}
}

func startRemotePublisherConn(logger *logrus.Entry,
	pubURI string, tcpAddr string,
	topic string, msgType MessageType, nodeID string,
	msgChan chan messageEvent,
	quitChan chan struct{},
	disconnectedChan chan string) {
	logger = logger.WithField("publisher", pubURI)

	disconnected := func() {
		select {
		case disconnectedChan <- pubURI:
		case <-quitChan:
		}
	}

	conn, err := net.DialTimeout("tcp", tcpAddr, dialTimeout)
	if err != nil {
		logger.Errorf("Failed to connect to %s: %v", tcpAddr, err)
		disconnected()
		return
	}

	// Closing the connection unblocks the reads below on quit.
	connDone := make(chan struct{})
	defer close(connDone)
	go func() {
		select {
		case <-quitChan:
		case <-connDone:
		}
		conn.Close()
	}()

	event, err := subscriberHandshake(conn, topic, msgType, nodeID)
	if err != nil {
		logger.Error(err)
		disconnected()
		return
	}
	logger.Debug("Start receiving messages...")

	for {
		var msgSize uint32
		if err := binary.Read(conn, binary.LittleEndian, &msgSize); err != nil {
			if err != io.EOF {
				logger.Debugf("Failed to read a message size: %v", err)
			}
			disconnected()
			return
		}
		if msgSize > maxMessageSize {
			logger.Errorf("Message size %d exceeds limit", msgSize)
			disconnected()
			return
		}
		buffer := make([]byte, int(msgSize))
		if _, err := io.ReadFull(conn, buffer); err != nil {
			logger.Debugf("Failed to read a message body: %v", err)
			disconnected()
			return
		}
		event.ReceiptTime = time.Now()
		select {
		case msgChan <- messageEvent{bytes: buffer, event: event}:
		case <-quitChan:
			return
		}
	}
}

// subscriberHandshake exchanges TCPROS connection headers and checks that
// the publisher speaks the expected message type.
func subscriberHandshake(conn net.Conn, topic string, msgType MessageType, nodeID string) (MessageEvent, error) {
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	headers := []header{
		{"topic", topic},
		{"md5sum", msgType.MD5Sum()},
		{"type", msgType.Name()},
		{"callerid", nodeID},
		{"tcp_nodelay", "1"},
	}
	if err := writeConnectionHeader(headers, conn); err != nil {
		return MessageEvent{}, errors.Wrap(err, "failed to write connection header")
	}
	resHeaders, err := readConnectionHeader(conn)
	if err != nil {
		return MessageEvent{}, errors.Wrap(err, "failed to read response header")
	}
	resHeaderMap := headerMap(resHeaders)
	if msg, ok := resHeaderMap["error"]; ok {
		return MessageEvent{}, errors.Errorf("publisher refused connection: %s", msg)
	}
	if resHeaderMap["type"] != msgType.Name() {
		return MessageEvent{}, errors.Errorf("incompatible message type for %s: %s vs %s", topic, resHeaderMap["type"], msgType.Name())
	}
	if md5 := resHeaderMap["md5sum"]; md5 != msgType.MD5Sum() && md5 != "*" {
		return MessageEvent{}, errors.Errorf("incompatible message md5 for %s: %s vs %s", topic, md5, msgType.MD5Sum())
	}
	return MessageEvent{
		PublisherName:    resHeaderMap["callerid"],
		ConnectionHeader: resHeaderMap,
	}, nil
}

func (sub *defaultSubscriber) updatePublishers(pubURIs []string) {
	select {
	case sub.pubListChan <- pubURIs:
	case <-sub.done:
	}
}

func (sub *defaultSubscriber) addCallback(callback interface{}) {
	select {
	case sub.addCallbackChan <- callback:
	case <-sub.done:
	}
}

func (sub *defaultSubscriber) Shutdown() {
	sub.shutdownOnce.Do(func() { close(sub.shutdownChan) })
}

func (sub *defaultSubscriber) GetNumPublishers() int {
	return int(atomic.LoadInt32(&sub.numPublishers))
}
