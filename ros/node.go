package ros

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/edwinhayes/pathsave/xmlrpc"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// jobQueueSize bounds the callbacks waiting for Spin.
const jobQueueSize = 100

// *defaultNode implements Node interface
// a defaultNode instance must be accessed in user goroutine.
type defaultNode struct {
	name           string
	namespace      string
	qualifiedName  string
	masterURI      string
	xmlrpcURI      string
	xmlrpcListener net.Listener
	xmlrpcHandler  *xmlrpc.Handler
	subscribers    map[string]*defaultSubscriber
	subscribersMu  sync.RWMutex
	jobChan        chan func()
	interruptChan  chan os.Signal
	logger         *logrus.Entry
	ok             bool
	okMutex        sync.RWMutex
	waitGroup      sync.WaitGroup
	shutdownOnce   sync.Once
	logDir         string
	hostname       string
	listenIP       string
	homeDir        string
	nameResolver   *NameResolver
	nonRosArgs     []string
}

func newDefaultNode(name string, args []string) (*defaultNode, error) {
	node := new(defaultNode)

	namespace, nodeName, err := qualifyNodeName(name)
	if err != nil {
		return nil, err
	}

	remapping, params, specials, rest := processArguments(args)

	node.homeDir = filepath.Join(os.Getenv("HOME"), ".ros")
	if homeDir := os.Getenv("ROS_HOME"); len(homeDir) > 0 {
		node.homeDir = homeDir
	}

	node.name = nodeName
	if value, ok := specials["__name"]; ok {
		node.name = value
	}

	node.namespace = namespace
	if ns := os.Getenv("ROS_NAMESPACE"); len(ns) > 0 {
		node.namespace = normalizeNamespace(ns)
	}
	if value, ok := specials["__ns"]; ok {
		node.namespace = normalizeNamespace(value)
	}
	node.logDir = filepath.Join(node.homeDir, "log")
	if logDir := os.Getenv("ROS_LOG_DIR"); len(logDir) > 0 {
		node.logDir = logDir
	}
	if value, ok := specials["__log"]; ok {
		node.logDir = value
	}

	var onlyLocalhost bool
	node.hostname, onlyLocalhost = determineHost()
	if value, ok := specials["__hostname"]; ok {
		node.hostname, onlyLocalhost = value, isLoopbackHost(value)
	} else if value, ok := specials["__ip"]; ok {
		node.hostname, onlyLocalhost = value, isLoopbackHost(value)
	}
	if onlyLocalhost {
		node.listenIP = "127.0.0.1"
	} else {
		node.listenIP = "0.0.0.0"
	}

	node.masterURI = os.Getenv("ROS_MASTER_URI")
	if value, ok := specials["__master"]; ok {
		node.masterURI = value
	}
	if node.masterURI == "" {
		return nil, errors.New("ROS_MASTER_URI is not set")
	}

	node.qualifiedName = node.namespace + node.name
	node.nameResolver = newNameResolver(node.qualifiedName, remapping)
	node.nonRosArgs = rest
	node.subscribers = make(map[string]*defaultSubscriber)
	node.jobChan = make(chan func(), jobQueueSize)
	node.ok = true
	node.logger = NewLogger().WithField("node", node.qualifiedName)
	logger := node.logger

	logger.Debugf("Master URI = %s", node.masterURI)

	// Set parameters set by arguments
	for k, v := range params {
		key := node.nameResolver.resolve(PrivateNS + k)
		if _, err := callRosAPI(node.masterURI, "setParam", node.qualifiedName, key, loadParamFromString(v)); err != nil {
			return nil, errors.Wrapf(err, "setting parameter %s", key)
		}
	}

	listener, err := listenRandomPort(node.listenIP, 10)
	if err != nil {
		return nil, err
	}
	_, port, err := net.SplitHostPort(listener.Addr().String())
	if err != nil {
		// Not reached
		panic(err)
	}
	node.xmlrpcURI = fmt.Sprintf("http://%s/", net.JoinHostPort(node.hostname, port))
	logger.Debugf("listen on http://%s", listener.Addr().String())
	node.xmlrpcListener = listener
	m := map[string]xmlrpc.Method{
		"getBusStats":      func(callerID string) (interface{}, error) { return node.getBusStats(callerID) },
		"getBusInfo":       func(callerID string) (interface{}, error) { return node.getBusInfo(callerID) },
		"getMasterUri":     func(callerID string) (interface{}, error) { return node.getMasterURI(callerID) },
		"shutdown":         func(callerID string, msg string) (interface{}, error) { return node.shutdown(callerID, msg) },
		"getPid":           func(callerID string) (interface{}, error) { return node.getPid(callerID) },
		"getSubscriptions": func(callerID string) (interface{}, error) { return node.getSubscriptions(callerID) },
		"getPublications":  func(callerID string) (interface{}, error) { return node.getPublications(callerID) },
		"paramUpdate": func(callerID string, key string, value interface{}) (interface{}, error) {
			return node.paramUpdate(callerID, key, value)
		},
		"publisherUpdate": func(callerID string, topic string, publishers []interface{}) (interface{}, error) {
			return node.publisherUpdate(callerID, topic, publishers)
		},
		"requestTopic": func(callerID string, topic string, protocols []interface{}) (interface{}, error) {
			return node.requestTopic(callerID, topic, protocols)
		},
	}
	node.xmlrpcHandler = xmlrpc.NewHandler(m)
	go http.Serve(node.xmlrpcListener, node.xmlrpcHandler)

	// Install signal handler
	node.interruptChan = make(chan os.Signal, 1)
	signal.Notify(node.interruptChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		if _, ok := <-node.interruptChan; ok {
			logger.Info("Interrupted")
			node.setOK(false)
		}
	}()

	logger.Debugf("Started %s", node.qualifiedName)
	return node, nil
}

func (node *defaultNode) OK() bool {
	node.okMutex.RLock()
	defer node.okMutex.RUnlock()
	return node.ok
}

func (node *defaultNode) setOK(ok bool) {
	node.okMutex.Lock()
	node.ok = ok
	node.okMutex.Unlock()
}

func (node *defaultNode) Name() string {
	return node.qualifiedName
}

func (node *defaultNode) getBusStats(callerID string) (interface{}, error) {
	return buildRosAPIResult(APIStatusError, "Not implemented", 0), nil
}

func (node *defaultNode) getBusInfo(callerID string) (interface{}, error) {
	return buildRosAPIResult(APIStatusError, "Not implemented", 0), nil
}

func (node *defaultNode) getMasterURI(callerID string) (interface{}, error) {
	return buildRosAPIResult(APIStatusSuccess, "Success", node.masterURI), nil
}

func (node *defaultNode) shutdown(callerID string, msg string) (interface{}, error) {
	node.logger.Infof("Shutdown requested by %s: %s", callerID, msg)
	node.setOK(false)
	return buildRosAPIResult(APIStatusSuccess, "Success", 0), nil
}

func (node *defaultNode) getPid(callerID string) (interface{}, error) {
	return buildRosAPIResult(APIStatusSuccess, "Success", os.Getpid()), nil
}

func (node *defaultNode) getSubscriptions(callerID string) (interface{}, error) {
	node.subscribersMu.RLock()
	defer node.subscribersMu.RUnlock()
	result := []interface{}{}
	for t, s := range node.subscribers {
		result = append(result, []interface{}{t, s.msgType.Name()})
	}
	return buildRosAPIResult(APIStatusSuccess, "Success", result), nil
}

// This node never publishes.
func (node *defaultNode) getPublications(callerID string) (interface{}, error) {
	return buildRosAPIResult(APIStatusSuccess, "Success", []interface{}{}), nil
}

func (node *defaultNode) paramUpdate(callerID string, key string, value interface{}) (interface{}, error) {
	return buildRosAPIResult(APIStatusError, "Not implemented", 0), nil
}

func (node *defaultNode) publisherUpdate(callerID string, topic string, publishers []interface{}) (interface{}, error) {
	node.logger.Debugf("Slave API publisherUpdate(%s, %s) called.", callerID, topic)
	node.subscribersMu.RLock()
	sub, ok := node.subscribers[topic]
	node.subscribersMu.RUnlock()
	if !ok {
		node.logger.Debug("publisherUpdate() called without subscribing topic.")
		return buildRosAPIResult(APIStatusFailure, "No such topic", 0), nil
	}

	pubUris := make([]string, 0, len(publishers))
	for _, uri := range publishers {
		s, ok := uri.(string)
		if !ok {
			return buildRosAPIResult(APIStatusError, "Publisher list contains non-string value", 0), nil
		}
		pubUris = append(pubUris, s)
	}
	sub.updatePublishers(pubUris)
	return buildRosAPIResult(APIStatusSuccess, "Success", 0), nil
}

func (node *defaultNode) requestTopic(callerID string, topic string, protocols []interface{}) (interface{}, error) {
	node.logger.Debugf("Slave API requestTopic(%s, %s, ...) called.", callerID, topic)
	return buildRosAPIResult(APIStatusFailure, "No such topic", 0), nil
}

// NewSubscriber registers topic with the master and starts connecting to its
// publishers. Subscribing to the same topic again adds callback to the
// existing subscription.
func (node *defaultNode) NewSubscriber(topic string, msgType MessageType, callback interface{}) (Subscriber, error) {
	if !isValidName(topic) {
		return nil, errors.Errorf("invalid topic name %q", topic)
	}
	if err := checkCallback(callback, msgType); err != nil {
		return nil, err
	}
	name := node.nameResolver.remap(topic)
	logger := node.logger

	node.subscribersMu.Lock()
	defer node.subscribersMu.Unlock()
	if sub, ok := node.subscribers[name]; ok {
		sub.addCallback(callback)
		return sub, nil
	}

	logger.Debug("Call Master API registerSubscriber")
	result, err := callRosAPI(node.masterURI, "registerSubscriber",
		node.qualifiedName,
		name,
		msgType.Name(),
		node.xmlrpcURI)
	if err != nil {
		return nil, errors.Wrapf(err, "registering subscriber for %s", name)
	}
	list, ok := result.([]interface{})
	if !ok {
		return nil, errors.Errorf("registerSubscriber: result is not []string but %s", reflect.TypeOf(result))
	}
	var publishers []string
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, errors.New("registerSubscriber: publisher list contains no string object")
		}
		publishers = append(publishers, s)
	}
	logger.Debugf("Publisher URI list: %v", publishers)

	sub := newDefaultSubscriber(name, msgType, callback)
	node.subscribers[name] = sub

	logger.Debugf("Start subscriber goroutine for topic '%s'", sub.topic)
	node.waitGroup.Add(1)
	go sub.start(&node.waitGroup, node.qualifiedName, node.xmlrpcURI, node.masterURI, node.jobChan, logger.WithField("topic", name))
	sub.updatePublishers(publishers)
	return sub, nil
}

// checkCallback rejects callbacks the subscriber could not call.
func checkCallback(callback interface{}, msgType MessageType) error {
	fun := reflect.ValueOf(callback)
	if fun.Kind() != reflect.Func {
		return errors.Errorf("callback must be a function, not %T", callback)
	}
	ft := fun.Type()
	if ft.NumIn() > 2 {
		return errors.Errorf("callback takes %d arguments, at most 2 are supported", ft.NumIn())
	}
	if ft.NumIn() >= 1 {
		msg := reflect.TypeOf(msgType.NewMessage())
		if !msg.AssignableTo(ft.In(0)) {
			return errors.Errorf("callback takes %s but messages are %s", ft.In(0), msg)
		}
	}
	if ft.NumIn() == 2 && ft.In(1) != reflect.TypeOf(MessageEvent{}) {
		return errors.Errorf("second callback argument must be ros.MessageEvent, not %s", ft.In(1))
	}
	return nil
}

func (node *defaultNode) SpinOnce() {
	timeoutChan := time.After(10 * time.Millisecond)
	select {
	case job := <-node.jobChan:
		job()
	case <-timeoutChan:
	}
}

func (node *defaultNode) Spin() {
	for node.OK() {
		timeoutChan := time.After(100 * time.Millisecond)
		select {
		case job := <-node.jobChan:
			job()
		case <-timeoutChan:
		}
	}
}

// Shutdown unregisters the subscribers and stops the slave API. It is safe
// to call more than once.
func (node *defaultNode) Shutdown() {
	node.shutdownOnce.Do(node.doShutdown)
}

func (node *defaultNode) doShutdown() {
	logger := node.logger
	logger.Debug("Shutting node down")
	node.setOK(false)
	signal.Stop(node.interruptChan)
	close(node.interruptChan)

	logger.Debug("Shutdown subscribers")
	node.subscribersMu.Lock()
	for _, s := range node.subscribers {
		s.Shutdown()
	}
	node.subscribersMu.Unlock()

	logger.Debug("Wait all goroutines")
	node.waitGroup.Wait()
	logger.Debug("Close XMLRPC listener")
	node.xmlrpcListener.Close()
	node.xmlrpcHandler.WaitForShutdown()
	logger.Debug("Shutting node down completed")
}

func (node *defaultNode) GetParam(key string) (interface{}, error) {
	name := node.nameResolver.remap(key)
	return callRosAPI(node.masterURI, "getParam", node.qualifiedName, name)
}

func (node *defaultNode) SetParam(key string, value interface{}) error {
	name := node.nameResolver.remap(key)
	_, err := callRosAPI(node.masterURI, "setParam", node.qualifiedName, name, value)
	return err
}

func (node *defaultNode) HasParam(key string) (bool, error) {
	name := node.nameResolver.remap(key)
	result, err := callRosAPI(node.masterURI, "hasParam", node.qualifiedName, name)
	if err != nil {
		return false, err
	}
	hasParam, ok := result.(bool)
	if !ok {
		return false, errors.Errorf("hasParam: result is not bool but %T", result)
	}
	return hasParam, nil
}

func (node *defaultNode) SearchParam(key string) (string, error) {
	result, err := callRosAPI(node.masterURI, "searchParam", node.qualifiedName, key)
	if err != nil {
		return "", err
	}
	foundKey, ok := result.(string)
	if !ok {
		return "", errors.Errorf("searchParam: result is not string but %T", result)
	}
	return foundKey, nil
}

func (node *defaultNode) DeleteParam(key string) error {
	name := node.nameResolver.remap(key)
	_, err := callRosAPI(node.masterURI, "deleteParam", node.qualifiedName, name)
	return err
}

func (node *defaultNode) Logger() *logrus.Entry {
	return node.logger
}

func (node *defaultNode) NonRosArgs() []string {
	return node.nonRosArgs
}

// loadParamFromString decodes a _key:=value argument the way roscpp does:
// an int, then a double, then true/false, otherwise the raw string.
func loadParamFromString(s string) interface{} {
	if i, err := strconv.ParseInt(s, 10, 32); err == nil {
		return int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}
