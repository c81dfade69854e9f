package ros

import (
	"fmt"

	"github.com/edwinhayes/pathsave/xmlrpc"
	"github.com/pkg/errors"
)

const (
	//APIStatusError is an API call which returned an Error
	APIStatusError = -1
	//APIStatusFailure is a failed API call
	APIStatusFailure = 0
	//APIStatusSuccess is a successful API call
	APIStatusSuccess = 1
)

//callRosAPI performs an XML-RPC call to the ROS system. CalleeUri is the address to send the request
//Method is the method to be called in the request. Args is an interface of values that are required
//by the method call. Returns the value part of the (code, message, value) triplet.
func callRosAPI(calleeURI string, method string, args ...interface{}) (interface{}, error) {
	result, err := xmlrpc.Call(calleeURI, method, args...)
	if err != nil {
		return nil, err
	}

	xs, ok := result.([]interface{})
	if !ok {
		return nil, errors.Errorf("%s: malformed ROS API result", method)
	}
	if len(xs) != 3 {
		return nil, errors.Errorf("%s: malformed ROS API result, length must be 3 but %d", method, len(xs))
	}
	code, ok := xs[0].(int32)
	if !ok {
		return nil, errors.Errorf("%s: status code is not int", method)
	}
	message, ok := xs[1].(string)
	if !ok {
		return nil, errors.Errorf("%s: message is not string", method)
	}
	if code != APIStatusSuccess {
		return nil, &APIError{Method: method, Code: code, Message: message}
	}
	return xs[2], nil
}

// APIError is a ROS API call which answered with a non-success status code.
type APIError struct {
	Method  string
	Code    int32
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ROS API call %s failed with code %d: %s", e.Method, e.Code, e.Message)
}

// Build XMLRPC ready array from ROS API result triplet.
func buildRosAPIResult(code int32, message string, value interface{}) interface{} {
	return []interface{}{code, message, value}
}
