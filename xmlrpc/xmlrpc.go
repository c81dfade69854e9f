// Package xmlrpc is a small XML-RPC client and server. It covers the subset
// of the protocol used by the ROS master and slave APIs.
package xmlrpc

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DefaultTimeout bounds a single Call, including reading the response.
const DefaultTimeout = 10 * time.Second

var client = &http.Client{Timeout: DefaultTimeout}

// Fault is the error returned by Call when the callee answers with a fault.
type Fault struct {
	Code   int32
	String string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("XMLRPC fault: code=%d string=%s", f.Code, f.String)
}

func xmlEscape(s string) string {
	var buffer bytes.Buffer
	xml.EscapeText(&buffer, []byte(s))
	return buffer.String()
}

func emitValue(buf *bytes.Buffer, value interface{}) error {
	if bs, ok := value.([]byte); ok {
		buf.WriteString("<base64>")
		buf.WriteString(base64.StdEncoding.EncodeToString(bs))
		buf.WriteString("</base64>")
		return nil
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return nil
	}

	switch k := val.Kind(); k {
	case reflect.Bool:
		if val.Bool() {
			buf.WriteString("<boolean>1</boolean>")
		} else {
			buf.WriteString("<boolean>0</boolean>")
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		buf.WriteString("<int>")
		buf.WriteString(strconv.FormatInt(val.Int(), 10))
		buf.WriteString("</int>")
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		buf.WriteString("<int>")
		buf.WriteString(strconv.FormatUint(val.Uint(), 10))
		buf.WriteString("</int>")
	case reflect.Float32, reflect.Float64:
		buf.WriteString("<double>")
		buf.WriteString(strconv.FormatFloat(val.Float(), 'g', -1, 64))
		buf.WriteString("</double>")
	case reflect.String:
		buf.WriteString("<string>")
		buf.WriteString(xmlEscape(val.String()))
		buf.WriteString("</string>")
	case reflect.Array, reflect.Slice:
		buf.WriteString("<array><data>")
		for i := 0; i < val.Len(); i++ {
			buf.WriteString("<value>")
			if err := emitValue(buf, val.Index(i).Interface()); err != nil {
				return err
			}
			buf.WriteString("</value>")
		}
		buf.WriteString("</data></array>")
	case reflect.Map:
		if val.Type().Key().Kind() != reflect.String {
			return errors.New("map key must be string")
		}
		keys := make([]string, 0, val.Len())
		for _, key := range val.MapKeys() {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		buf.WriteString("<struct>")
		for _, key := range keys {
			buf.WriteString("<member><name>")
			buf.WriteString(xmlEscape(key))
			buf.WriteString("</name><value>")
			v := val.MapIndex(reflect.ValueOf(key).Convert(val.Type().Key()))
			if err := emitValue(buf, v.Interface()); err != nil {
				return err
			}
			buf.WriteString("</value></member>")
		}
		buf.WriteString("</struct>")
	case reflect.Interface, reflect.Ptr:
		if val.IsNil() {
			return nil
		}
		return emitValue(buf, val.Elem().Interface())
	default:
		return errors.Errorf("unsupported kind %s (%s)", k, val.Type())
	}
	return nil
}

func emitRequest(buf *bytes.Buffer, method string, args ...interface{}) error {
	buf.WriteString(xml.Header)
	buf.WriteString("<methodCall><methodName>")
	buf.WriteString(xmlEscape(method))
	buf.WriteString("</methodName><params>")
	for _, arg := range args {
		buf.WriteString("<param><value>")
		if err := emitValue(buf, arg); err != nil {
			return err
		}
		buf.WriteString("</value></param>")
	}
	buf.WriteString("</params></methodCall>")
	return nil
}

func emitResponse(buf *bytes.Buffer, value interface{}) error {
	buf.WriteString(xml.Header)
	buf.WriteString("<methodResponse><params><param><value>")
	if err := emitValue(buf, value); err != nil {
		return err
	}
	buf.WriteString("</value></param></params></methodResponse>")
	return nil
}

func emitFault(buf *bytes.Buffer, code int, message string) error {
	buf.WriteString(xml.Header)
	buf.WriteString("<methodResponse><fault><value>")
	fault := map[string]interface{}{
		"faultCode":   code,
		"faultString": message,
	}
	if err := emitValue(buf, fault); err != nil {
		return err
	}
	buf.WriteString("</value></fault></methodResponse>")
	return nil
}

func nextTag(d *xml.Decoder) (xml.StartElement, error) {
	for {
		token, err := d.Token()
		if err != nil {
			return xml.StartElement{}, err
		}
		if elem, ok := token.(xml.StartElement); ok {
			return elem, nil
		}
	}
}

func expectNextTag(d *xml.Decoder, name string) (xml.StartElement, error) {
	tag, err := nextTag(d)
	if err != nil {
		return xml.StartElement{}, err
	}
	if tag.Name.Local != name {
		return xml.StartElement{}, errors.Errorf("expected <%s> but got <%s>", name, tag.Name.Local)
	}
	return tag, nil
}

// readText collects character data up to the end tag of the current element.
func readText(d *xml.Decoder) (string, error) {
	var text []byte
	for {
		token, err := d.Token()
		if err != nil {
			return "", err
		}
		switch t := token.(type) {
		case xml.CharData:
			text = append(text, t...)
		case xml.EndElement:
			return string(text), nil
		case xml.StartElement:
			return "", errors.Errorf("unexpected <%s> in text", t.Name.Local)
		}
	}
}

// skipToEnd consumes tokens up to and including the next end tag.
func skipToEnd(d *xml.Decoder) error {
	for {
		token, err := d.Token()
		if err != nil {
			return err
		}
		switch t := token.(type) {
		case xml.EndElement:
			return nil
		case xml.StartElement:
			return errors.Errorf("unexpected <%s>", t.Name.Local)
		}
	}
}

// Parse a value after the <value> tag has been read. On (non-error)
// return, the </value> closing tag will have been read.
func parseValue(d *xml.Decoder) (interface{}, error) {
	var text []byte
	for {
		token, err := d.Token()
		if err != nil {
			return nil, err
		}
		switch t := token.(type) {
		case xml.CharData:
			text = append(text, t...)
		case xml.EndElement:
			// A value without a type tag is a string.
			return string(text), nil
		case xml.StartElement:
			v, err := parseTyped(d, t.Name.Local)
			if err != nil {
				return nil, err
			}
			if err := skipToEnd(d); err != nil {
				return nil, err
			}
			return v, nil
		}
	}
}

func parseTyped(d *xml.Decoder, kind string) (interface{}, error) {
	switch kind {
	case "array":
		return parseArray(d)
	case "struct":
		return parseStruct(d)
	case "nil":
		return nil, skipToEnd(d)
	}

	text, err := readText(d)
	if err != nil {
		return nil, errors.Wrap(err, kind)
	}
	switch kind {
	case "boolean":
		switch strings.TrimSpace(text) {
		case "0":
			return false, nil
		case "1":
			return true, nil
		}
		return nil, errors.Errorf("boolean: invalid value %q", text)
	case "i4", "int":
		i, err := strconv.ParseInt(strings.TrimSpace(text), 10, 32)
		if err != nil {
			return nil, errors.Wrap(err, kind)
		}
		return int32(i), nil
	case "double":
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return nil, errors.Wrap(err, kind)
		}
		return f, nil
	case "string":
		return text, nil
	case "base64":
		bs, err := base64.StdEncoding.DecodeString(strings.TrimSpace(text))
		if err != nil {
			return nil, errors.Wrap(err, kind)
		}
		return bs, nil
	}
	return nil, errors.Errorf("not supported: %s", kind)
}

func parseArray(d *xml.Decoder) (interface{}, error) {
	a := []interface{}{}
	for {
		token, err := d.Token()
		if err != nil {
			return nil, err
		}
		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "value" {
				v, err := parseValue(d)
				if err != nil {
					return nil, err
				}
				a = append(a, v)
			}
		case xml.EndElement:
			if t.Name.Local == "array" {
				return a, nil
			}
		}
	}
}

func parseStruct(d *xml.Decoder) (interface{}, error) {
	m := make(map[string]interface{})
	var name string
	var value interface{}
	for {
		token, err := d.Token()
		if err != nil {
			return nil, err
		}
		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "name":
				if name, err = readText(d); err != nil {
					return nil, errors.Wrap(err, "struct member name")
				}
			case "value":
				if value, err = parseValue(d); err != nil {
					return nil, err
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "member":
				m[name] = value
				name, value = "", nil
			case "struct":
				return m, nil
			}
		}
	}
}

func parseRequest(d *xml.Decoder) (string, []interface{}, error) {
	if _, err := expectNextTag(d, "methodCall"); err != nil {
		return "", nil, err
	}
	if _, err := expectNextTag(d, "methodName"); err != nil {
		return "", nil, err
	}
	name, err := readText(d)
	if err != nil {
		return "", nil, errors.Wrap(err, "invalid methodName")
	}
	name = strings.TrimSpace(name)

	var args []interface{}
	for {
		token, err := d.Token()
		if err == io.EOF {
			return "", nil, errors.New("missing </methodCall>")
		} else if err != nil {
			return "", nil, err
		}
		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "value" {
				v, err := parseValue(d)
				if err != nil {
					return "", nil, err
				}
				args = append(args, v)
			}
		case xml.EndElement:
			if t.Name.Local == "methodCall" {
				return name, args, nil
			}
		}
	}
}

// parseResponse returns ok=false with the fault value when the response is a
// fault.
func parseResponse(d *xml.Decoder) (bool, interface{}, error) {
	if _, err := expectNextTag(d, "methodResponse"); err != nil {
		return false, nil, err
	}
	se, err := nextTag(d)
	if err != nil {
		return false, nil, err
	}
	switch se.Name.Local {
	case "params":
		if _, err := expectNextTag(d, "param"); err != nil {
			return false, nil, err
		}
		if _, err := expectNextTag(d, "value"); err != nil {
			return false, nil, err
		}
		result, err := parseValue(d)
		if err != nil {
			return false, nil, err
		}
		return true, result, nil
	case "fault":
		if _, err := expectNextTag(d, "value"); err != nil {
			return false, nil, err
		}
		result, err := parseValue(d)
		if err != nil {
			return false, nil, err
		}
		return false, result, nil
	}
	return false, nil, errors.Errorf("unexpected <%s> in methodResponse", se.Name.Local)
}

func faultFromValue(v interface{}) error {
	m, ok := v.(map[string]interface{})
	if !ok {
		return errors.New("malformed XMLRPC fault response")
	}
	code, ok := m["faultCode"].(int32)
	if !ok {
		return errors.New("malformed XMLRPC fault response: faultCode")
	}
	s, ok := m["faultString"].(string)
	if !ok {
		return errors.New("malformed XMLRPC fault response: faultString")
	}
	return &Fault{Code: code, String: s}
}

// Call invokes method on the XML-RPC server at url and returns the decoded
// result. A fault response is returned as a *Fault.
func Call(url string, method string, args ...interface{}) (interface{}, error) {
	var buffer bytes.Buffer
	if err := emitRequest(&buffer, method, args...); err != nil {
		return nil, errors.Wrapf(err, "building %s request", method)
	}
	r, err := client.Post(url, "text/xml", &buffer)
	if err != nil {
		return nil, errors.Wrapf(err, "sending %s request", method)
	}
	defer r.Body.Close()
	if r.StatusCode != http.StatusOK {
		return nil, errors.Errorf("%s: HTTP failed with %s", method, r.Status)
	}

	ok, result, err := parseResponse(xml.NewDecoder(r.Body))
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s response", method)
	}
	if !ok {
		return nil, faultFromValue(result)
	}
	return result, nil
}

// Method is a function taking XML-RPC decoded arguments and returning
// (result, error).
type Method interface{}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Handler serves XML-RPC requests by dispatching on the method name.
type Handler struct {
	mapping map[string]Method
	wait    sync.WaitGroup
}

func NewHandler(mapping map[string]Method) *Handler {
	return &Handler{mapping: mapping}
}

// WaitForShutdown blocks until in-flight requests are done.
func (h *Handler) WaitForShutdown() {
	h.wait.Wait()
}

func (h *Handler) dispatch(name string, args []interface{}) (interface{}, error) {
	method, ok := h.mapping[name]
	if !ok {
		return nil, errors.Errorf("no method named '%s'", name)
	}
	fn := reflect.ValueOf(method)
	ft := fn.Type()
	if ft.Kind() != reflect.Func || ft.NumOut() != 2 || !ft.Out(1).Implements(errorType) {
		return nil, errors.Errorf("method '%s' has an invalid signature", name)
	}
	if ft.NumIn() != len(args) {
		return nil, errors.Errorf("method '%s' takes %d arguments but got %d", name, ft.NumIn(), len(args))
	}
	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		want := ft.In(i)
		if arg == nil {
			in[i] = reflect.Zero(want)
			continue
		}
		v := reflect.ValueOf(arg)
		if !v.Type().AssignableTo(want) {
			return nil, errors.Errorf("argument %d of '%s' is %s, want %s", i, name, v.Type(), want)
		}
		in[i] = v
	}
	out := fn.Call(in)
	if e := out[1].Interface(); e != nil {
		return nil, errors.Wrapf(e.(error), "method '%s' call failed", name)
	}
	return out[0].Interface(), nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.wait.Add(1)
	defer h.wait.Done()

	var buffer bytes.Buffer
	name, args, err := parseRequest(xml.NewDecoder(req.Body))
	if err != nil {
		emitFault(&buffer, 1, "Invalid request.")
		writeResponse(w, &buffer)
		return
	}

	result, err := h.dispatch(name, args)
	if err != nil {
		emitFault(&buffer, 1, err.Error())
		writeResponse(w, &buffer)
		return
	}

	if err := emitResponse(&buffer, result); err != nil {
		buffer.Reset()
		emitFault(&buffer, 1, fmt.Sprintf("Method '%s' returned an invalid result type.", name))
	}
	writeResponse(w, &buffer)
}

func writeResponse(w http.ResponseWriter, buffer *bytes.Buffer) {
	w.Header().Set("Content-Type", "text/xml")
	w.Header().Set("Content-Length", strconv.Itoa(buffer.Len()))
	buffer.WriteTo(w)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
