package xmlrpc

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestEmitValue(t *testing.T) {
	array := "<array><data>"
	array += "<value><int>12</int></value>"
	array += "<value><string>Egypt</string></value>"
	array += "<value><boolean>0</boolean></value>"
	array += "<value><int>-31</int></value>"
	array += "</data></array>"

	cases := []struct {
		name     string
		value    interface{}
		expected string
	}{
		{"nil", nil, ""},
		{"booleans", []bool{true, false}, "<array><data><value><boolean>1</boolean></value><value><boolean>0</boolean></value></data></array>"},
		{"int", 42, "<int>42</int>"},
		{"uint32", uint32(7), "<int>7</int>"},
		{"double", 3.14, "<double>3.14</double>"},
		{"string", "Hello, world!", "<string>Hello, world!</string>"},
		{"base64", []byte("ABCDEFG"), "<base64>QUJDREVGRw==</base64>"},
		{"array", [...]interface{}{12, "Egypt", false, -31}, array},
		{"slice", []interface{}{12, "Egypt", false, -31}, array},
	}
	for _, c := range cases {
		var buffer bytes.Buffer
		if e := emitValue(&buffer, c.value); e != nil {
			t.Errorf("%s: %v", c.name, e)
			continue
		}
		if s := buffer.String(); s != c.expected {
			t.Errorf("%s: %s", c.name, s)
		}
	}
}

func TestEmitStruct(t *testing.T) {
	var buffer bytes.Buffer
	xs := make(map[string]interface{})
	xs["upperBound"] = 139
	xs["lowerBound"] = 18
	e := emitValue(&buffer, xs)
	if e != nil {
		t.Error(e)
	}
	s := buffer.String()
	expected := "<struct><member>"
	expected += "<name>lowerBound</name>"
	expected += "<value><int>18</int></value>"
	expected += "</member><member>"
	expected += "<name>upperBound</name>"
	expected += "<value><int>139</int></value>"
	expected += "</member></struct>"
	if s != expected {
		t.Error(s)
	}
}

func TestEmitEscapedString(t *testing.T) {
	var buffer bytes.Buffer
	e := emitValue(&buffer, "/tmp/a<b>&c")
	if e != nil {
		t.Error(e)
	}
	s := buffer.String()
	if s != "<string>/tmp/a&lt;b&gt;&amp;c</string>" {
		t.Error(s)
	}
}

func TestEmitUnsupported(t *testing.T) {
	var buffer bytes.Buffer
	if e := emitValue(&buffer, make(chan int)); e == nil {
		t.Error("expected an error for a channel value")
	}
}

func TestEmitRequest(t *testing.T) {
	var buffer bytes.Buffer
	emitRequest(&buffer, "doSomething", true, 42)
	s := buffer.String()
	expected := xml.Header
	expected += "<methodCall>"
	expected += "<methodName>doSomething</methodName>"
	expected += "<params>"
	expected += "<param><value><boolean>1</boolean></value></param>"
	expected += "<param><value><int>42</int></value></param>"
	expected += "</params>"
	expected += "</methodCall>"
	if s != expected {
		t.Error(s)
	}
}

func TestEmitResponse(t *testing.T) {
	var buffer bytes.Buffer
	emitResponse(&buffer, 42)
	s := buffer.String()
	expected := xml.Header
	expected += "<methodResponse>"
	expected += "<params><param>"
	expected += "<value><int>42</int></value>"
	expected += "</param></params>"
	expected += "</methodResponse>"
	if s != expected {
		t.Error(s)
	}
}

func TestEmitFault(t *testing.T) {
	var buffer bytes.Buffer
	emitFault(&buffer, 42, "failed")
	s := buffer.String()
	expected := xml.Header
	expected += "<methodResponse><fault><value>"
	expected += "<struct><member>"
	expected += "<name>faultCode</name>"
	expected += "<value><int>42</int></value>"
	expected += "</member><member>"
	expected += "<name>faultString</name>"
	expected += "<value><string>failed</string></value>"
	expected += "</member></struct>"
	expected += "</value></fault></methodResponse>"
	if s != expected {
		t.Error(s)
	}
}

func TestParseScalars(t *testing.T) {
	cases := []struct {
		source   string
		expected interface{}
	}{
		{"<value><boolean>0</boolean></value>", false},
		{"<value><boolean>1</boolean></value>", true},
		{"<value><int>-432</int></value>", int32(-432)},
		{"<value><i4>43</i4></value>", int32(43)},
		{"<value><double>-273.5</double></value>", -273.5},
		{"<value><double>3.14</double></value>", 3.14},
		{"<value><string>Hello, world!</string></value>", "Hello, world!"},
		{"<value>untyped</value>", "untyped"},
		{"<value><base64>QUJDREVGRw==</base64></value>", []byte("ABCDEFG")},
	}
	for _, c := range cases {
		decoder := xml.NewDecoder(bytes.NewBufferString(c.source))
		_, _ = decoder.Token() // <value>
		value, e := parseValue(decoder)
		if e != nil {
			t.Errorf("%s: %v", c.source, e)
			continue
		}
		if !reflect.DeepEqual(value, c.expected) {
			t.Errorf("%s: got %#v", c.source, value)
		}
	}
}

func TestParseInvalidScalars(t *testing.T) {
	for _, source := range []string{
		"<value><boolean>2</boolean></value>",
		"<value><int>forty</int></value>",
		"<value><double>pi</double></value>",
		"<value><dateTime.iso8601>19980717T14:08:55</dateTime.iso8601></value>",
	} {
		decoder := xml.NewDecoder(bytes.NewBufferString(source))
		_, _ = decoder.Token() // <value>
		if _, e := parseValue(decoder); e == nil {
			t.Errorf("%s: expected an error", source)
		}
	}
}

func TestParseArray(t *testing.T) {
	source := `<value><array>
                   <data>
                       <value><i4>12</i4></value>
                       <value><string>Egypt</string></value>
                       <value><boolean>0</boolean></value>
                       <value><i4>-31</i4></value>
                   </data>
               </array></value>`
	buffer := bytes.NewBufferString(source)
	decoder := xml.NewDecoder(buffer)
	_, _ = decoder.Token() // <value>
	value, e := parseValue(decoder)
	if e != nil {
		t.Error(e)
	}
	x, ok := value.([]interface{})
	if !ok {
		t.Error(ok)
	}
	if len(x) != 4 {
		t.Error(x)
	}

	var i int32
	i, ok = x[0].(int32)
	if !ok {
		t.Error(ok)
	}
	if i != 12 {
		t.Error(i)
	}

	var s string
	s, ok = x[1].(string)
	if !ok {
		t.Error(ok)
	}
	if s != "Egypt" {
		t.Error(s)
	}

	var b bool
	b, ok = x[2].(bool)
	if !ok {
		t.Error(ok)
	}
	if b != false {
		t.Error(b)
	}

	i, ok = x[3].(int32)
	if !ok {
		t.Error(ok)
	}
	if i != -31 {
		t.Error(i)
	}
}

func TestParseStruct(t *testing.T) {
	source := `<value><struct>
                   <member>
                       <name>lowerBound</name>
                       <value><i4>18</i4></value>
                   </member>
                   <member>
                       <name>upperBound</name>
                       <value><i4>139</i4></value>
                   </member>
               </struct></value>`
	buffer := bytes.NewBufferString(source)
	decoder := xml.NewDecoder(buffer)
	_, _ = decoder.Token() // <value>
	value, e := parseValue(decoder)
	if e != nil {
		t.Error(e)
	}
	x, ok := value.(map[string]interface{})
	if !ok {
		t.Error(ok)
	}
	if len(x) != 2 {
		t.Error()
	}

	var i int32
	i, ok = x["lowerBound"].(int32)
	if !ok {
		t.Error(ok)
	}
	if i != 18 {
		t.Error(i)
	}

	i, ok = x["upperBound"].(int32)
	if !ok {
		t.Error(ok)
	}
	if i != 139 {
		t.Error(i)
	}
}

func TestParseRequest(t *testing.T) {
	source := xml.Header
	source += `<methodCall>
                   <methodName>doSomething</methodName>
                   <params>
                       <param><value><boolean>1</boolean></value></param>
                       <param><value><int>42</int></value></param>
                   </params>
               </methodCall>`
	buffer := bytes.NewBufferString(source)
	decoder := xml.NewDecoder(buffer)
	name, args, e := parseRequest(decoder)
	if e != nil {
		t.Error(e)
		return
	}
	if name != "doSomething" {
		t.Error(name)
		return
	}
	if len(args) != 2 {
		t.Error(args)
		return
	}

	b, ok := args[0].(bool)
	if !ok {
		t.Error(ok)
		return
	}
	if b != true {
		t.Error(b)
		return
	}

	var i int32
	i, ok = args[1].(int32)
	if !ok {
		t.Error(ok)
		return
	}
	if i != 42 {
		t.Error(i)
		return
	}
}

func TestParseResponse(t *testing.T) {
	source := xml.Header
	source += `<methodResponse>
                   <params><param><value><int>42</int></value>
                       </param>
                   </params>
               </methodResponse>`
	buffer := bytes.NewBufferString(source)
	decoder := xml.NewDecoder(buffer)
	ok, result, e := parseResponse(decoder)
	if e != nil {
		t.Error(e)
		return
	}
	if !ok {
		t.Error(e)
		return
	}
	var i int32
	i, ok = result.(int32)
	if !ok {
		t.Error(e)
		return
	}
	if i != 42 {
		t.Error(e)
		return
	}
}

func TestParseResponse2(t *testing.T) {
	source := `<?xml version="1.0"?>
<methodResponse><params><param>
<value><array><data>
  <value><i4>1</i4></value>
  <value></value>
  <value><array><data>
    <value>TCPROS</value>
    <value>hedgehog</value>
    <value><i4>52060</i4></value>
  </data></array></value>
</data></array></value>
</param></params></methodResponse>`
	buffer := bytes.NewBufferString(source)
	decoder := xml.NewDecoder(buffer)
	ok, result, e := parseResponse(decoder)
	if e != nil {
		t.Error(e)
		return
	}
	if !ok {
		t.Error(e)
		return
	}
	var outer []interface{}
	outer, ok = result.([]interface{})
	if !ok {
		t.Error("Result should be an array.")
	}
	if len(outer) != 3 {
		t.Errorf("Array len was %d, should be 3.", len(outer))
	}
	var i int32
	i, ok = outer[0].(int32)
	if !ok {
		t.Error("First elem should be int.")
	} else if i != 1 {
		t.Errorf("First elem should be 1, was %d.", i)
	}
}

func TestParseFault(t *testing.T) {
	source := xml.Header
	source += `<methodResponse>
                   <fault>
                       <value>
                           <struct>
                               <member>
                                   <name>faultCode</name>
                                   <value><int>42</int></value>
                               </member>
                               <member>
                                   <name>faultString</name>
                                   <value><string>failed</string></value>
                               </member>
                           </struct>
                       </value>
                   </fault>
               </methodResponse>`
	buffer := bytes.NewBufferString(source)
	decoder := xml.NewDecoder(buffer)
	ok, result, e := parseResponse(decoder)
	if e != nil {
		t.Error(e)
		return
	}
	if ok {
		t.Error(e)
		return
	}
	var m map[string]interface{}
	m, ok = result.(map[string]interface{})
	if !ok {
		t.Error(fmt.Sprintf("expected map from string to interface, got: %v with value '%v'",
			reflect.TypeOf(result), result))
		return
	}

	if len(m) != 2 {
		t.Error(m)
		return
	}

	v := m["faultCode"]
	var i int32
	i, ok = v.(int32)
	if !ok {
		t.Error(ok)
		return
	}
	if i != 42 {
		t.Error(i)
		return
	}

	v = m["faultString"]
	var s string
	s, ok = v.(string)
	if !ok {
		t.Error(ok)
		return
	}
	if s != "failed" {
		t.Error(s)
		return
	}
}

func TestParseEmptyString(t *testing.T) {
	buffer := bytes.NewBufferString("<value><string></string></value><value></value>")
	decoder := xml.NewDecoder(buffer)
	for i := 0; i < 2; i++ {
		_, _ = decoder.Token() // <value>
		value, e := parseValue(decoder)
		if e != nil {
			t.Fatal(e)
		}
		if s, ok := value.(string); !ok || s != "" {
			t.Errorf("value %d: %#v", i, value)
		}
	}
}

func TestParseRequestWithoutParams(t *testing.T) {
	source := xml.Header + "<methodCall><methodName>getPid</methodName></methodCall>"
	name, args, e := parseRequest(xml.NewDecoder(bytes.NewBufferString(source)))
	if e != nil {
		t.Fatal(e)
	}
	if name != "getPid" {
		t.Error(name)
	}
	if len(args) != 0 {
		t.Error(args)
	}
}

type myDispatcher struct {
	X int32
}

func (h *myDispatcher) addTwoInts(a int32, b int32) (int32, error) {
	c := h.X * (a + b)
	return c, nil
}

func (h *myDispatcher) fail(reason string) (interface{}, error) {
	return nil, fmt.Errorf("%s", reason)
}

func TestServer(t *testing.T) {
	d := myDispatcher{2}
	m := map[string]Method{
		"addTwoInts": d.addTwoInts,
		"fail":       d.fail,
	}
	handler := NewHandler(m)
	server := httptest.NewServer(handler)

	result, e := Call(server.URL, "addTwoInts", 1, 2)
	if e != nil {
		t.Error(e)
		return
	}
	i, ok := result.(int32)
	if !ok {
		t.Error(ok)
		return
	}
	if i != 6 {
		t.Error(i)
	}

	server.Close()
	handler.WaitForShutdown()
}

func TestServerFaults(t *testing.T) {
	d := myDispatcher{1}
	handler := NewHandler(map[string]Method{
		"addTwoInts": d.addTwoInts,
		"fail":       d.fail,
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	cases := []struct {
		method string
		args   []interface{}
	}{
		{"noSuchMethod", nil},
		{"addTwoInts", []interface{}{1}},
		{"addTwoInts", []interface{}{"one", 2}},
		{"fail", []interface{}{"boom"}},
	}
	for _, c := range cases {
		_, e := Call(server.URL, c.method, c.args...)
		if e == nil {
			t.Errorf("%s%v: expected a fault", c.method, c.args)
			continue
		}
		fault, ok := e.(*Fault)
		if !ok {
			t.Errorf("%s%v: expected *Fault but got %T: %v", c.method, c.args, e, e)
			continue
		}
		if fault.Code != 1 {
			t.Errorf("%s%v: fault code %d", c.method, c.args, fault.Code)
		}
	}
}
