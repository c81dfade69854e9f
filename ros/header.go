// Connection header
package ros

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// maxHeaderSize guards against reading garbage as a header length.
const maxHeaderSize = 1 << 20

type header struct {
	key   string
	value string
}

func headerMap(headers []header) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		m[h.key] = h.value
	}
	return m
}

func readConnectionHeader(r io.Reader) ([]header, error) {
	var headerSize uint32
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, err
	}
	if headerSize > maxHeaderSize {
		return nil, errors.Errorf("connection header too large: %d bytes", headerSize)
	}
	buf := make([]byte, int(headerSize))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	var headers []header
	for len(buf) > 0 {
		if len(buf) < 4 {
			return nil, errors.New("header length overrun")
		}
		size := binary.LittleEndian.Uint32(buf)
		buf = buf[4:]
		if uint32(len(buf)) < size {
			return nil, errors.New("header length overrun")
		}
		line := buf[:size]
		buf = buf[size:]
		sep := bytes.IndexByte(line, '=')
		if sep < 0 {
			return nil, errors.Errorf("malformed header field %q", line)
		}
		headers = append(headers, header{string(line[:sep]), string(line[sep+1:])})
	}
	return headers, nil
}

func writeConnectionHeader(headers []header, w io.Writer) error {
	var buf bytes.Buffer
	var headerSize int
	for _, h := range headers {
		headerSize += 4 + len(h.key) + 1 + len(h.value)
	}
	binary.Write(&buf, binary.LittleEndian, uint32(headerSize))
	for _, h := range headers {
		binary.Write(&buf, binary.LittleEndian, uint32(len(h.key)+1+len(h.value)))
		buf.WriteString(h.key)
		buf.WriteByte('=')
		buf.WriteString(h.value)
	}
	_, err := buf.WriteTo(w)
	return err
}
