// Package jsonrpc carries newline-delimited JSON-RPC documents over a stream
// transport: Reassembler rebuilds documents from arbitrary read chunks and
// Gate serializes writes once the transport is ready.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

const readChunkSize = 64 * 1024

// DecodeError reports one segment that is not valid JSON. It never aborts
// processing of the other segments in the same chunk.
type DecodeError struct {
	Segment []byte
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode segment %q: %v", e.Segment, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Reassembler turns a sequence of read chunks with no guaranteed boundaries
// into complete JSON documents. A chunk that does not end in a newline is
// held until one that does arrives. Not safe for concurrent use; one read
// loop owns it.
type Reassembler struct {
	pending []byte
}

// Feed consumes one chunk and returns the documents it completes, in order,
// together with a DecodeError for every malformed segment.
func (r *Reassembler) Feed(chunk []byte) ([]json.RawMessage, []error) {
	if len(chunk) == 0 || chunk[len(chunk)-1] != '\n' {
		r.pending = append(r.pending, chunk...)
		return nil, nil
	}

	data := chunk
	if len(r.pending) > 0 {
		data = append(r.pending, chunk...)
		r.pending = nil
	}
	// A lone newline is a keepalive.
	if len(data) <= 1 {
		return nil, nil
	}

	var docs []json.RawMessage
	var errs []error
	for _, segment := range bytes.Split(data, []byte{'\n'}) {
		segment = bytes.TrimSpace(segment)
		if len(segment) == 0 {
			continue
		}
		var doc json.RawMessage
		if err := json.Unmarshal(segment, &doc); err != nil {
			errs = append(errs, &DecodeError{Segment: bytes.Clone(segment), Err: err})
			continue
		}
		docs = append(docs, doc)
	}
	return docs, errs
}

// Pending reports how many bytes are buffered waiting for a newline.
func (r *Reassembler) Pending() int {
	return len(r.pending)
}

// Pump reads from src until it fails, handing every complete document to
// handle and every malformed segment to fail. It returns the read error that
// ended the loop; io.EOF means the peer closed its side cleanly.
func (r *Reassembler) Pump(src io.Reader, handle func(json.RawMessage), fail func(error)) error {
	buf := make([]byte, readChunkSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			docs, errs := r.Feed(buf[:n])
			for _, e := range errs {
				fail(e)
			}
			for _, doc := range docs {
				handle(doc)
			}
		}
		if err != nil {
			return err
		}
	}
}
