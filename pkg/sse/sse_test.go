package sse

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

const sample = "event: delta\ndata: hello\n\n" +
	": keepalive\n\n" +
	"id: 7\ndata: two\ndata: lines\n\n" +
	"data:no-space\n\n" +
	"data:  \n\n" +
	"data: [DONE]\n\n" +
	"data: after\n\n"

func feedAll(chunks [][]byte) ([]Frame, *Parser) {
	p := NewParser()
	var out []Frame
	for _, c := range chunks {
		out = append(out, p.Feed(c)...)
	}
	return out, p
}

func TestParserFields(t *testing.T) {
	frames, p := feedAll([][]byte{[]byte(sample)})
	want := []Frame{
		{Event: "delta", Data: "hello"},
		{Event: DefaultEvent, Data: "two\nlines"},
		{Event: DefaultEvent, Data: "no-space"},
		{Event: DefaultEvent, Data: " "},
	}
	if !reflect.DeepEqual(frames, want) {
		t.Fatalf("unexpected frames:\n got %#v\nwant %#v", frames, want)
	}
	if !p.Done() || p.Err() != nil {
		t.Fatalf("expected clean completion at the sentinel")
	}
}

func TestParserChunkBoundaryIndependence(t *testing.T) {
	whole, _ := feedAll([][]byte{[]byte(sample)})
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		data := []byte(sample)
		var chunks [][]byte
		for len(data) > 0 {
			n := 1 + rng.Intn(len(data))
			chunks = append(chunks, data[:n])
			data = data[n:]
		}
		got, _ := feedAll(chunks)
		if !reflect.DeepEqual(got, whole) {
			t.Fatalf("round %d: split %d ways gave %#v", round, len(chunks), got)
		}
	}
	// byte at a time, CRLF endings
	crlf := strings.ReplaceAll(sample, "\n", "\r\n")
	var chunks [][]byte
	for i := 0; i < len(crlf); i++ {
		chunks = append(chunks, []byte{crlf[i]})
	}
	got, _ := feedAll(chunks)
	if !reflect.DeepEqual(got, whole) {
		t.Fatalf("CRLF byte-wise feed differs: %#v", got)
	}
}

func TestParserKeepsResidue(t *testing.T) {
	p := NewParser()
	if got := p.Feed([]byte("data: par")); len(got) != 0 {
		t.Fatalf("expected no frame mid-delimiter, got %v", got)
	}
	if got := p.Feed([]byte("tial\n")); len(got) != 0 {
		t.Fatalf("expected no frame on a single newline, got %v", got)
	}
	if p.Buffered() == 0 {
		t.Fatalf("expected residue buffered")
	}
	got := p.Feed([]byte("\n"))
	if len(got) != 1 || got[0].Data != "partial" {
		t.Fatalf("unexpected frames: %v", got)
	}
}

func TestParserErrorFrame(t *testing.T) {
	p := NewParser()
	got := p.Feed([]byte("data: a\n\nevent: error\ndata: boom\n\ndata: b\n\n"))
	if len(got) != 1 || got[0].Data != "a" {
		t.Fatalf("expected only content before the error, got %v", got)
	}
	var rerr *RemoteError
	if !errors.As(p.Err(), &rerr) || rerr.Message != "boom" {
		t.Fatalf("expected remote error boom, got %v", p.Err())
	}
	if more := p.Feed([]byte("data: c\n\n")); more != nil {
		t.Fatalf("expected parser to ignore input after termination")
	}
}

func TestReaderSentinelIdempotence(t *testing.T) {
	body := "data: a\n\ndata: b\n\ndata: [DONE]\n\ndata: c\n\ndata: [DONE]\n\n"
	r := NewReader(strings.NewReader(body))
	var got []string
	for f, err := range r.Frames() {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, f.Data)
	}
	if strings.Join(got, ",") != "a,b" {
		t.Fatalf("expected no fragments after sentinel, got %v", got)
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF to stick, got %v", err)
	}
}

func TestReaderNaturalEOFAndRemoteError(t *testing.T) {
	r := NewReader(strings.NewReader("data: only\n\ndata: dangling"))
	f, err := r.Next()
	if err != nil || f.Data != "only" {
		t.Fatalf("unexpected first frame %v %v", f, err)
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}

	r = NewReader(strings.NewReader("event: error\ndata: quota\n\n"))
	var seen error
	for _, err := range r.Frames() {
		seen = err
	}
	var rerr *RemoteError
	if !errors.As(seen, &rerr) || rerr.Message != "quota" {
		t.Fatalf("expected remote error from sequence, got %v", seen)
	}
}

func TestWriterRoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)
	_ = w.WriteData("line one\nline two")
	_ = w.WriteData(" ")
	_ = w.WriteError("bad")

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !rec.Flushed {
		t.Fatalf("expected writer to flush")
	}
	p := NewParser()
	frames := p.Feed(rec.Body.Bytes())
	if len(frames) != 2 || frames[0].Data != "line one\nline two" || frames[1].Data != " " {
		t.Fatalf("unexpected frames %#v", frames)
	}
	if p.Err() == nil {
		t.Fatalf("expected error frame to terminate")
	}

	var buf bytes.Buffer
	_ = NewWriter(&buf).WriteDone()
	if buf.String() != "data: [DONE]\n\n" {
		t.Fatalf("unexpected sentinel encoding %q", buf.String())
	}
}
