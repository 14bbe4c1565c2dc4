package stream

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func readFrames(t *testing.T, r io.Reader) []Frame {
	t.Helper()
	dec := NewDecoder(r)
	var frames []Frame
	for {
		f, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return frames
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		frames = append(frames, f)
	}
}

func TestDecoder(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Frame
	}{
		{
			name:  "event and data",
			input: "event: ping\ndata: {}\n\n",
			want:  []Frame{{Event: "ping", Data: []byte("{}")}},
		},
		{
			name:  "multi-line data joined",
			input: "data: a\ndata: b\n\n",
			want:  []Frame{{Data: []byte("a\nb")}},
		},
		{
			name:  "comments and blank lines skipped",
			input: ": hello\n\n\ndata: x\n\n",
			want:  []Frame{{Data: []byte("x")}},
		},
		{
			name:  "crlf line endings",
			input: "event: e\r\ndata: y\r\n\r\n",
			want:  []Frame{{Event: "e", Data: []byte("y")}},
		},
		{
			name:  "pending frame flushed at eof",
			input: "data: tail",
			want:  []Frame{{Data: []byte("tail")}},
		},
		{
			name:  "event without data is dropped",
			input: "event: lonely\n\ndata: z\n\n",
			want:  []Frame{{Data: []byte("z")}},
		},
		{
			name:  "no space after colon",
			input: "data:raw\n\n",
			want:  []Frame{{Data: []byte("raw")}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, r := range []io.Reader{strings.NewReader(tt.input), iotest.OneByteReader(strings.NewReader(tt.input))} {
				got := readFrames(t, r)
				if len(got) != len(tt.want) {
					t.Fatalf("frames = %d, want %d (%+v)", len(got), len(tt.want), got)
				}
				for i := range got {
					if got[i].Event != tt.want[i].Event || string(got[i].Data) != string(tt.want[i].Data) {
						t.Errorf("frame %d = {%q %q}, want {%q %q}", i,
							got[i].Event, got[i].Data, tt.want[i].Event, tt.want[i].Data)
					}
				}
			}
		})
	}
}

func TestDecoder_ReadError(t *testing.T) {
	boom := errors.New("connection reset")
	dec := NewDecoder(iotest.ErrReader(boom))
	if _, err := dec.Next(); !errors.Is(err, boom) {
		t.Errorf("Next() error = %v, want %v", err, boom)
	}
}
