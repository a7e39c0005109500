package binary

import (
	"bytes"
	"errors"
	"testing"
)

func TestReaderReadByte(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	r := NewReader(data, 100)

	for i, want := range data {
		if r.Offset() != 100+i {
			t.Errorf("offset before read %d: got %d, want %d", i, r.Offset(), 100+i)
		}
		b, err := r.ReadByte()
		if err != nil {
			t.Fatalf("ReadByte %d: %v", i, err)
		}
		if b != want {
			t.Errorf("ReadByte %d: got 0x%02x, want 0x%02x", i, b, want)
		}
	}

	_, err := r.ReadByte()
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Offset != 103 {
		t.Errorf("expected ParseError at offset 103, got %v", err)
	}
}

func TestReaderReadBytes(t *testing.T) {
	r := NewReader([]byte{0x01, 0x02, 0x03, 0x04, 0x05}, 0)

	got, err := r.ReadBytes(3)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(got, []byte{0x01, 0x02, 0x03}) {
		t.Errorf("ReadBytes: got %v, want [1 2 3]", got)
	}
	if !bytes.Equal(r.Since(0), got) {
		t.Errorf("Since: got %v", r.Since(0))
	}

	if _, err := r.ReadBytes(10); !errors.Is(err, ErrTruncated) {
		t.Errorf("expected ErrTruncated reading past end, got %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("failed read must not advance: %d left", r.Len())
	}
}

func TestReaderReadU32(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    uint32
		wantErr error
	}{
		{"zero", []byte{0x00}, 0, nil},
		{"one byte", []byte{0x7f}, 127, nil},
		{"two bytes", []byte{0x80, 0x01}, 128, nil},
		{"padded zero", []byte{0x80, 0x80, 0x00}, 0, nil},
		{"max", []byte{0xff, 0xff, 0xff, 0xff, 0x0f}, 0xffffffff, nil},
		{"overflow", []byte{0xff, 0xff, 0xff, 0xff, 0x1f}, 0, ErrOverflow},
		{"too long", []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x00}, 0, ErrOverflow},
		{"truncated", []byte{0x80}, 0, ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewReader(tt.data, 0).ReadU32()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadU32: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestReaderSigned(t *testing.T) {
	tests := []struct {
		data []byte
		want int64
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, -1},
		{[]byte{0x40}, -64},
		{[]byte{0x3f}, 63},
		{[]byte{0x80, 0x7f}, -128},
	}
	for _, tt := range tests {
		got, err := NewReader(tt.data, 0).ReadS64()
		if err != nil {
			t.Fatalf("ReadS64(%x): %v", tt.data, err)
		}
		if got != tt.want {
			t.Errorf("ReadS64(%x) = %d, want %d", tt.data, got, tt.want)
		}
	}
}

func TestReaderReadName(t *testing.T) {
	name, err := NewReader([]byte{0x03, 'a', 'b', 'c'}, 0).ReadName()
	if err != nil || name != "abc" {
		t.Fatalf("ReadName = %q, %v", name, err)
	}
	if _, err := NewReader([]byte{0x01, 0xff}, 0).ReadName(); !errors.Is(err, ErrInvalidUTF8) {
		t.Errorf("expected ErrInvalidUTF8, got %v", err)
	}
}

func TestWriterRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteU32(624485)
	w.WriteS64(-123456)
	w.WriteS32(-1)
	w.WriteName("memory")
	w.WriteU32LE(0x6D736100)

	r := NewReader(w.Bytes(), 0)
	if v, _ := r.ReadU32(); v != 624485 {
		t.Errorf("u32: got %d", v)
	}
	if v, _ := r.ReadS64(); v != -123456 {
		t.Errorf("s64: got %d", v)
	}
	if v, _ := r.ReadS32(); v != -1 {
		t.Errorf("s32: got %d", v)
	}
	if v, _ := r.ReadName(); v != "memory" {
		t.Errorf("name: got %q", v)
	}
	if v, _ := r.ReadU32LE(); v != 0x6D736100 {
		t.Errorf("u32le: got %x", v)
	}
	if r.Len() != 0 {
		t.Errorf("%d bytes left", r.Len())
	}
}

func TestWriterU32Encoding(t *testing.T) {
	w := NewWriter()
	w.WriteU32(624485)
	if !bytes.Equal(w.Bytes(), []byte{0xe5, 0x8e, 0x26}) {
		t.Errorf("got %x", w.Bytes())
	}
}
