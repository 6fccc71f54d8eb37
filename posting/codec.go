package posting

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"unicode"
)

// FormatVersion is written at the head of every encoded entry. Entries carrying any other version are refused.
const FormatVersion int64 = 0x2a5d1c3b7e9f4608

var ErrBadFormat = errors.New("malformed posting entry")

// FormatError describes an encoded entry which can not be decoded.
type FormatError struct {
	Msg string
	Err error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", ErrBadFormat, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrBadFormat, e.Msg)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

func (e *FormatError) Is(target error) bool {
	return target == ErrBadFormat
}

// Encode returns the binary form of e.
func Encode(e Entry) ([]byte, error) {
	return AppendEntry(nil, e)
}

// AppendEntry appends the binary form of e to buf.
func AppendEntry(buf []byte, e Entry) ([]byte, error) {
	var err error
	buf = binary.BigEndian.AppendUint64(buf, uint64(FormatVersion))
	buf = binary.BigEndian.AppendUint32(buf, uint32(e.Kind()))
	if buf, err = appendUTF(buf, e.Subject()); err != nil {
		return nil, fmt.Errorf("subject: %w", err)
	}
	buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(e.Relevance()))

	switch v := e.(type) {
	case *TermEntry:
		if buf, err = appendUTF(buf, v.Term); err != nil {
			return nil, fmt.Errorf("term: %w", err)
		}
	case *IndexEntry:
		if buf, err = appendLocator(buf, v.Index); err != nil {
			return nil, err
		}
	case *PageEntry:
		if buf, err = appendLocator(buf, v.Page); err != nil {
			return nil, err
		}
		if len(v.Positions) > math.MaxInt32 {
			return nil, fmt.Errorf("too many positions: %d", len(v.Positions))
		}
		size := int32(len(v.Positions))
		if v.Title != "" {
			if err := checkTitle(v.Title); err != nil {
				return nil, err
			}
			buf = binary.BigEndian.AppendUint32(buf, uint32(^size))
			if buf, err = appendUTF(buf, v.Title); err != nil {
				return nil, fmt.Errorf("title: %w", err)
			}
		} else {
			buf = binary.BigEndian.AppendUint32(buf, uint32(size))
		}
		for _, pos := range v.SortedPositions() {
			buf = binary.BigEndian.AppendUint32(buf, uint32(pos))
			if buf, err = appendUTF(buf, v.Positions[pos]); err != nil {
				return nil, fmt.Errorf("fragment at %d: %w", pos, err)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported entry type %T", e)
	}
	return buf, nil
}

func appendLocator(buf []byte, loc string) ([]byte, error) {
	if len(loc) > maxUTFLen {
		return nil, fmt.Errorf("locator: %w", errUTFTooLong)
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(loc)))
	return append(buf, loc...), nil
}

func checkTitle(title string) error {
	for i, r := range title {
		if unicode.Is(unicode.Cc, r) {
			return fmt.Errorf("title contains control character %U at byte %d", r, i)
		}
	}
	return nil
}

// Decode parses a single encoded entry. Trailing bytes are an error.
func Decode(b []byte) (Entry, error) {
	r := bytes.NewReader(b)
	e, err := ReadEntry(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, &FormatError{Msg: fmt.Sprintf("%d trailing bytes", r.Len())}
	}
	return e, nil
}

// ReadEntry reads one encoded entry from r.
func ReadEntry(r io.Reader) (Entry, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, &FormatError{Msg: "reading header", Err: err}
	}
	if v := int64(binary.BigEndian.Uint64(hdr[:8])); v != FormatVersion {
		return nil, &FormatError{Msg: fmt.Sprintf("unsupported format version %#x", v)}
	}
	kind := Kind(binary.BigEndian.Uint32(hdr[8:]))
	if kind < KindTerm || kind > KindPage {
		return nil, &FormatError{Msg: fmt.Sprintf("unknown entry type ordinal %d", int32(kind))}
	}

	subj, err := readUTF(r)
	if err != nil {
		return nil, &FormatError{Msg: "reading subject", Err: err}
	}
	rel, err := readUint32(r)
	if err != nil {
		return nil, &FormatError{Msg: "reading relevance", Err: err}
	}
	relevance := math.Float32frombits(rel)

	switch kind {
	case KindTerm:
		term, err := readUTF(r)
		if err != nil {
			return nil, &FormatError{Msg: "reading term", Err: err}
		}
		return &TermEntry{Subj: subj, Rel: relevance, Term: term}, nil
	case KindIndex:
		loc, err := readLocator(r)
		if err != nil {
			return nil, err
		}
		return &IndexEntry{Subj: subj, Rel: relevance, Index: loc}, nil
	default:
		loc, err := readLocator(r)
		if err != nil {
			return nil, err
		}
		raw, err := readUint32(r)
		if err != nil {
			return nil, &FormatError{Msg: "reading position count", Err: err}
		}
		size := int32(raw)
		e := &PageEntry{Subj: subj, Rel: relevance, Page: loc}
		if size < 0 {
			size = ^size
			if e.Title, err = readUTF(r); err != nil {
				return nil, &FormatError{Msg: "reading title", Err: err}
			}
		}
		if size > 0 {
			e.Positions = make(map[int32]string, min(int(size), 4096))
		}
		for i := int32(0); i < size; i++ {
			pos, err := readUint32(r)
			if err != nil {
				return nil, &FormatError{Msg: "reading position", Err: err}
			}
			frag, err := readUTF(r)
			if err != nil {
				return nil, &FormatError{Msg: "reading fragment", Err: err}
			}
			e.Positions[int32(pos)] = frag
		}
		if len(e.Positions) != int(size) {
			return nil, &FormatError{Msg: "duplicate positions"}
		}
		return e, nil
	}
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readLocator(r io.Reader) (string, error) {
	var lb [2]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return "", &FormatError{Msg: "reading locator length", Err: err}
	}
	b := make([]byte, binary.BigEndian.Uint16(lb[:]))
	if _, err := io.ReadFull(r, b); err != nil {
		return "", &FormatError{Msg: "reading locator", Err: err}
	}
	return string(b), nil
}

// SortEntries sorts entries in natural order, in place.
func SortEntries(entries []Entry) {
	slices.SortFunc(entries, Compare)
}
