package specs

import (
	"bytes"
	"iter"

	"github.com/oesand/wsline/internal"
)

var (
	directColonSpace = []byte(": ")
	directCrlf       = []byte("\r\n")
)

// NewHeader creates a Header and applies the configure functions to it.
func NewHeader(configure ...func(*Header)) *Header {
	header := &Header{}
	for _, conf := range configure {
		conf(header)
	}
	return header
}

type headerEntry struct {
	name  string
	value string
}

// Header keeps field names as received and preserves insertion order,
// while lookups are case-insensitive.
type Header struct {
	_ internal.NoCopy

	entries []headerEntry
	index   map[string]int
}

func (header *Header) lookup(name string) (int, bool) {
	if header.index == nil {
		return -1, false
	}
	i, has := header.index[internal.FoldCase(name)]
	return i, has
}

func (header *Header) Get(name string) string {
	if i, has := header.lookup(name); has {
		return header.entries[i].value
	}
	return ""
}

func (header *Header) TryGet(name string) (string, bool) {
	if i, has := header.lookup(name); has {
		return header.entries[i].value, true
	}
	return "", false
}

func (header *Header) Has(name string) bool {
	_, has := header.lookup(name)
	return has
}

// Set replaces the value of an existing field, keeping its position
// and original name, or appends a new one.
func (header *Header) Set(name, value string) {
	if i, has := header.lookup(name); has {
		header.entries[i].value = value
		return
	}
	if header.index == nil {
		header.index = map[string]int{}
	}
	header.index[internal.FoldCase(name)] = len(header.entries)
	header.entries = append(header.entries, headerEntry{name: name, value: value})
}

func (header *Header) Del(name string) {
	i, has := header.lookup(name)
	if !has {
		return
	}
	header.entries = append(header.entries[:i], header.entries[i+1:]...)
	header.index = make(map[string]int, len(header.entries))
	for pos, entry := range header.entries {
		header.index[internal.FoldCase(entry.name)] = pos
	}
}

func (header *Header) Len() int {
	return len(header.entries)
}

func (header *Header) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, entry := range header.entries {
			if !yield(entry.name, entry.value) {
				break
			}
		}
	}
}

// Bytes renders the fields as "Name: value\r\n" lines in insertion order.
func (header *Header) Bytes() []byte {
	if len(header.entries) == 0 {
		return make([]byte, 0)
	}
	var buf bytes.Buffer

	for _, entry := range header.entries {
		buf.WriteString(entry.name)
		buf.Write(directColonSpace)
		buf.WriteString(entry.value)
		buf.Write(directCrlf)
	}

	return buf.Bytes()
}
