// Package stream holds buffered io helpers shared by the CLI.
package stream

import (
	"bufio"
	"io"
	"sync"
)

var (
	DefaultBufioReaderPool = BufioReaderPool{Size: 4096}
	DefaultBufioWriterPool = BufioWriterPool{Size: 4096}
)

// BufioReaderPool recycles readers of one buffer size.
type BufioReaderPool struct {
	pool sync.Pool
	Size int
}

func (p *BufioReaderPool) Get(reader io.Reader) *bufio.Reader {
	if rd, ok := p.pool.Get().(*bufio.Reader); ok {
		rd.Reset(reader)
		return rd
	}
	return bufio.NewReaderSize(reader, p.Size)
}

func (p *BufioReaderPool) Put(reader *bufio.Reader) {
	reader.Reset(nil)
	p.pool.Put(reader)
}

// BufioWriterPool recycles writers of one buffer size.
// Writers are not flushed on Put.
type BufioWriterPool struct {
	pool sync.Pool
	Size int
}

func (p *BufioWriterPool) Get(writer io.Writer) *bufio.Writer {
	if wr, ok := p.pool.Get().(*bufio.Writer); ok {
		wr.Reset(writer)
		return wr
	}
	return bufio.NewWriterSize(writer, p.Size)
}

func (p *BufioWriterPool) Put(writer *bufio.Writer) {
	writer.Reset(nil)
	p.pool.Put(writer)
}
