package fit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/muktihari/fit/decoder"
	"github.com/muktihari/fit/proto"
)

const (
	// MinHeaderSize is the legacy 12-byte header without a header CRC
	MinHeaderSize = 12
	// HeaderSizeWithCRC is the current 14-byte header
	HeaderSizeWithCRC = 14

	maxProtocolMajor = 2
)

// Option configures Open
type Option func(*options)

type options struct {
	checkCRC bool
}

// WithoutCRC skips header and file CRC verification
func WithoutCRC() Option {
	return func(o *options) {
		o.checkCRC = false
	}
}

// Decoder reads data messages from a FIT file one at a time. The file is
// decoded on a background goroutine that hands each message over as Next
// asks for it. Once Next returns an error (including io.EOF) the same
// error is returned forever and the file must be reopened.
type Decoder struct {
	path       string
	file       *os.File
	size       int64
	header     proto.FileHeader
	crcChecked bool
	messages   int64
	err        error

	// set when the stream starts
	cancel context.CancelFunc
	msgs   chan *Message
	done   chan struct{}
	result error
}

// Open opens path and validates its header. Unless WithoutCRC is given,
// the header CRC and the trailing file CRC are verified by streaming the
// file once before the first message is decoded.
func Open(path string, opts ...Option) (*Decoder, error) {
	o := options{checkCRC: true}
	for _, opt := range opts {
		opt(&o)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, &Error{Kind: KindIO, Err: err}
	}

	d := &Decoder{path: path, file: file, crcChecked: o.checkCRC}
	if err := d.init(); err != nil {
		file.Close()
		return nil, err
	}
	return d, nil
}

func (d *Decoder) init() error {
	info, err := d.file.Stat()
	if err != nil {
		return &Error{Kind: KindIO, Err: err}
	}
	d.size = info.Size()

	fd := decoder.New(d.file, decoder.WithIgnoreChecksum())
	h, err := fd.PeekFileHeader()
	if err != nil {
		return headerError(err)
	}
	if h.ProtocolVersion.Major() > maxProtocolMajor {
		return &Error{Kind: KindBadHeader, Err: fmt.Errorf("unsupported protocol version %d.%d",
			h.ProtocolVersion.Major(), h.ProtocolVersion.Minor())}
	}
	d.header = h

	if d.crcChecked {
		if err := d.rewind(); err != nil {
			return err
		}
		fd.Reset(d.file)
		// Data after the first verified sequence is never decoded
		if seq, err := fd.CheckIntegrity(); err != nil && seq == 0 {
			return integrityError(err)
		}
	}
	return d.rewind()
}

func (d *Decoder) rewind() error {
	if _, err := d.file.Seek(0, io.SeekStart); err != nil {
		return &Error{Kind: KindIO, Err: err}
	}
	return nil
}

// dataEnd is the file offset where the record stream ends
func (d *Decoder) dataEnd() int64 {
	return int64(d.header.Size) + int64(d.header.DataSize)
}

// Close stops the background decode and releases the underlying file
func (d *Decoder) Close() error {
	if d.file == nil {
		return nil
	}
	if d.cancel != nil {
		d.cancel()
		<-d.done
	}
	err := d.file.Close()
	d.file = nil
	return err
}

// Header returns the parsed file header
func (d *Decoder) Header() proto.FileHeader {
	return d.header
}

// CRCChecked reports whether the file CRC was verified on open
func (d *Decoder) CRCChecked() bool {
	return d.crcChecked
}

// Messages returns the number of data messages decoded so far
func (d *Decoder) Messages() int64 {
	return d.messages
}

// Next returns the next data message, or io.EOF at the end of the data
// region.
func (d *Decoder) Next(ctx context.Context) (*Message, error) {
	if d.err != nil {
		return nil, d.err
	}
	if d.file == nil {
		return nil, &Error{Kind: KindIO, Err: os.ErrClosed}
	}
	// Cancellation is the caller's decision, not a property of the stream
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.msgs == nil {
		d.start()
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-d.msgs:
		d.messages++
		return msg, nil
	case <-d.done:
		d.err = d.streamError(d.result)
		return nil, d.err
	}
}

// NextOf returns the next data message with the given global number
func (d *Decoder) NextOf(ctx context.Context, num MesgNum) (*Message, error) {
	for {
		msg, err := d.Next(ctx)
		if err != nil {
			return nil, err
		}
		if msg.Num == num {
			return msg, nil
		}
	}
}

func (d *Decoder) start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.msgs = make(chan *Message)
	d.done = make(chan struct{})

	opts := []decoder.Option{
		decoder.WithMesgListener(&listener{ctx: ctx, out: d.msgs}),
		decoder.WithBroadcastOnly(),
	}
	if !d.crcChecked {
		opts = append(opts, decoder.WithIgnoreChecksum())
	}
	fd := decoder.New(d.file, opts...)

	go func() {
		defer close(d.done)
		_, d.result = fd.DecodeWithContext(ctx)
	}()
}

// listener hands each decoded message to Next, one at a time
type listener struct {
	ctx context.Context
	out chan<- *Message
}

func (l *listener) OnMesg(m proto.Message) {
	msg := newMessage(&m)
	select {
	case l.out <- msg:
	case <-l.ctx.Done():
	}
}

// streamError maps the result of the background decode. A file whose data
// region is complete but whose trailing CRC is cut off still ends cleanly
// when the CRC is not being verified.
func (d *Decoder) streamError(err error) error {
	switch {
	case err == nil:
		return io.EOF
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		if !d.crcChecked && d.size >= d.dataEnd() {
			return io.EOF
		}
		return &Error{Kind: KindTruncated, Err: fmt.Errorf("data region ends early (%d of %d bytes): %w",
			d.size, d.dataEnd(), err)}
	case errors.Is(err, decoder.ErrCRCChecksumMismatch):
		return &Error{Kind: KindIntegrity, Err: err}
	case errors.Is(err, fs.ErrClosed) || isPathError(err):
		return &Error{Kind: KindIO, Err: err}
	default:
		return &Error{Kind: KindMalformed, Err: err}
	}
}

// headerError classifies a failure to read the file header
func headerError(err error) error {
	switch {
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		return &Error{Kind: KindBadHeader, Err: fmt.Errorf("file too short for header: %w", err)}
	case errors.Unwrap(err) == decoder.ErrNotFITFile:
		// the bare sentinel is only returned for the ".FIT" signature
		return &Error{Kind: KindBadMagic, Err: err}
	case errors.Is(err, decoder.ErrNotFITFile):
		return &Error{Kind: KindBadHeader, Err: err}
	default:
		return &Error{Kind: KindIO, Err: err}
	}
}

// integrityError classifies a failed CRC pass. A CRC region shorter than
// the header declares is an integrity failure, not a truncation: the
// CRC-less reopen may still salvage the records that are there.
func integrityError(err error) error {
	switch {
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		return &Error{Kind: KindIntegrity, Err: fmt.Errorf("crc region shorter than declared: %w", err)}
	case errors.Is(err, decoder.ErrCRCChecksumMismatch):
		return &Error{Kind: KindIntegrity, Err: err}
	case isPathError(err):
		return &Error{Kind: KindIO, Err: err}
	default:
		return &Error{Kind: KindIntegrity, Err: err}
	}
}

func isPathError(err error) bool {
	var pe *fs.PathError
	return errors.As(err, &pe)
}

func (d *Decoder) String() string {
	return fmt.Sprintf("fit.Decoder(%s, %d messages)", d.path, d.messages)
}
