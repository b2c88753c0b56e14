package forwarder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

type decoderFunc func(io.Reader) (io.ReadCloser, error)

var decoders = map[string]decoderFunc{
	"gzip": func(r io.Reader) (io.ReadCloser, error) {
		return gzip.NewReader(r)
	},
	"x-gzip": func(r io.Reader) (io.ReadCloser, error) {
		return gzip.NewReader(r)
	},
	"deflate": func(r io.Reader) (io.ReadCloser, error) {
		return zlib.NewReader(r)
	},
	"br": func(r io.Reader) (io.ReadCloser, error) {
		return io.NopCloser(brotli.NewReader(r)), nil
	},
	"zstd": func(r io.Reader) (io.ReadCloser, error) {
		d, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	},
}

// decodedBody reads through a decoder chain and closes every layer plus the
// raw upstream body.
type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (b *decodedBody) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i].Close())
	}
	return errors.Join(errs...)
}

// decodeBody undoes the codings listed in a Content-Encoding value, last
// applied first. An empty body is returned as-is since there is nothing to
// decode.
func decodeBody(contentEncoding string, body io.ReadCloser) (io.ReadCloser, error) {
	codings := parseCodings(contentEncoding)
	if len(codings) == 0 {
		return body, nil
	}

	for _, c := range codings {
		if _, ok := decoders[c]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, c)
		}
	}

	out := &decodedBody{Reader: body, closers: []io.Closer{body}}

	for i := len(codings) - 1; i >= 0; i-- {
		dec, err := decoders[codings[i]](out.Reader)
		if err != nil {
			if errors.Is(err, io.EOF) && i == len(codings)-1 {
				return body, nil
			}
			for _, c := range out.closers[1:] {
				_ = c.Close()
			}
			return nil, fmt.Errorf("%w: %s: %v", ErrBadResponse, codings[i], err)
		}
		out.Reader = dec
		out.closers = append(out.closers, dec)
	}

	return out, nil
}

func parseCodings(contentEncoding string) []string {
	var codings []string
	for _, c := range strings.Split(contentEncoding, ",") {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || c == "identity" {
			continue
		}
		codings = append(codings, c)
	}
	return codings
}

type primedBody struct {
	*bufio.Reader
	io.Closer
}

// primeBody decodes up to the first byte of body. An empty body is fine.
func primeBody(body io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(body)
	if _, err := br.Peek(1); err != nil && err != io.EOF {
		_ = body.Close()
		return nil, err
	}
	return primedBody{Reader: br, Closer: body}, nil
}

// trackedBody remembers the first read error other than io.EOF.
type trackedBody struct {
	io.ReadCloser
	err error
}

func (b *trackedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && err != io.EOF && b.err == nil {
		b.err = err
	}
	return n, err
}

func (b *trackedBody) failed() bool {
	return b != nil && b.err != nil
}
