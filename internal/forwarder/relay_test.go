package forwarder_test

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/book-gateway/internal/forwarder"
	"github.com/angeloszaimis/book-gateway/pkg/logger"
)

// gzipHeaderLen is the size of the fixed gzip member header written when
// no name, comment or extra field is set.
const gzipHeaderLen = 10

// corruptFirstBlock keeps a valid gzip header but makes the first deflate
// block use the reserved block type.
func corruptFirstBlock(payload []byte) []byte {
	out := compress("gzip", payload)
	for i := gzipHeaderLen; i < len(out); i++ {
		out[i] = 0xff
	}
	return out
}

// truncatedGzip returns the first half of a gzip stream over incompressible
// data, so the leading blocks decode and the stream ends early.
func truncatedGzip() []byte {
	payload := make([]byte, 256*1024)
	_, err := rand.Read(payload)
	Expect(err).NotTo(HaveOccurred())

	out := compress("gzip", payload)
	return out[:len(out)/2]
}

var _ = Describe("Relaying the response body", func() {
	var (
		fwd     *forwarder.Forwarder
		backend *httptest.Server
		respond http.HandlerFunc
	)

	BeforeEach(func() {
		respond = func(w http.ResponseWriter, r *http.Request) {}
		backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			respond(w, r)
		}))
		fwd = forwarder.New(
			forwarder.WithTimeout(200*time.Millisecond),
			forwarder.WithLogger(logger.Discard()),
		)
	})

	AfterEach(func() {
		backend.Close()
	})

	It("should answer 502 when the first encoded block is corrupt", func() {
		respond = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Encoding", "gzip")
			w.Write(corruptFirstBlock([]byte(`{"id":42}`)))
		}

		req := httptest.NewRequest(http.MethodGet, "/catalog/items/42", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		rec := httptest.NewRecorder()

		err := fwd.Forward(rec, req, routeTo("catalog", "/catalog", backend.URL))
		Expect(errors.Is(err, forwarder.ErrBadResponse)).To(BeTrue())
		Expect(forwarder.Kind(err)).To(Equal("bad_response"))
		Expect(rec.Code).To(Equal(http.StatusBadGateway))
		Expect(rec.Body.String()).To(ContainSubstring(`"message":"malformed upstream response"`))
	})

	It("should report an encoded body that breaks off mid-stream", func() {
		respond = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Encoding", "gzip")
			w.Write(truncatedGzip())
		}

		req := httptest.NewRequest(http.MethodGet, "/inventory/export", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		rec := httptest.NewRecorder()

		err := fwd.Forward(rec, req, routeTo("inventory", "/inventory", backend.URL))
		Expect(errors.Is(err, forwarder.ErrBadResponse)).To(BeTrue())

		var fe *forwarder.Error
		Expect(errors.As(err, &fe)).To(BeTrue())
		Expect(fe.Op).To(Equal("relay"))
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.Len()).To(BeNumerically(">", 0))
	})

	It("should report a timeout that fires while the body streams", func() {
		respond = func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "partial")
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}

		req := httptest.NewRequest(http.MethodGet, "/orders/feed", nil)
		rec := httptest.NewRecorder()

		start := time.Now()
		err := fwd.Forward(rec, req, routeTo("orders", "/orders", backend.URL))
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
		Expect(errors.Is(err, forwarder.ErrUpstreamTimeout)).To(BeTrue())
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(Equal("partial"))
	})

	It("should interrupt the upstream call when the caller leaves mid-flight", func() {
		arrived := make(chan struct{})
		upstreamCanceled := make(chan struct{})
		respond = func(w http.ResponseWriter, r *http.Request) {
			close(arrived)
			select {
			case <-r.Context().Done():
				close(upstreamCanceled)
			case <-time.After(5 * time.Second):
			}
		}
		fwd = forwarder.New(
			forwarder.WithTimeout(10*time.Second),
			forwarder.WithLogger(logger.Discard()),
		)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-arrived
			cancel()
		}()

		req := httptest.NewRequest(http.MethodGet, "/orders/1", nil).WithContext(ctx)
		rec := httptest.NewRecorder()

		start := time.Now()
		err := fwd.Forward(rec, req, routeTo("orders", "/orders", backend.URL))
		Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))
		Expect(errors.Is(err, forwarder.ErrClientCanceled)).To(BeTrue())
		Expect(rec.Code).To(Equal(forwarder.StatusClientClosedRequest))
		Eventually(upstreamCanceled).Should(BeClosed())
	})

	It("should drop every hop-by-hop response header", func() {
		respond = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Connection", "X-Hop-Only")
			w.Header().Set("X-Hop-Only", "1")
			w.Header().Set("Keep-Alive", "timeout=5")
			w.Header().Set("Proxy-Authenticate", `Basic realm="backend"`)
			w.Header().Set("X-Book", "dune")
			io.WriteString(w, "ok")
		}

		req := httptest.NewRequest(http.MethodGet, "/catalog/items/1", nil)
		rec := httptest.NewRecorder()

		Expect(fwd.Forward(rec, req, routeTo("catalog", "/catalog", backend.URL))).To(Succeed())
		for _, h := range []string{"Connection", "X-Hop-Only", "Keep-Alive", "Proxy-Authenticate"} {
			Expect(rec.Header()).NotTo(HaveKey(h))
		}
		Expect(rec.Header().Get("X-Book")).To(Equal("dune"))
	})
})
