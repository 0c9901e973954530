// Package grpcweb lets browsers call the scheduler service over gRPC-Web.
package grpcweb

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"klinika-scheduler/internal/handler"
	"klinika-scheduler/internal/logger"
	"klinika-scheduler/internal/middleware"
)

const (
	dataFlag    byte = 0x00
	trailerFlag byte = 0x80

	// one slots or conflict request is a few hundred bytes
	maxBody = 1 << 20
)

type Options struct {
	Logger *logger.Logger
	// Origins allowed to call from a browser. Empty allows any.
	Origins []string
}

// Bridge unwraps gRPC-Web calls and forwards them to the scheduler's own
// gRPC listener.
type Bridge struct {
	conn    *grpc.ClientConn
	log     *logrus.Entry
	origins map[string]bool
}

// New dials the scheduler's gRPC server at addr (e.g. "localhost:50051").
func New(addr string, o Options) (*Bridge, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpcweb dial: %w", err)
	}
	if o.Logger == nil {
		o.Logger = logger.Discard()
	}
	b := &Bridge{conn: conn, log: o.Logger.WithComponent("grpcweb")}
	if len(o.Origins) > 0 {
		b.origins = map[string]bool{}
		for _, origin := range o.Origins {
			b.origins[strings.TrimRight(origin, "/")] = true
		}
	}
	return b, nil
}

func (b *Bridge) Close() error { return b.conn.Close() }

func (b *Bridge) allowed(origin string) bool {
	return b.origins == nil || b.origins[origin]
}

func (b *Bridge) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if !b.allowed(origin) {
				b.log.WithField("origin", origin).Warn("origin not allowed")
				http.Error(w, "origin not allowed", http.StatusForbidden)
				return
			}
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Grpc-Web, X-User-Agent")
			h.Set("Access-Control-Expose-Headers", "Grpc-Status, Grpc-Message")
			h.Set("Access-Control-Max-Age", "86400")
		}

		switch {
		case r.Method == http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
			return
		case r.Method != http.MethodPost:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		case !strings.HasPrefix(r.Header.Get("Content-Type"), "application/grpc-web"):
			http.Error(w, "not grpc-web", http.StatusUnsupportedMediaType)
			return
		case !strings.HasPrefix(r.URL.Path, "/"+handler.ServiceName+"/"):
			writeStatus(w, status.New(codes.Unimplemented, "unknown service"))
			return
		}
		b.forward(w, r)
	})
}

func (b *Bridge) forward(w http.ResponseWriter, r *http.Request) {
	log := b.log.WithField("method", r.URL.Path)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		writeStatus(w, status.New(codes.Internal, "read body failed"))
		return
	}
	payload, err := unframe(body)
	if err != nil {
		writeStatus(w, status.New(codes.InvalidArgument, err.Error()))
		return
	}

	md := metadata.MD{}
	if v := r.Header.Values("Authorization"); len(v) > 0 {
		md.Set("authorization", v...)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		md.Set(middleware.ForwardedFor, host)
	}
	ctx := metadata.NewOutgoingContext(r.Context(), md)

	var resp rawMsg
	err = b.conn.Invoke(ctx, r.URL.Path, &rawMsg{data: payload}, &resp, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		st := status.Convert(err)
		log.WithField("code", st.Code().String()).Debug(st.Message())
		writeStatus(w, st)
		return
	}
	w.Header().Set("Content-Type", "application/grpc-web+proto")
	w.WriteHeader(http.StatusOK)
	w.Write(frame(dataFlag, resp.data))
	w.Write(frame(trailerFlag, trailer(codes.OK, "")))
}

// unframe takes the single data frame of a unary call.
func unframe(body []byte) ([]byte, error) {
	if len(body) > maxBody {
		return nil, fmt.Errorf("body over %d bytes", maxBody)
	}
	if len(body) < 5 {
		return nil, fmt.Errorf("body too short")
	}
	if body[0]&trailerFlag != 0 {
		return nil, fmt.Errorf("expected a data frame")
	}
	n := binary.BigEndian.Uint32(body[1:5])
	if uint64(n)+5 > uint64(len(body)) {
		return nil, fmt.Errorf("incomplete frame")
	}
	return body[5 : 5+n], nil
}

type rawMsg struct{ data []byte }

// rawCodec hands the browser's protobuf bytes to the server untouched.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) { return v.(*rawMsg).data, nil }

func (rawCodec) Unmarshal(data []byte, v any) error {
	v.(*rawMsg).data = append([]byte(nil), data...)
	return nil
}

func (rawCodec) Name() string { return "raw" }

func frame(flag byte, data []byte) []byte {
	f := make([]byte, 5+len(data))
	f[0] = flag
	binary.BigEndian.PutUint32(f[1:5], uint32(len(data)))
	copy(f[5:], data)
	return f
}

func trailer(code codes.Code, msg string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "grpc-status:%d\r\n", code)
	if msg != "" {
		fmt.Fprintf(&b, "grpc-message:%s\r\n", encodeMessage(msg))
	}
	return []byte(b.String())
}

// encodeMessage percent-encodes everything outside printable ASCII, and '%'
// itself, the way grpc-message is sent on the wire.
func encodeMessage(msg string) string {
	var b strings.Builder
	for i := 0; i < len(msg); i++ {
		c := msg[i]
		if c >= ' ' && c <= '~' && c != '%' {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func writeStatus(w http.ResponseWriter, st *status.Status) {
	w.Header().Set("Content-Type", "application/grpc-web+proto")
	w.WriteHeader(http.StatusOK)
	w.Write(frame(trailerFlag, trailer(st.Code(), st.Message())))
}
