package redline

import (
	"errors"
	"net"
	"strings"
	"sync"

	"github.com/redline-io/redline/resp"
)

// Stub returns a Conn which pretends it is a Conn to a real server, but is
// instead servicing every command in-memory with the given callback.
//
// Each command the Conn writes is decoded into a []string and passed to fn;
// whatever fn returns is encoded as the reply. Values of type error encode as
// error replies, resp.Simple as simple strings, resp.NilArray as a nil
// multi-bulk, nil as a nil bulk string; everything else encodes the obvious
// way. This makes it easy to mock a server:
//
//	m := map[string]string{}
//	conn := redline.Stub(func(args []string) interface{} {
//		switch args[0] {
//		case "SET":
//			m[args[1]] = args[2]
//			return resp.Simple("OK")
//		case "GET":
//			return m[args[1]]
//		default:
//			return fmt.Errorf("ERR unknown command %q", args[0])
//		}
//	})
func Stub(fn func(args []string) interface{}) *Conn {
	clientHalf, serverHalf := net.Pipe()
	go stubServe(serverHalf, fn)
	return NewConn(clientHalf)
}

func stubServe(nc net.Conn, fn func(args []string) interface{}) {
	defer nc.Close()
	rd := resp.NewReader()
	buf := make([]byte, 4096)
	var out []byte
	for {
		n, err := nc.Read(buf)
		if n > 0 {
			rd.Feed(buf[:n])
			out = out[:0]
			for {
				rep, ok, perr := rd.ReadReply()
				if perr != nil {
					return
				} else if !ok {
					break
				}
				out = resp.AppendAny(out, fn(stubArgs(rep)))
			}
			if len(out) > 0 {
				if _, err := nc.Write(out); err != nil {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func stubArgs(rep resp.Reply) []string {
	args := make([]string, len(rep.Arr))
	for i, el := range rep.Arr {
		args[i] = el.Text()
	}
	return args
}

// stubPublisher is the server half of a PubSubStub.
type stubPublisher struct {
	mu      sync.Mutex
	nc      net.Conn
	fn      func(args []string) interface{}
	subbed  map[string]bool
	psubbed map[string]bool
}

func (sp *stubPublisher) handle(args []string) []byte {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	var out []byte
	cmd := strings.ToUpper(args[0])
	names := args[1:]
	switch cmd {
	case "SUBSCRIBE", "PSUBSCRIBE":
		set := sp.subbed
		kind := "subscribe"
		if cmd == "PSUBSCRIBE" {
			set, kind = sp.psubbed, "psubscribe"
		}
		for _, name := range names {
			set[name] = true
			out = resp.AppendAny(out, []interface{}{
				resp.Simple(kind), name, len(sp.subbed) + len(sp.psubbed),
			})
		}
	case "UNSUBSCRIBE", "PUNSUBSCRIBE":
		set := sp.subbed
		kind := "unsubscribe"
		if cmd == "PUNSUBSCRIBE" {
			set, kind = sp.psubbed, "punsubscribe"
		}
		for _, name := range names {
			delete(set, name)
			out = resp.AppendAny(out, []interface{}{
				resp.Simple(kind), name, len(sp.subbed) + len(sp.psubbed),
			})
		}
	case "PING":
		out = resp.AppendAny(out, resp.Simple("PONG"))
	default:
		if len(sp.subbed)+len(sp.psubbed) > 0 {
			out = resp.AppendAny(out, errors.New(
				"ERR only (P)SUBSCRIBE / (P)UNSUBSCRIBE / PING / QUIT allowed in this context"))
		} else {
			out = resp.AppendAny(out, sp.fn(args))
		}
	}
	return out
}

// Publish injects a message for the given channel, delivering it to the
// client if a matching subscription (direct or pattern) exists. It returns
// the number of deliveries.
func (sp *stubPublisher) Publish(channel string, payload []byte) int {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	var out []byte
	var n int
	if sp.subbed[channel] {
		out = resp.AppendAny(out, []interface{}{
			resp.Simple("message"), channel, payload,
		})
		n++
	}
	for pattern := range sp.psubbed {
		if globMatch(pattern, channel) {
			out = resp.AppendAny(out, []interface{}{
				resp.Simple("pmessage"), pattern, channel, payload,
			})
			n++
		}
	}
	if len(out) > 0 {
		if _, err := sp.nc.Write(out); err != nil {
			return 0
		}
	}
	return n
}

// PubSubStub returns a Conn much like Stub does, except the subscription
// commands and PING are intercepted and answered with the acknowledgment
// pushes a real server would produce. The returned publish function injects
// messages, delivering them through any matching direct or pattern
// subscription.
func PubSubStub(fn func(args []string) interface{}) (*Conn, func(channel string, payload []byte) int) {
	clientHalf, serverHalf := net.Pipe()
	sp := &stubPublisher{
		nc:      serverHalf,
		fn:      fn,
		subbed:  map[string]bool{},
		psubbed: map[string]bool{},
	}
	go sp.serve()
	return NewConn(clientHalf), sp.Publish
}

func (sp *stubPublisher) serve() {
	defer sp.nc.Close()
	rd := resp.NewReader()
	buf := make([]byte, 4096)
	for {
		n, err := sp.nc.Read(buf)
		if n > 0 {
			rd.Feed(buf[:n])
			var out []byte
			for {
				rep, ok, perr := rd.ReadReply()
				if perr != nil {
					return
				} else if !ok {
					break
				}
				out = append(out, sp.handle(stubArgs(rep))...)
			}
			if len(out) > 0 {
				if _, err := sp.nc.Write(out); err != nil {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}
