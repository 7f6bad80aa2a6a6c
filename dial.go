package redline

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redline-io/redline/resp"
	"github.com/redline-io/redline/trace"
)

type dialOpts struct {
	connectTimeout time.Duration

	authUser    string
	authPass    string
	authPassSet bool

	selectDB    int
	selectDBSet bool

	newReader func() resp.ReplyReader
	decoding  Decoding
	rcvTrace  trace.ReceiverTrace
}

// DialOpt is an option for Dial.
type DialOpt func(*dialOpts)

// DialConnectTimeout bounds the TCP (or unix socket) connection attempt,
// independently of the Dial context's deadline.
func DialConnectTimeout(d time.Duration) DialOpt {
	return func(o *dialOpts) {
		o.connectTimeout = d
	}
}

// DialAuthPass sends AUTH with the given password once connected.
func DialAuthPass(pass string) DialOpt {
	return func(o *dialOpts) {
		o.authPass = pass
		o.authPassSet = true
	}
}

// DialAuthUser sends AUTH with the given username and password once
// connected.
func DialAuthUser(user, pass string) DialOpt {
	return func(o *dialOpts) {
		o.authUser = user
		o.authPass = pass
		o.authPassSet = true
	}
}

// DialSelectDB sends SELECT with the given database index once connected
// (and authenticated, if that applies).
func DialSelectDB(db int) DialOpt {
	return func(o *dialOpts) {
		o.selectDB = db
		o.selectDBSet = true
	}
}

// DialReplyReader installs an alternative reply parser backend on the
// connection, e.g. an accelerated drop-in for the default pure-Go one.
func DialReplyReader(fn func() resp.ReplyReader) DialOpt {
	return func(o *dialOpts) {
		o.newReader = fn
	}
}

// DialDecoding sets the connection's default payload decoding, used wherever
// a per-call Decoding is left as DecodingDefault.
func DialDecoding(dec Decoding) DialOpt {
	return func(o *dialOpts) {
		o.decoding = dec
	}
}

// DialReceiverTrace installs tracing callbacks on the connection's Receiver.
func DialReceiverTrace(rt trace.ReceiverTrace) DialOpt {
	return func(o *dialOpts) {
		o.rcvTrace = rt
	}
}

// applyURL folds the values embedded in a redis:// or unix:// URL into o. A
// URL value conflicting with one already set explicitly (or twice within the
// URL itself, like a path db disagreeing with a ?db= parameter) is a
// configuration error, not a precedence question.
func (o *dialOpts) applyURL(u *url.URL) error {
	q := u.Query()

	var pass string
	var passSet bool
	if p, ok := u.User.Password(); ok {
		pass, passSet = p, true
	}
	if p := q.Get("password"); p != "" {
		if passSet && p != pass {
			return ErrConfig.New("password set twice in %q", u.Redacted())
		}
		pass, passSet = p, true
	}
	if passSet {
		if o.authPassSet && o.authPass != pass {
			return ErrConfig.New("DialAuthPass conflicts with the password in %q", u.Redacted())
		}
		o.authPass = pass
		o.authPassSet = true
	}
	if user := u.User.Username(); user != "" {
		if o.authUser != "" && o.authUser != user {
			return ErrConfig.New("DialAuthUser conflicts with the user in %q", u.Redacted())
		}
		o.authUser = user
	}

	var db int
	var dbSet bool
	if u.Scheme == "redis" {
		if path := strings.TrimPrefix(u.Path, "/"); path != "" {
			n, err := strconv.Atoi(path)
			if err != nil || n < 0 {
				return ErrConfig.New("invalid db index %q in %q", path, u.Redacted())
			}
			db, dbSet = n, true
		}
	}
	if dbStr := q.Get("db"); dbStr != "" {
		n, err := strconv.Atoi(dbStr)
		if err != nil || n < 0 {
			return ErrConfig.New("invalid db index %q in %q", dbStr, u.Redacted())
		}
		if dbSet && n != db {
			return ErrConfig.New("db index set twice in %q", u.Redacted())
		}
		db, dbSet = n, true
	}
	if dbSet {
		if o.selectDBSet && o.selectDB != db {
			return ErrConfig.New("DialSelectDB conflicts with the db index in %q", u.Redacted())
		}
		o.selectDB = db
		o.selectDBSet = true
	}
	return nil
}

// resolveAddr turns the addr argument into a dialable network/address pair,
// folding any URL-embedded settings into o. Plain "host:port" and bare unix
// socket paths pass through untouched.
func resolveAddr(network, addr string, o *dialOpts) (string, string, error) {
	switch {
	case strings.HasPrefix(addr, "redis://"):
		u, err := url.Parse(addr)
		if err != nil {
			return "", "", ErrConfig.Wrap(err, "parsing %q", addr)
		}
		if err := o.applyURL(u); err != nil {
			return "", "", err
		}
		host := u.Host
		if host == "" {
			host = "127.0.0.1:6379"
		} else if u.Port() == "" {
			host = net.JoinHostPort(host, "6379")
		}
		return "tcp", host, nil

	case strings.HasPrefix(addr, "unix://"):
		u, err := url.Parse(addr)
		if err != nil {
			return "", "", ErrConfig.Wrap(err, "parsing %q", addr)
		}
		if err := o.applyURL(u); err != nil {
			return "", "", err
		}
		return "unix", u.Path, nil

	default:
		if network == "" {
			network = "tcp"
		}
		return network, addr, nil
	}
}

// Dial connects to the server, performs the AUTH and SELECT handshake the
// options (or the address URL) call for, and returns a ready Conn.
//
// addr may be a plain "host:port" (with network "tcp"), a unix socket path
// (with network "unix"), or a "redis://" / "unix://" URL with user, password
// and db embedded. An embedded value conflicting with an explicit option
// fails with ErrConfig.
func Dial(ctx context.Context, network, addr string, opts ...DialOpt) (*Conn, error) {
	o := dialOpts{
		connectTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	network, addr, err := resolveAddr(network, addr, &o)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{
		Timeout:   o.connectTimeout,
		KeepAlive: 10 * time.Second,
	}
	netConn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, ErrConnClosed.Wrap(err, "dialing %s/%s", network, addr).
			WithProperty(EKAddr, addr)
	}

	rd := resp.ReplyReader(resp.NewReader())
	if o.newReader != nil {
		rd = o.newReader()
	}
	c := newConn(netConn, rd, o.decoding, o.rcvTrace)

	if err := c.handshake(ctx, o); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conn) handshake(ctx context.Context, o dialOpts) error {
	if o.authPassSet {
		var err error
		if o.authUser != "" {
			err = c.Do(ctx, nil, "AUTH", o.authUser, o.authPass)
		} else {
			err = c.Do(ctx, nil, "AUTH", o.authPass)
		}
		if err != nil {
			return err
		}
	}
	if o.selectDBSet {
		if err := c.Do(ctx, nil, "SELECT", o.selectDB); err != nil {
			return err
		}
	}
	return nil
}
