package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/netip"
	"os"
	"syscall"
	"time"

	"github.com/die-net/lrucache"
	"github.com/gregjones/httpcache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTTL      = time.Hour
	DefaultMaxBytes = 256 * 1024 * 1024
	DefaultLimit    = 64 * 1024 * 1024
)

var log = logrus.New()

// DumpHTTP logs request and response headers of every fetch.
var DumpHTTP = false

var ErrTooLarge = errors.New("response body exceeds limit")

// ErrForbiddenAddress is returned when a public client is asked to connect
// to a loopback, private or link-local address.
var ErrForbiddenAddress = errors.New("refusing to fetch from a non-public address")

// SetLogger replaces the package logger.
func SetLogger(l *logrus.Logger) {
	log = l
}

// NewClient returns a client that keeps responses in memory, honouring the
// server's cache headers, so repeated clicks on one remote image only
// download it once.
func NewClient(maxBytes int64, ttl time.Duration) *http.Client {
	return newClient(maxBytes, ttl, nil)
}

// NewPublicClient is NewClient for URLs supplied by remote users. Every
// connection, including redirects, must go to a public unicast address.
func NewPublicClient(maxBytes int64, ttl time.Duration) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.Proxy = nil // the check has to see the real peer
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   publicOnly,
	}
	base.DialContext = dialer.DialContext
	return newClient(maxBytes, ttl, base)
}

func newClient(maxBytes int64, ttl time.Duration, base http.RoundTripper) *http.Client {
	c := lrucache.New(maxBytes, int64(ttl.Seconds()))
	t := httpcache.NewTransport(c)
	t.Transport = base
	return &http.Client{
		Transport: t,
		Timeout:   time.Minute,
	}
}

// publicOnly runs after name resolution, so address is always an IP.
func publicOnly(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return errors.Wrap(err, "net.SplitHostPort")
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return errors.Wrap(err, "netip.ParseAddr")
	}
	ip = ip.Unmap()
	if !ip.IsGlobalUnicast() || ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
		return errors.Wrapf(ErrForbiddenAddress, "%s %s", network, address)
	}
	return nil
}

// Get returns the body of url, at most limit bytes.
func Get(ctx context.Context, client *http.Client, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "http.NewRequest")
	}
	req.Header.Set("Accept", "image/*")

	if DumpHTTP {
		if s, err := httputil.DumpRequest(req, false); err == nil {
			log.Println(string(s))
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "GET %s", url)
	}
	defer resp.Body.Close()

	if DumpHTTP {
		if s, err := httputil.DumpResponse(resp, false); err == nil {
			log.Println(string(s))
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: bad http code %d", url, resp.StatusCode)
	}
	if resp.Header.Get(httpcache.XFromCache) != "" {
		log.WithField("url", url).Debug("served from cache")
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", url)
	}
	if int64(len(b)) > limit {
		return nil, errors.Wrapf(ErrTooLarge, "%s > %d bytes", url, limit)
	}
	return b, nil
}

// ToFile downloads url into dst.
func ToFile(ctx context.Context, client *http.Client, url, dst string, limit int64) error {
	b, err := Get(ctx, client, url, limit)
	if err != nil {
		return err
	}
	return errors.Wrap(os.WriteFile(dst, b, 0600), "write download")
}
