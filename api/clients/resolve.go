package clients

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	gocache "github.com/patrickmn/go-cache"
)

// DefaultResolver is the local stub resolver queried for SRV records.
const DefaultResolver = "127.0.0.53:53"

// ErrNoSRVRecords is returned when a service name has no SRV answers.
var ErrNoSRVRecords = errors.New("no SRV records")

// srvCache holds resolved URLs keyed by resolver and service name. Entries live for
// the smallest TTL of the answer set, capped at maxSRVCacheTTL.
var srvCache = gocache.New(maxSRVCacheTTL, time.Minute)

const maxSRVCacheTTL = 5 * time.Minute

// ResolveServerURL turns srv://_factory._tcp.example.com into the http URL of the
// highest preference SRV target. Any other server string is returned unchanged.
func ResolveServerURL(ctx context.Context, server, resolver string) (string, error) {
	name, ok := strings.CutPrefix(server, "srv://")
	if !ok {
		return server, nil
	}
	if resolver == "" {
		resolver = DefaultResolver
	}

	name = strings.TrimSuffix(name, "/")
	cacheKey := resolver + "|" + dns.Fqdn(name)
	if cached, found := srvCache.Get(cacheKey); found {
		return cached.(string), nil
	}

	records, err := lookupSRV(ctx, name, resolver)
	if err != nil {
		return "", err
	}

	best := records[0]
	host := strings.TrimSuffix(best.Target, ".")
	resolved := "http://" + net.JoinHostPort(host, strconv.Itoa(int(best.Port)))

	ttl := maxSRVCacheTTL
	for _, record := range records {
		if recordTTL := time.Duration(record.Hdr.Ttl) * time.Second; recordTTL < ttl {
			ttl = recordTTL
		}
	}
	if ttl > 0 {
		srvCache.Set(cacheKey, resolved, ttl)
	}
	return resolved, nil
}

// lookupSRV returns SRV records ordered by priority, then by descending weight.
func lookupSRV(ctx context.Context, name, resolver string) ([]*dns.SRV, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeSRV)
	m.RecursionDesired = true

	c := new(dns.Client)
	in, _, err := c.ExchangeContext(ctx, m, resolver)
	if err != nil {
		return nil, fmt.Errorf("SRV lookup for %s failed: %w", name, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("SRV lookup for %s failed: %s", name, dns.RcodeToString[in.Rcode])
	}

	var records []*dns.SRV
	for _, answer := range in.Answer {
		if srv, ok := answer.(*dns.SRV); ok {
			records = append(records, srv)
		}
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoSRVRecords, name)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Priority != records[j].Priority {
			return records[i].Priority < records[j].Priority
		}
		return records[i].Weight > records[j].Weight
	})
	return records, nil
}
