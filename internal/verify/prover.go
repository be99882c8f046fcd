// internal/verify/prover.go
//
// DNS ownership and routing probes.
//
// Context
// -------
// The engine proves two independent facts about a custom domain before
// routing traffic to it: the tenant controls the domain (a TXT record
// carrying the challenge token), and the domain's records point at the
// platform's ingress.  The Prover interface keeps vendor DNS APIs out of
// the engine; the default implementation asks the public DNS directly
// through net.Resolver.
package verify

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ChallengeHost is the label tenants publish the TXT token under.
const ChallengeHost = "_loom-challenge."

// Prover answers the two verification questions for one hostname.
type Prover interface {
	// CheckOwnership reports whether the challenge token is visible in the
	// domain's TXT records.
	CheckOwnership(ctx context.Context, hostname, token string) (bool, error)

	// CheckRouting reports whether the hostname's records point at the
	// platform ingress.
	CheckRouting(ctx context.Context, hostname string) (bool, error)
}

// DNSProver implements Prover over live DNS.
type DNSProver struct {
	// IngressCNAME is the canonical target tenants must point their
	// domain at, e.g. "ingress.loom.dev".
	IngressCNAME string

	// Resolver defaults to net.DefaultResolver.
	Resolver *net.Resolver
}

func (p DNSProver) resolver() *net.Resolver {
	if p.Resolver != nil {
		return p.Resolver
	}
	return net.DefaultResolver
}

// CheckOwnership implements Prover.
func (p DNSProver) CheckOwnership(ctx context.Context, hostname, token string) (bool, error) {
	records, err := p.resolver().LookupTXT(ctx, ChallengeHost+hostname)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return false, nil // record simply not published yet
		}
		return false, err
	}
	for _, r := range records {
		if strings.TrimSpace(r) == token {
			return true, nil
		}
	}
	return false, nil
}

// CheckRouting implements Prover.  A CNAME to the ingress target counts;
// so does an A/AAAA set that matches the ingress target's own addresses.
func (p DNSProver) CheckRouting(ctx context.Context, hostname string) (bool, error) {
	target := strings.TrimSuffix(p.IngressCNAME, ".")

	if cname, err := p.resolver().LookupCNAME(ctx, hostname); err == nil {
		if strings.TrimSuffix(strings.ToLower(cname), ".") == target {
			return true, nil
		}
	}

	want, err := p.resolver().LookupHost(ctx, target)
	if err != nil {
		return false, err
	}
	got, err := p.resolver().LookupHost(ctx, hostname)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return false, nil
		}
		return false, err
	}
	for _, g := range got {
		for _, w := range want {
			if g == w {
				return true, nil
			}
		}
	}
	return false, nil
}
