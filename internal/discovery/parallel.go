package discovery

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Scan scans the given chains concurrently, at most MaxWorkers at a time.
// The first failure cancels the remaining chains and is returned; no partial
// result is produced. Results are merged in the order of codes.
func (s *Scanner) Scan(ctx context.Context, codes []ChainCode) (*Result, error) {
	if err := s.opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	start := time.Now()
	results := make([]*chainResult, len(codes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxWorkers)

	for i, code := range codes {
		g.Go(func() error {
			res, err := s.scanChain(gctx, code)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Result{ChainsScanned: append([]ChainCode(nil), codes...)}
	for _, res := range results {
		out.Unspents = append(out.Unspents, res.unspents...)
		out.AddressesScanned += res.scanned
	}
	for _, u := range out.Unspents {
		out.TotalValue += u.Value
	}
	out.Duration = time.Since(start)

	s.debug("discovery: %d unspents across %d chains, %d addresses scanned",
		len(out.Unspents), len(codes), out.AddressesScanned)

	return out, nil
}
