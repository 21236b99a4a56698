package coupon

import (
	"context"
	"crypto/rand"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"
)

// codeAlphabet is the character set for generated codes. Ambiguous glyphs
// (0/O, 1/I/L) are excluded so codes survive being read aloud or retyped.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// DefaultCodeLength is the length of generated codes without their prefix.
const DefaultCodeLength = 8

// maxReserveAttempts bounds how many fresh candidates a generator worker
// tries before giving up on a persistently colliding keyspace.
const maxReserveAttempts = 25

// Generator creates coupons with unique codes. The storage layer's unique
// constraint is the authority on uniqueness; the bloom filter only spares
// round-trips for candidates this process has already produced.
type Generator struct {
	repo   Repository
	prefix string
	length int

	mu   sync.Mutex
	seen *bloom.BloomFilter
}

// NewGenerator creates a Generator. expected sizes the bloom pre-filter for
// the number of codes the process is likely to produce.
func NewGenerator(repo Repository, prefix string, length int, expected uint) *Generator {
	if length <= 0 {
		length = DefaultCodeLength
	}
	if expected == 0 {
		expected = 1_000_000
	}
	return &Generator{
		repo:   repo,
		prefix: NormalizeCode(prefix),
		length: length,
		seen:   bloom.NewWithEstimates(expected, 0.001),
	}
}

// Reserve persists a coupon with a caller-chosen code. The check-and-insert
// is atomic at the storage layer: a race between two reservations of the
// same code surfaces as ErrCodeTaken for the loser, never as a duplicate.
// No probabilistic pre-check runs here: a bloom false positive must not be
// able to reject a legitimately unique code.
func (g *Generator) Reserve(ctx context.Context, c *Coupon) error {
	if err := c.ValidateDefinition(); err != nil {
		return err
	}
	c.Code = NormalizeCode(c.Code)
	if err := g.repo.Create(ctx, c); err != nil {
		if errors.Is(err, ErrCodeTaken) {
			return ErrCodeTaken
		}
		return errors.Wrap(err, "create coupon")
	}
	g.remember(c.Code)
	return nil
}

// Generate creates n coupons from the template, each with a fresh random
// code, using the given number of concurrent workers. It returns the codes
// that were successfully reserved. Collisions against existing codes are
// retried with new candidates; the database constraint remains the final
// arbiter for every insert.
func (g *Generator) Generate(ctx context.Context, n, workers int, template Coupon) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	var (
		outMu sync.Mutex
		codes = make([]string, 0, n)
	)

	grp, ctx := errgroup.WithContext(ctx)
	work := make(chan struct{}, n)
	for range n {
		work <- struct{}{}
	}
	close(work)

	for range workers {
		grp.Go(func() error {
			for range work {
				if err := ctx.Err(); err != nil {
					return err
				}
				code, err := g.reserveFresh(ctx, template)
				if err != nil {
					return err
				}
				outMu.Lock()
				codes = append(codes, code)
				outMu.Unlock()
			}
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return codes, err
	}
	return codes, nil
}

// reserveFresh produces random candidates until one is accepted by the
// storage layer. The bloom filter cheaply skips candidates this process has
// already emitted; a false positive only costs one extra candidate.
func (g *Generator) reserveFresh(ctx context.Context, template Coupon) (string, error) {
	for attempt := 0; attempt < maxReserveAttempts; attempt++ {
		code, err := RandomCode(g.prefix, g.length)
		if err != nil {
			return "", errors.Wrap(err, "generate code")
		}
		if g.seenBefore(code) {
			continue
		}

		c := template
		c.Code = code
		if err := g.Reserve(ctx, &c); err != nil {
			if errors.Is(err, ErrCodeTaken) {
				continue
			}
			return "", err
		}
		return code, nil
	}
	return "", errors.Errorf("no unique code found after %d attempts", maxReserveAttempts)
}

func (g *Generator) seenBefore(code string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seen.TestAndAdd([]byte(code))
}

func (g *Generator) remember(code string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen.Add([]byte(code))
}

// RandomCode returns a cryptographically random code of the given length
// over the unambiguous alphabet, with an optional prefix.
func RandomCode(prefix string, length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return prefix + string(buf), nil
}
