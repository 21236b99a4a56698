// Command code-batch bulk-generates coupon codes from a template and writes
// the reserved codes to a gzip-compressed file, one code per line, suitable
// for handing off to a mailing or print vendor.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/vouchly/coupon-engine/internal/coupon"
	"github.com/vouchly/coupon-engine/internal/storage/postgres"
)

type options struct {
	databaseURL string
	count       int
	workers     int
	prefix      string
	length      int
	outFile     string

	name         string
	discountType string
	value        string
	currency     string
	maxUses      int
	perUser      int
	minAmount    string
	expires      string
	stackability string
	category     string
	createdBy    string
}

func main() {
	var opts options

	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&opts.count, "count", 1000, "number of coupons to generate")
	flag.IntVar(&opts.workers, "workers", 8, "concurrent reservation workers")
	flag.StringVar(&opts.prefix, "prefix", "", "code prefix, e.g. SUMMER-")
	flag.IntVar(&opts.length, "length", coupon.DefaultCodeLength, "random code length after the prefix")
	flag.StringVar(&opts.outFile, "out", "", "write reserved codes to this gzip file")

	flag.StringVar(&opts.name, "name", "Batch promotion", "coupon display name")
	flag.StringVar(&opts.discountType, "type", "percentage", "discount type: percentage or fixed")
	flag.StringVar(&opts.value, "value", "10", "discount value")
	flag.StringVar(&opts.currency, "currency", "", "currency for fixed discounts")
	flag.IntVar(&opts.maxUses, "max-uses", 1, "global usage limit per code; 0 means unlimited")
	flag.IntVar(&opts.perUser, "max-uses-per-user", 1, "per-user usage limit; 0 means unlimited")
	flag.StringVar(&opts.minAmount, "min-amount", "0", "minimum order amount")
	flag.StringVar(&opts.expires, "expires", "", "expiry timestamp, RFC 3339")
	flag.StringVar(&opts.stackability, "stackability", "none", "stackability rule: none, all, category, exclusive")
	flag.StringVar(&opts.category, "category", "", "coupon category")
	flag.StringVar(&opts.createdBy, "created-by", "code-batch", "creator recorded on each coupon")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("batch generation failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	template, err := buildTemplate(opts)
	if err != nil {
		return err
	}

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewCouponRepository(pool)
	gen := coupon.NewGenerator(repo, opts.prefix, opts.length, uint(opts.count))

	slog.Info("generating coupons",
		slog.Int("count", opts.count),
		slog.Int("workers", opts.workers),
		slog.String("prefix", opts.prefix),
	)
	start := time.Now()

	codes, err := gen.Generate(ctx, opts.count, opts.workers, *template)
	if err != nil {
		return errors.Wrap(err, "generate codes")
	}

	slog.Info("generation complete",
		slog.Int("reserved", len(codes)),
		slog.Duration("elapsed", time.Since(start)),
	)

	if opts.outFile != "" {
		if err := writeCodes(opts.outFile, codes); err != nil {
			return errors.Wrap(err, "write codes")
		}
		slog.Info("codes written", slog.String("file", opts.outFile))
	}
	return nil
}

func buildTemplate(opts options) (*coupon.Coupon, error) {
	value, err := decimal.NewFromString(opts.value)
	if err != nil {
		return nil, errors.Wrap(err, "parse discount value")
	}
	minAmount, err := decimal.NewFromString(opts.minAmount)
	if err != nil {
		return nil, errors.Wrap(err, "parse minimum amount")
	}

	c := &coupon.Coupon{
		Name:           opts.name,
		Type:           coupon.DiscountType(opts.discountType),
		DiscountValue:  value,
		Currency:       opts.currency,
		MaxUses:        opts.maxUses,
		MaxUsesPerUser: opts.perUser,
		MinimumAmount:  minAmount,
		Stackability:   coupon.StackabilityRule(opts.stackability),
		Category:       opts.category,
		Scope:          coupon.ScopeGlobal,
		CreatedBy:      opts.createdBy,
	}
	if opts.expires != "" {
		t, err := time.Parse(time.RFC3339, opts.expires)
		if err != nil {
			return nil, errors.Wrap(err, "parse expiry")
		}
		c.ExpiresAt = &t
	}

	// Validate against a placeholder code; real codes are generated per coupon.
	probe := *c
	probe.Code = "PROBE"
	if err := probe.ValidateDefinition(); err != nil {
		return nil, errors.Wrap(err, "invalid template")
	}
	return c, nil
}

func writeCodes(path string, codes []string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer func() { _ = f.Close() }()

	gz := pgzip.NewWriter(f)
	w := bufio.NewWriter(gz)
	for _, code := range codes {
		if _, err := w.WriteString(code + "\n"); err != nil {
			return errors.Wrapf(err, "write %s", path)
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Wrapf(err, "flush %s", path)
	}
	if err := gz.Close(); err != nil {
		return errors.Wrapf(err, "close gzip %s", path)
	}
	return f.Close()
}
