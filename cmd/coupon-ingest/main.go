// Command coupon-ingest loads bulk promotional code dumps into the coupon
// store. Vendors deliver gzip-compressed code lists (one code per line); a
// code counts as redeemable only when it appears in at least two of the
// delivered files. The dumps are far too large to hold in memory, so the tool
// makes two streaming passes using one bloom filter per file.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/marketbay/settlement/internal/domain/coupon"
	"github.com/marketbay/settlement/internal/storage/mongodoc"
	"github.com/marketbay/settlement/internal/storage/postgres"
)

const (
	bloomCapacity = 120_000_000
	bloomFPR      = 0.001
	numFiles      = 3
	progressEvery = 10_000_000
	minCodeLen    = 8
	maxCodeLen    = 10
)

// codeRule describes the discount to apply for a known coupon code.
type codeRule struct {
	typ     coupon.Type
	amount  string
	minimum string
}

var codeRules = map[string]codeRule{
	"FIFTYOFF": {typ: coupon.TypePercentage, amount: "50"},
	"SIXTYOFF": {typ: coupon.TypePercentage, amount: "60"},
	"HAPPYHRS": {typ: coupon.TypePercentage, amount: "18"},
	"GNULINUX": {typ: coupon.TypePercentage, amount: "15"},
	"OVER9000": {typ: coupon.TypeFixed, amount: "9"},
	"BIGSPEND": {typ: coupon.TypeFixed, amount: "25", minimum: "200"},
}

var defaultRule = codeRule{typ: coupon.TypePercentage, amount: "10"}

// fileResult holds candidate codes found in a single file during pass 2.
type fileResult struct {
	candidates map[string]uint
}

func main() {
	var (
		dataDir     string
		databaseURL string
		mongoURI    string
		mongoDB     string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing couponbaseN.gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&mongoURI, "mongo-uri", "", "MongoDB connection URI (or MONGO_URI env); used instead of PostgreSQL when set")
	flag.StringVar(&mongoDB, "mongo-database", "settlement", "MongoDB database name")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if mongoURI == "" {
		mongoURI = os.Getenv("MONGO_URI")
	}
	if databaseURL == "" && mongoURI == "" {
		slog.Error("a target store is required: set --database-url/DATABASE_URL or --mongo-uri/MONGO_URI")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, mongoURI, mongoDB); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL, mongoURI, mongoDB string) error {
	files := make([]string, numFiles)
	for i := range numFiles {
		files[i] = filepath.Join(dataDir, fmt.Sprintf("couponbase%d.gz", i+1))
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	// Pass 1: build bloom filters concurrently.
	slog.Info("pass 1: building bloom filters", slog.Int("files", numFiles))

	filters, err := buildBloomFilters(ctx, files)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: find candidate codes appearing in 2+ files.
	slog.Info("pass 2: finding candidate codes")

	validCodes, err := findValidCodes(ctx, files, filters)
	if err != nil {
		return errors.Wrap(err, "find valid codes")
	}

	slog.Info("valid codes found", slog.Int("count", len(validCodes)))

	if len(validCodes) == 0 {
		slog.Info("no valid codes to insert")
		return nil
	}

	repo, closeRepo, err := openRepository(ctx, databaseURL, mongoURI, mongoDB)
	if err != nil {
		return errors.Wrap(err, "open coupon store")
	}
	defer closeRepo()

	if err := writeCoupons(ctx, repo, validCodes); err != nil {
		return errors.Wrap(err, "write coupons")
	}

	return nil
}

// openRepository connects to whichever store was configured. Mongo wins when
// both are set.
func openRepository(ctx context.Context, databaseURL, mongoURI, mongoDB string) (coupon.Repository, func(), error) {
	if mongoURI != "" {
		slog.Info("connecting to mongo")
		client, err := mongodoc.Connect(ctx, mongoURI)
		if err != nil {
			return nil, nil, err
		}
		repo := mongodoc.NewCouponRepository(client.Database(mongoDB))
		return repo, func() { _ = client.Disconnect(context.Background()) }, nil
	}

	slog.Info("connecting to postgres")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return postgres.NewCouponRepository(pool), pool.Close, nil
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(buildFilterForFile(ctx, i, f, filters))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return filters, nil
}

func buildFilterForFile(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter) func() error {
	return func() error {
		filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		var count uint64

		if err := streamGzFile(ctx, path, func(code string) {
			if len(code) >= minCodeLen && len(code) <= maxCodeLen {
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress",
						slog.Int("file", idx+1),
						slog.Uint64("codes", count),
					)
				}
			}
		}); err != nil {
			return errors.Wrapf(err, "build filter for file %d", idx+1)
		}

		slog.Info("pass 1 complete",
			slog.Int("file", idx+1),
			slog.Uint64("total_codes", count),
		)

		filters[idx] = filter
		return nil
	}
}

// findValidCodes re-streams each file and checks codes against the OTHER
// files' bloom filters. A code is valid if it appears in 2 or more files.
func findValidCodes(ctx context.Context, files []string, filters []*bloom.BloomFilter) ([]string, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(findCandidatesInFile(ctx, i, f, filters, results))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge per-file bitmasks.
	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r.candidates {
			merged[code] |= mask
		}
	}

	var valid []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			valid = append(valid, code)
		}
	}

	return valid, nil
}

func findCandidatesInFile(
	ctx context.Context,
	idx int,
	path string,
	filters []*bloom.BloomFilter,
	results []fileResult,
) func() error {
	return func() error {
		candidates := make(map[string]uint)
		fileBit := uint(1) << uint(idx)
		var count uint64

		if err := streamGzFile(ctx, path, func(code string) {
			if len(code) < minCodeLen || len(code) > maxCodeLen {
				return
			}

			count++
			if count%progressEvery == 0 {
				slog.Info("pass 2 progress",
					slog.Int("file", idx+1),
					slog.Uint64("codes", count),
				)
			}

			// Check if this code appears in any OTHER file's filter.
			for j, f := range filters {
				if j == idx {
					continue
				}
				if f.TestString(code) {
					candidates[code] |= fileBit
					break
				}
			}
		}); err != nil {
			return errors.Wrapf(err, "scan file %d for candidates", idx+1)
		}

		slog.Info("pass 2 complete",
			slog.Int("file", idx+1),
			slog.Uint64("total_codes", count),
			slog.Int("candidates", len(candidates)),
		)

		results[idx] = fileResult{candidates: candidates}
		return nil
	}
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

// writeCoupons upserts all valid coupon codes into the store.
func writeCoupons(ctx context.Context, repo coupon.Repository, codes []string) error {
	slog.Info("writing coupons", slog.Int("count", len(codes)))

	for i, code := range codes {
		rule, ok := codeRules[code]
		if !ok {
			rule = defaultRule
		}

		amount, err := decimal.NewFromString(rule.amount)
		if err != nil {
			return errors.Wrapf(err, "parse amount for code %s", code)
		}
		minimum := decimal.Zero
		if rule.minimum != "" {
			minimum, err = decimal.NewFromString(rule.minimum)
			if err != nil {
				return errors.Wrapf(err, "parse minimum for code %s", code)
			}
		}

		if err := repo.Upsert(ctx, coupon.Coupon{
			Code:    coupon.NormalizeCode(code),
			Type:    rule.typ,
			Amount:  amount,
			Minimum: minimum,
			Status:  coupon.StatusActive,
		}); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", code)
		}

		if (i+1)%100 == 0 || i+1 == len(codes) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(codes)))
		}
	}

	return nil
}
