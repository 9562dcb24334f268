// Command loadtest запускает параллельное оформление заказов через HTTP API
// и сверяет остаток товара после прогона.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

type loadMode string

const (
	modeCreate       loadMode = "create"
	modeCreatePay    loadMode = "create-pay"
	modeCreateCancel loadMode = "create-cancel"
)

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	productID   int64
	seedStock   int
	priceMinor  int64
	quantity    int
	customerTag string
	outputPath  string
}

func parseConfig(args []string) (config, error) {
	var cfg config
	var modeValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.addr, "addr", "http://localhost:8080", "HTTP API base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 1m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent scenarios")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-pay | create-cancel")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 0, "cancel probability in percent for create-pay mode (0..100)")
	fs.Int64Var(&cfg.productID, "product-id", 0, "existing product to order; 0 seeds a new one")
	fs.IntVar(&cfg.seedStock, "seed-stock", 100, "stock of the seeded product")
	fs.Int64Var(&cfg.priceMinor, "price-minor", 1000, "price of the seeded product in minor units")
	fs.IntVar(&cfg.quantity, "qty", 1, "quantity per order")
	fs.StringVar(&cfg.customerTag, "customer-tag", "load", "customer phone prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.addr = strings.TrimSpace(cfg.addr)

	switch {
	case cfg.addr == "":
		return cfg, errors.New("addr is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("qty must be > 0")
	case cfg.productID < 0:
		return cfg, errors.New("product-id must be >= 0")
	case cfg.productID == 0 && cfg.seedStock < 0:
		return cfg, errors.New("seed-stock must be >= 0")
	case cfg.productID == 0 && cfg.priceMinor <= 0:
		return cfg, errors.New("price-minor must be > 0")
	case cfg.cancelRate < 0 || cfg.cancelRate > 100:
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	case strings.TrimSpace(cfg.customerTag) == "":
		return cfg, errors.New("customer-tag is required")
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCreate:
		return modeCreate, nil
	case modeCreatePay:
		return modeCreatePay, nil
	case modeCreateCancel:
		return modeCreateCancel, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := run(ctx, cfg, &http.Client{}, os.Stdout)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}
	if result.FailedScenarios > 0 || (result.Stock != nil && !result.Stock.Consistent) {
		os.Exit(1)
	}
}

// run прогоняет сценарии и печатает сводку в out.
func run(ctx context.Context, cfg config, httpClient *http.Client, out io.Writer) (report, error) {
	client := newAPIClient(cfg.addr, httpClient, cfg.timeout)
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())

	productID := cfg.productID
	if productID == 0 {
		product, err := client.createProduct(ctx, "LOAD-"+runID, cfg.priceMinor, cfg.seedStock)
		if err != nil {
			return report{}, err
		}
		productID = product.ID
	}
	before, err := client.productStock(ctx, productID)
	if err != nil {
		return report{}, err
	}

	col := newCollector()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.concurrency)

	dispatchCtx := gctx
	if cfg.duration > 0 {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(gctx, cfg.duration)
		defer cancel()
	}

	for i := 0; cfg.duration > 0 || i < cfg.total; i++ {
		if cfg.totalSet && cfg.duration > 0 && i >= cfg.total {
			break
		}
		if dispatchCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			runScenario(gctx, client, cfg, productID, i, runID, col)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report{}, err
	}

	result := col.buildReport(startedAt, time.Since(startedAt))

	after, err := client.productStock(ctx, productID)
	if err != nil {
		return result, err
	}
	expected := before - int(result.Created-result.Cancelled)*cfg.quantity
	result.Stock = &stockReport{
		ProductID:  productID,
		Before:     before,
		After:      after,
		Expected:   expected,
		Consistent: after == expected && after >= 0,
	}

	printReport(out, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			return result, fmt.Errorf("write report: %w", err)
		}
	}
	return result, nil
}

func runScenario(
	ctx context.Context,
	client *apiClient,
	cfg config,
	productID int64,
	index int,
	runID string,
	col *collector,
) {
	scenarioStart := time.Now()
	res := outcome{status: http.StatusOK}
	defer func() {
		col.record(scenarioMethod, time.Since(scenarioStart), res)
	}()

	req := orderRequest{
		Customer: orderCustomer{
			FullName: "Load Test",
			Phone:    fmt.Sprintf("%s-%s-%d", cfg.customerTag, runID, index),
			Address:  "Load street 1",
		},
		Items: []orderLine{{ProductID: productID, Quantity: cfg.quantity}},
	}

	start := time.Now()
	uid, created := client.createOrder(ctx, req, fmt.Sprintf("lt-create-%s-%d", runID, index))
	col.record("CreateOrder", time.Since(start), created)
	if created.outOfStock() {
		col.markRejected()
		res = created
		return
	}
	if created.failed() {
		res = created
		return
	}
	col.markCreated()

	if cfg.mode == modeCreatePay {
		start = time.Now()
		paid := client.payOrder(ctx, uid, "lt-pay-"+uid)
		col.record("PayOrder", time.Since(start), paid)
		if paid.failed() {
			res = paid
			return
		}
	}

	if cfg.mode == modeCreateCancel || (cfg.mode == modeCreatePay && shouldCancelScenario(index, cfg.cancelRate)) {
		start = time.Now()
		cancelled := client.cancelOrder(ctx, uid)
		col.record("CancelOrder", time.Since(start), cancelled)
		if cancelled.failed() {
			res = cancelled
			return
		}
		col.markCancelled()
	}
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}
