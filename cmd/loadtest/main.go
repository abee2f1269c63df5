package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/cart/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/cart/internal/service/grpc"
)

type loadMode string

const (
	// Все воркеры увеличивают одну позицию, в конце количество сверяется с числом успешных вызовов.
	modeIncrement loadMode = "increment"
	// Каждый сценарий проходит полный цикл позиции: add, increment, decrement, remove.
	modeChurn loadMode = "churn"

	scenarioMethod = "scenario"
)

// cartClient покрывает методы grpcsvc.CartServiceClient, которые нужны нагрузке.
type cartClient interface {
	GetCart(ctx context.Context, opts ...grpc.CallOption) (grpcsvc.CartView, error)
	AddItem(ctx context.Context, product domain.Product, opts ...grpc.CallOption) (grpcsvc.CartView, error)
	Increment(ctx context.Context, id string, opts ...grpc.CallOption) (grpcsvc.CartView, error)
	Decrement(ctx context.Context, id string, opts ...grpc.CallOption) (grpcsvc.CartView, error)
	RemoveItem(ctx context.Context, id string, opts ...grpc.CallOption) (grpcsvc.CartView, error)
}

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	price       float64
	titlePrefix string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

// consistencyReport сравнивает итоговое количество горячей позиции с ожидаемым.
type consistencyReport struct {
	ItemID           string `json:"item_id"`
	InitialQuantity  int    `json:"initial_quantity"`
	ExpectedQuantity int    `json:"expected_quantity"`
	FinalQuantity    int    `json:"final_quantity"`
	NotPersisted     int64  `json:"not_persisted"`
	OK               bool   `json:"ok"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	Mode              loadMode                `json:"mode"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
	Consistency       *consistencyReport      `json:"consistency,omitempty"`
}

type methodStats struct {
	calls        int64
	success      int64
	failed       int64
	notPersisted int64
	codes        map[string]int64
	latencies    []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{methods: make(map[string]*methodStats)}
}

func (c *collector) record(method string, latency time.Duration, code codes.Code) {
	c.recordView(method, latency, code, true)
}

// recordView учитывает вызов; persisted=false означает, что сервер изменил корзину, но не записал её.
func (c *collector) recordView(method string, latency time.Duration, code codes.Code, persisted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{codes: make(map[string]int64)}
		c.methods[method] = stats
	}

	stats.calls++
	if code == codes.OK {
		stats.success++
		if !persisted {
			stats.notPersisted++
		}
	} else {
		stats.failed++
	}
	stats.codes[code.String()]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) successes(method string) (int64, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		return 0, 0
	}
	return stats.success, stats.notPersisted
}

func (c *collector) buildReport(mode loadMode, startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		Mode:            mode,
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	if scenario, ok := result.Methods[scenarioMethod]; ok {
		result.TotalScenarios = scenario.Calls
		result.SuccessScenarios = scenario.Success
		result.FailedScenarios = scenario.Failed
		result.ErrorRate = scenario.ErrorRate
		result.ScenarioLatencyMs = scenario.LatencyMs
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	return result
}

func parseConfig(args []string) (config, error) {
	var (
		cfg           config
		modeValue     string
		timeoutValue  string
		durationValue string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 1m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.IntVar(&cfg.connections, "connections", 8, "number of gRPC client connections")
	fs.StringVar(&timeoutValue, "timeout", "5s", "per-RPC timeout")
	fs.StringVar(&modeValue, "mode", string(modeIncrement), "load mode: increment | churn")
	fs.Float64Var(&cfg.price, "price", 9.9, "product price")
	fs.StringVar(&cfg.titlePrefix, "title-prefix", "load", "product title prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	if cfg.mode, err = parseMode(modeValue); err != nil {
		return cfg, err
	}

	var errs []error
	if cfg.duration < 0 {
		errs = append(errs, errors.New("duration must be >= 0"))
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		errs = append(errs, errors.New("total must be > 0 when duration is not set"))
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		errs = append(errs, errors.New("total must be > 0 when explicitly set with duration"))
	}
	if cfg.concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be > 0"))
	}
	if cfg.connections <= 0 {
		errs = append(errs, errors.New("connections must be > 0"))
	}
	if cfg.timeout <= 0 {
		errs = append(errs, errors.New("timeout must be > 0"))
	}
	if cfg.price < 0 || math.IsNaN(cfg.price) || math.IsInf(cfg.price, 0) {
		errs = append(errs, errors.New("price must be a finite number >= 0"))
	}

	return cfg, errors.Join(errs...)
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.ToLower(strings.TrimSpace(value))); mode {
	case modeIncrement, modeChurn:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	conns := make([]*grpc.ClientConn, 0, cfg.connections)
	clients := make([]cartClient, 0, cfg.connections)
	for i := 0; i < cfg.connections; i++ {
		conn, dialErr := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if dialErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to create grpc client connection: %v\n", dialErr)
			os.Exit(1)
		}
		conns = append(conns, conn)
		clients = append(clients, grpcsvc.NewCartServiceClient(conn))
	}
	defer func() {
		for _, conn := range conns {
			_ = conn.Close()
		}
	}()

	result, err := run(context.Background(), cfg, clients)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 || (result.Consistency != nil && !result.Consistency.OK) {
		os.Exit(1)
	}
}

// run выполняет нагрузку и для режима increment сверяет итоговое количество позиции.
func run(ctx context.Context, cfg config, clients []cartClient) (report, error) {
	if len(clients) == 0 {
		return report{}, errors.New("no clients")
	}

	col := newCollector()
	var hot *consistencyReport
	if cfg.mode == modeIncrement {
		var err error
		hot, err = prepareHotItem(ctx, clients[0], cfg)
		if err != nil {
			return report{}, err
		}
	}

	startedAt := time.Now()
	jobs := make(chan int, cfg.concurrency*2)

	g, gctx := errgroup.WithContext(ctx)
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		client := clients[workerID%len(clients)]
		g.Go(func() error {
			for index := range jobs {
				if cfg.mode == modeIncrement {
					runIncrementScenario(gctx, client, cfg, hot.ItemID, col)
				} else {
					runChurnScenario(gctx, client, cfg, index, col)
				}
			}
			return nil
		})
	}

	dispatchJobs(jobs, cfg)
	if err := g.Wait(); err != nil {
		return report{}, err
	}

	result := col.buildReport(cfg.mode, startedAt, time.Since(startedAt))
	if hot != nil {
		if err := verifyHotItem(ctx, clients[0], cfg, hot, col); err != nil {
			return result, err
		}
		result.Consistency = hot
	}
	return result, nil
}

func prepareHotItem(ctx context.Context, client cartClient, cfg config) (*consistencyReport, error) {
	product := domain.Product{
		ID:    "load-" + uuid.NewString(),
		Title: cfg.titlePrefix + " hot item",
		Price: cfg.price,
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()
	view, err := client.AddItem(callCtx, product)
	if err != nil {
		return nil, fmt.Errorf("add hot item: %w", err)
	}

	quantity, ok := itemQuantity(view, product.ID)
	if !ok {
		return nil, fmt.Errorf("hot item %s missing after add", product.ID)
	}
	return &consistencyReport{ItemID: product.ID, InitialQuantity: quantity}, nil
}

func verifyHotItem(ctx context.Context, client cartClient, cfg config, hot *consistencyReport, col *collector) error {
	callCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()
	view, err := client.GetCart(callCtx)
	if err != nil {
		return fmt.Errorf("read cart: %w", err)
	}

	succeeded, notPersisted := col.successes("Increment")
	hot.ExpectedQuantity = hot.InitialQuantity + int(succeeded)
	hot.FinalQuantity, _ = itemQuantity(view, hot.ItemID)
	hot.NotPersisted = notPersisted
	hot.OK = hot.FinalQuantity == hot.ExpectedQuantity
	return nil
}

func itemQuantity(view grpcsvc.CartView, id string) (int, bool) {
	for _, item := range view.Items {
		if item.ID == id {
			return item.Quantity, true
		}
	}
	return 0, false
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

func runIncrementScenario(ctx context.Context, client cartClient, cfg config, itemID string, col *collector) {
	start := time.Now()
	_, err := call(ctx, cfg.timeout, col, "Increment", func(ctx context.Context) (grpcsvc.CartView, error) {
		return client.Increment(ctx, itemID)
	})
	col.record(scenarioMethod, time.Since(start), grpcCode(err))
}

// runChurnScenario проходит жизненный цикл уникальной позиции. Промежуточные количества
// проверяются по ответам сервиса.
func runChurnScenario(ctx context.Context, client cartClient, cfg config, index int, col *collector) {
	start := time.Now()
	err := churn(ctx, client, cfg, index, col)
	col.record(scenarioMethod, time.Since(start), grpcCode(err))
}

func churn(ctx context.Context, client cartClient, cfg config, index int, col *collector) error {
	product := domain.Product{
		ID:    uuid.NewString(),
		Title: fmt.Sprintf("%s %d", cfg.titlePrefix, index),
		Price: cfg.price,
	}

	steps := []struct {
		method   string
		wantQty  int
		wantGone bool
		do       func(context.Context) (grpcsvc.CartView, error)
	}{
		{"AddItem", 1, false, func(ctx context.Context) (grpcsvc.CartView, error) { return client.AddItem(ctx, product) }},
		{"Increment", 2, false, func(ctx context.Context) (grpcsvc.CartView, error) { return client.Increment(ctx, product.ID) }},
		{"Decrement", 1, false, func(ctx context.Context) (grpcsvc.CartView, error) { return client.Decrement(ctx, product.ID) }},
		{"RemoveItem", 0, true, func(ctx context.Context) (grpcsvc.CartView, error) { return client.RemoveItem(ctx, product.ID) }},
	}

	for _, step := range steps {
		view, err := call(ctx, cfg.timeout, col, step.method, step.do)
		if err != nil {
			return err
		}
		qty, present := itemQuantity(view, product.ID)
		if step.wantGone && present {
			return status.Errorf(codes.DataLoss, "%s: item %s still present", step.method, product.ID)
		}
		if !step.wantGone && qty != step.wantQty {
			return status.Errorf(codes.DataLoss, "%s: quantity %d, want %d", step.method, qty, step.wantQty)
		}
	}
	return nil
}

func call(
	ctx context.Context,
	timeout time.Duration,
	col *collector,
	method string,
	fn func(context.Context) (grpcsvc.CartView, error),
) (grpcsvc.CartView, error) {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	view, err := fn(callCtx)
	col.recordView(method, time.Since(start), grpcCode(err), err != nil || view.Persisted)
	return view, err
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return status.Code(err)
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- путь задаётся явно флагом -output.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		result.Mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name != scenarioMethod {
			methodNames = append(methodNames, name)
		}
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, stats.Calls, stats.Success, stats.Failed, stats.ErrorRate, stats.LatencyMs.P95)
	}

	if c := result.Consistency; c != nil {
		_, _ = fmt.Fprintf(w, "consistency: item=%s initial=%d expected=%d final=%d not_persisted=%d ok=%t\n",
			c.ItemID, c.InitialQuantity, c.ExpectedQuantity, c.FinalQuantity, c.NotPersisted, c.OK)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
