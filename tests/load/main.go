package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iago/consulta-async/internal/domain"
	httpserver "github.com/iago/consulta-async/internal/http"
	"github.com/iago/consulta-async/internal/http/handlers"
	"github.com/iago/consulta-async/internal/queue"
	"github.com/iago/consulta-async/internal/repository"
	"github.com/iago/consulta-async/internal/service"
	"github.com/iago/consulta-async/internal/worker"
)

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type runResult struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Environment    string           `json:"environment"`
	Results        []scenarioResult `json:"results"`
	SLOEvaluation  map[string]bool  `json:"slo_evaluation"`
}

type benchmarkEnv struct {
	baseURL string
	close   func()
}

func main() {
	target := flag.String("target", "", "base URL of a running gateway; empty starts an in-process one")
	submitTotal := flag.Int("submit-total", 400, "total submissions")
	submitConcurrency := flag.Int("submit-concurrency", 32, "concurrency for submissions")
	pollTotal := flag.Int("poll-total", 600, "total status reads")
	pollConcurrency := flag.Int("poll-concurrency", 32, "concurrency for status reads")
	roundTripTotal := flag.Int("roundtrip-total", 120, "total submit-and-wait round trips")
	roundTripConcurrency := flag.Int("roundtrip-concurrency", 16, "concurrency for round trips")
	pollInterval := flag.Duration("poll-interval", 50*time.Millisecond, "interval between status polls in round trips")
	outputPath := flag.String("output", "", "optional path to persist benchmark results JSON")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	env := remoteEnvironment(*target)
	if *target == "" {
		env = startBenchmarkEnvironment()
	}
	defer env.close()

	client := &http.Client{Timeout: 10 * time.Second}
	submitURL := env.baseURL + "/consultar"

	submitted := newIDPool()
	submitScenario := runScenario("submit_enqueue", *submitTotal, *submitConcurrency, func(index int) error {
		id, err := submitConsulta(client, submitURL, payloadFor(index))
		if err == nil {
			submitted.add(id)
		}
		return err
	})

	pollScenario := runScenario("status_poll", *pollTotal, *pollConcurrency, func(index int) error {
		id, ok := submitted.pick(index)
		if !ok {
			return errors.New("no submitted consultas to poll")
		}
		_, err := getStatus(client, fmt.Sprintf("%s/consultar/%d", env.baseURL, id))
		return err
	})

	roundTripScenario := runScenario("submit_until_terminal", *roundTripTotal, *roundTripConcurrency, func(index int) error {
		id, err := submitConsulta(client, submitURL, payloadFor(index))
		if err != nil {
			return err
		}
		deadline := time.Now().Add(30 * time.Second)
		for time.Now().Before(deadline) {
			state, err := getStatus(client, fmt.Sprintf("%s/consultar/%d", env.baseURL, id))
			if err != nil {
				return err
			}
			if state.Terminal() {
				return nil
			}
			time.Sleep(*pollInterval)
		}
		return fmt.Errorf("consulta %d still pending after 30s", id)
	})

	results := []scenarioResult{submitScenario, pollScenario, roundTripScenario}
	slo := map[string]bool{
		"submit_p95_le_250ms":          submitScenario.P95MS <= 250,
		"status_p95_le_100ms":          pollScenario.P95MS <= 100,
		"roundtrip_without_errors":     roundTripScenario.Errors == 0,
		"roundtrip_p95_le_5000ms":      roundTripScenario.P95MS <= 5000,
		"submissions_without_failures": submitScenario.Errors == 0,
	}

	environment := "local-httptest"
	if *target != "" {
		environment = *target
	}
	report := runResult{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Environment:    environment,
		Results:        results,
		SLOEvaluation:  slo,
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		logger.WithError(err).Fatal("failed to marshal benchmark report")
	}

	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			logger.WithError(err).Fatal("failed to write output file")
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, string(encoded))
}

func remoteEnvironment(baseURL string) *benchmarkEnv {
	return &benchmarkEnv{baseURL: baseURL, close: func() {}}
}

// startBenchmarkEnvironment runs the gateway and four processors over the
// in-process queue with a seeded memory catalog.
func startBenchmarkEnvironment() *benchmarkEnv {
	ctx, cancel := context.WithCancel(context.Background())
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	jobs := repository.NewMemoryJobsRepository()
	catalog := repository.NewMemoryCatalog(seedCatalog(200)...)
	localQueue := queue.NewLocalQueue(queue.LocalConfig{BufferSize: 8192, Prefetch: 8}, logger)

	api := handlers.NewAPI(handlers.APIDependencies{
		Queries:  service.NewQueriesService(jobs, localQueue, logger),
		Database: jobs,
		Broker:   localQueue,
		Version:  "bench",
		Logger:   logger,
	})
	router := httpserver.NewRouter(ctx, httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		CORSOrigins:    []string{"*"},
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})

	var wg sync.WaitGroup
	for i := 1; i <= 4; i++ {
		processor := worker.NewProcessor(localQueue, jobs, catalog, fmt.Sprintf("bench-%d", i), logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			processor.Start(ctx)
		}()
	}

	server := httptest.NewServer(router)
	return &benchmarkEnv{
		baseURL: server.URL,
		close: func() {
			server.Close()
			cancel()
			wg.Wait()
		},
	}
}

func seedCatalog(size int) []domain.CatalogRecord {
	records := make([]domain.CatalogRecord, 0, size)
	for i := 1; i <= size; i++ {
		records = append(records, domain.CatalogRecord{
			Key:      fmt.Sprintf("PROD%03d", i),
			Name:     fmt.Sprintf("Producto %d", i),
			Location: fmt.Sprintf("Pasillo %d", (i%12)+1),
		})
	}
	return records
}

// payloadFor mixes hits, misses and full listings.
func payloadFor(index int) map[string]any {
	switch index % 5 {
	case 0:
		return map[string]any{"tipo_consulta": domain.QueryKindListAll, "codigo": nil}
	case 1:
		return map[string]any{"tipo_consulta": domain.QueryKindFindByKey, "codigo": fmt.Sprintf("MISSING%d", index)}
	default:
		return map[string]any{"tipo_consulta": domain.QueryKindFindByKey, "codigo": fmt.Sprintf("PROD%03d", (index%200)+1)}
	}
}

type idPool struct {
	mu  sync.Mutex
	ids []int64
}

func newIDPool() *idPool {
	return &idPool{}
}

func (p *idPool) add(id int64) {
	p.mu.Lock()
	p.ids = append(p.ids, id)
	p.mu.Unlock()
}

func (p *idPool) pick(index int) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ids) == 0 {
		return 0, false
	}
	return p.ids[index%len(p.ids)], true
}

func runScenario(
	name string,
	total int,
	concurrency int,
	requestFn func(index int) error,
) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	startedAt := time.Now()
	type sample struct {
		durationMS float64
		err        string
	}

	indexes := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		indexes <- i
	}
	close(indexes)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range indexes {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{
					durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0,
				}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success := 0
	errorsCount := 0
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		errorsCount++
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	elapsedSeconds := time.Since(startedAt).Seconds()
	throughput := 0.0
	if elapsedSeconds > 0 {
		throughput = float64(total) / elapsedSeconds
	}

	return scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        errorsCount,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
}

func submitConsulta(client *http.Client, url string, payload any) (int64, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return 0, fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return 0, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return 0, fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, http.StatusAccepted, string(body))
	}

	var accepted struct {
		ID int64 `json:"consulta_id"`
	}
	if err := json.NewDecoder(response.Body).Decode(&accepted); err != nil {
		return 0, fmt.Errorf("decode submit response: %w", err)
	}
	return accepted.ID, nil
}

func getStatus(client *http.Client, url string) (domain.JobState, error) {
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return "", err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return "", fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, http.StatusOK, string(body))
	}

	var status struct {
		Status domain.JobState `json:"status"`
	}
	if err := json.NewDecoder(response.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("decode status response: %w", err)
	}
	return status.Status, nil
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(values) {
		rank = len(values) - 1
	}
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
