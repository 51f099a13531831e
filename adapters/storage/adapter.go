// Package storage keeps a history of allocation runs.
// Supports multiple backends: file, memory, ClickHouse.
package storage

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cloud-cost-allocation/core/allocation"
	"cloud-cost-allocation/core/graph"
	"cloud-cost-allocation/core/types"
	"cloud-cost-allocation/internal/config"
	"cloud-cost-allocation/internal/errors"
)

// Backend is a storage backend type
type Backend string

const (
	BackendFile       Backend = "file"
	BackendMemory     Backend = "memory"
	BackendClickHouse Backend = "clickhouse"
)

// Run kinds
const (
	KindAllocate = "allocate"
	KindFurther  = "allocate-further"
)

// Store is the storage interface
type Store interface {
	// Save stores a run summary
	Save(ctx context.Context, run *RunSummary) error

	// Get retrieves a run by ID
	Get(ctx context.Context, id string) (*RunSummary, error)

	// List lists runs with filters, newest first
	List(ctx context.Context, filter *ListFilter) ([]*RunSummary, error)

	// Delete removes a run
	Delete(ctx context.Context, id string) error

	// GetLatest gets the latest run for a cost date
	GetLatest(ctx context.Context, date string) (*RunSummary, error)

	// Compare compares the totals of two runs
	Compare(ctx context.Context, oldID, newID string) (*CompareResult, error)

	// Close closes the store
	Close() error
}

// RunSummary is a stored allocation run
type RunSummary struct {
	// ID is unique identifier
	ID string `json:"id"`

	// Kind is KindAllocate or KindFurther
	Kind string `json:"kind"`

	// Date and Currency of the allocated records
	Date     string `json:"date"`
	Currency string `json:"currency"`

	// Amounts allocated in this run
	Amounts []string `json:"amounts"`

	// Totals is the cloud cost allocated per amount
	Totals map[string]decimal.Decimal `json:"totals"`

	Records          int `json:"records"`
	Instances        int `json:"instances"`
	CycleBreaks      int `json:"cycle_breaks"`
	DroppedRecords   int `json:"dropped_records"`
	SelectorFailures int `json:"selector_failures"`

	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`

	// Inputs names the files the run read and wrote
	Inputs map[string]string `json:"inputs,omitempty"`

	// Rows are the allocated amounts, kept by backends that store them
	Rows []AllocatedRow `json:"-"`
}

// AllocatedRow is the allocated value of one record for one amount
type AllocatedRow struct {
	Service          string
	Instance         string
	ProviderService  string
	ProviderInstance string
	Product          string
	Amount           string
	Value            decimal.Decimal
	ProductValue     decimal.Decimal
}

// ListFilter filters run listing
type ListFilter struct {
	Date  string
	Kind  string
	Since time.Time
	Until time.Time
	Limit int
}

// AmountDelta compares the totals of one amount
type AmountDelta struct {
	Amount       string          `json:"amount"`
	Old          decimal.Decimal `json:"old"`
	New          decimal.Decimal `json:"new"`
	Delta        decimal.Decimal `json:"delta"`
	DeltaPercent float64         `json:"delta_percent"`
}

// CompareResult is a comparison between two runs
type CompareResult struct {
	OldID     string        `json:"old_id"`
	NewID     string        `json:"new_id"`
	Deltas    []AmountDelta `json:"deltas"`
	CreatedAt time.Time     `json:"created_at"`
}

// NewRunSummary summarizes an allocator run
func NewRunSummary(kind, date, currency string, amounts []string, stats allocation.Stats) *RunSummary {
	run := &RunSummary{
		Kind:             kind,
		Date:             date,
		Currency:         currency,
		Amounts:          append([]string(nil), amounts...),
		Totals:           make(map[string]decimal.Decimal, len(stats.Totals)),
		Records:          stats.Records,
		Instances:        stats.Instances,
		CycleBreaks:      stats.CycleBreaks,
		DroppedRecords:   stats.DroppedRecords,
		SelectorFailures: stats.SelectorFailures,
		Duration:         stats.Duration,
		Inputs:           make(map[string]string),
	}
	for amount, total := range stats.Totals {
		run.Totals[amount] = decimal.NewFromFloat(total)
	}
	return run
}

// AllocatedRows flattens the consumer records of the instances, one row per
// record and amount
func AllocatedRows(cfg *config.Config, instances []*graph.ServiceInstance, amounts []string) []AllocatedRow {
	var rows []AllocatedRow
	for _, si := range instances {
		for _, record := range si.CostRecords {
			edge, ok := record.(*types.ConsumerCostRecord)
			if !ok {
				continue
			}
			for _, amount := range amounts {
				i, ok := cfg.AmountIndex(amount)
				if !ok {
					continue
				}
				rows = append(rows, AllocatedRow{
					Service:          edge.Service,
					Instance:         edge.Instance,
					ProviderService:  edge.ProviderService,
					ProviderInstance: edge.ProviderInstance,
					Product:          edge.Product,
					Amount:           amount,
					Value:            decimal.NewFromFloat(edge.Amounts[i]),
					ProductValue:     decimal.NewFromFloat(edge.ProductAmounts[i]),
				})
			}
		}
	}
	return rows
}

// compareRuns computes the per amount deltas of two runs, over the amounts
// of either run
func compareRuns(oldRun, newRun *RunSummary) *CompareResult {
	names := make(map[string]bool)
	for amount := range oldRun.Totals {
		names[amount] = true
	}
	for amount := range newRun.Totals {
		names[amount] = true
	}
	amounts := make([]string, 0, len(names))
	for amount := range names {
		amounts = append(amounts, amount)
	}
	sort.Strings(amounts)

	result := &CompareResult{
		OldID:     oldRun.ID,
		NewID:     newRun.ID,
		CreatedAt: time.Now(),
	}
	for _, amount := range amounts {
		d := AmountDelta{
			Amount: amount,
			Old:    oldRun.Totals[amount],
			New:    newRun.Totals[amount],
		}
		d.Delta = d.New.Sub(d.Old)
		if d.Old.IsPositive() {
			d.DeltaPercent = d.Delta.Div(d.Old).Mul(decimal.NewFromInt(100)).InexactFloat64()
		}
		result.Deltas = append(result.Deltas, d)
	}
	return result
}

// prepare sets the ID and creation time of a run about to be saved
func prepare(run *RunSummary) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
}

// matches reports whether a run passes a filter
func (f *ListFilter) matches(run *RunSummary) bool {
	if f == nil {
		return true
	}
	if f.Date != "" && run.Date != f.Date {
		return false
	}
	if f.Kind != "" && run.Kind != f.Kind {
		return false
	}
	if !f.Since.IsZero() && run.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && run.CreatedAt.After(f.Until) {
		return false
	}
	return true
}

// newestFirst sorts runs and applies the filter limit
func newestFirst(runs []*RunSummary, filter *ListFilter) []*RunSummary {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if filter != nil && filter.Limit > 0 && filter.Limit < len(runs) {
		runs = runs[:filter.Limit]
	}
	return runs
}

// FileStore is a file-based storage backend: one JSON file per run, in one
// directory per cost date
type FileStore struct {
	basePath string
	mu       sync.RWMutex
}

// NewFileStore creates a file store
func NewFileStore(basePath string) (*FileStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, errors.Storage("failed to create storage directory", err)
	}
	return &FileStore{basePath: basePath}, nil
}

func (s *FileStore) Save(ctx context.Context, run *RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prepare(run)

	dateDir := filepath.Join(s.basePath, dirName(run.Date))
	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return errors.Storage("failed to create date directory", err)
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return errors.Storage("failed to marshal run", err)
	}
	if err := os.WriteFile(filepath.Join(dateDir, run.ID+".json"), data, 0644); err != nil {
		return errors.Storage("failed to write run", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, id string) (*RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path, err := s.find(id)
	if err != nil {
		return nil, err
	}
	return readRun(path)
}

func (s *FileStore) List(ctx context.Context, filter *ListFilter) ([]*RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []*RunSummary
	err := filepath.WalkDir(s.basePath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		run, err := readRun(path)
		if err != nil {
			return nil
		}
		if filter.matches(run) {
			runs = append(runs, run)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Storage("failed to list runs", err)
	}
	return newestFirst(runs, filter), nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.find(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return errors.Storage("failed to delete run", err)
	}
	return nil
}

func (s *FileStore) GetLatest(ctx context.Context, date string) (*RunSummary, error) {
	runs, err := s.List(ctx, &ListFilter{Date: date, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, errors.NotFound("run for date", date)
	}
	return runs[0], nil
}

func (s *FileStore) Compare(ctx context.Context, oldID, newID string) (*CompareResult, error) {
	oldRun, err := s.Get(ctx, oldID)
	if err != nil {
		return nil, err
	}
	newRun, err := s.Get(ctx, newID)
	if err != nil {
		return nil, err
	}
	return compareRuns(oldRun, newRun), nil
}

func (s *FileStore) Close() error {
	return nil
}

// find returns the path of a run file, searching every date directory
func (s *FileStore) find(id string) (string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return "", errors.Storage("failed to read storage", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(s.basePath, entry.Name(), id+".json")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", errors.NotFound("run", id)
}

func readRun(path string) (*RunSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Storage("failed to read run", err)
	}
	var run RunSummary
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, errors.Storage("failed to unmarshal run", err)
	}
	return &run, nil
}

// dirName turns a cost date into a directory name
func dirName(date string) string {
	if date == "" {
		return "undated"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == '.' {
			return '_'
		}
		return r
	}, date)
}

// MemoryStore is an in-memory storage backend (for testing)
type MemoryStore struct {
	runs map[string]*RunSummary
	mu   sync.RWMutex
}

// NewMemoryStore creates a memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs: make(map[string]*RunSummary),
	}
}

func (s *MemoryStore) Save(ctx context.Context, run *RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prepare(run)
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, errors.NotFound("run", id)
	}
	return run, nil
}

func (s *MemoryStore) List(ctx context.Context, filter *ListFilter) ([]*RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []*RunSummary
	for _, run := range s.runs {
		if filter.matches(run) {
			runs = append(runs, run)
		}
	}
	return newestFirst(runs, filter), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[id]; !ok {
		return errors.NotFound("run", id)
	}
	delete(s.runs, id)
	return nil
}

func (s *MemoryStore) GetLatest(ctx context.Context, date string) (*RunSummary, error) {
	runs, err := s.List(ctx, &ListFilter{Date: date, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, errors.NotFound("run for date", date)
	}
	return runs[0], nil
}

func (s *MemoryStore) Compare(ctx context.Context, oldID, newID string) (*CompareResult, error) {
	oldRun, err := s.Get(ctx, oldID)
	if err != nil {
		return nil, err
	}
	newRun, err := s.Get(ctx, newID)
	if err != nil {
		return nil, err
	}
	return compareRuns(oldRun, newRun), nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// StoreFactory creates the store selected by the runtime settings
func StoreFactory(ctx context.Context, settings *config.Settings) (Store, error) {
	switch Backend(settings.Store.Backend) {
	case BackendFile, "":
		path := settings.Store.Path
		if path == "" {
			path = ".cloud-cost-allocation/runs"
		}
		return NewFileStore(path)
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendClickHouse:
		return NewClickHouseStore(ctx, settings.ClickHouse)
	default:
		return nil, errors.Newf(errors.TypeConfig, "unsupported store backend: %s", settings.Store.Backend)
	}
}

// Ensure interfaces are implemented
var (
	_ Store     = (*FileStore)(nil)
	_ Store     = (*MemoryStore)(nil)
	_ Store     = (*ClickHouseStore)(nil)
	_ io.Closer = (*FileStore)(nil)
)
