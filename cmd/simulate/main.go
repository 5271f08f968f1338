package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medagenda/scheduling-core/internal/config"
	"github.com/medagenda/scheduling-core/internal/db"
	redisclient "github.com/medagenda/scheduling-core/internal/redis"
	"github.com/medagenda/scheduling-core/internal/scheduling"
)

// The simulator hammers the reservation core directly, many workers racing
// to reserve a small pool of slots. At the end it verifies that no slot
// ended up attached to more than one live appointment.

type SimConfig struct {
	Duration    time.Duration
	Workers     int
	SlotLimit   int
	CancelRatio float64
	UseLocker   bool
}

type OperationMetrics struct {
	Total    int64
	Success  int64
	Conflict int64
	Error    int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.latencies))
	copy(latencies, om.latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	max = latencies[len(latencies)-1]
	return avg, p50, p95, max
}

type Simulator struct {
	cfg     SimConfig
	svc     *scheduling.Service
	slots   []uuid.UUID
	reserve OperationMetrics
	cancel  OperationMetrics

	mu    sync.Mutex
	appts []uuid.UUID
	owner map[uuid.UUID]uuid.UUID // appointment -> patient
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	simCfg := SimConfig{
		Duration:    getDuration("SIM_DURATION", 30*time.Second),
		Workers:     getInt("SIM_WORKERS", 20),
		SlotLimit:   getInt("SIM_SLOT_LIMIT", 50),
		CancelRatio: getFloat("SIM_CANCEL_RATIO", 0.3),
		UseLocker:   os.Getenv("SIM_USE_LOCKER") == "true",
	}
	log.Printf("config: duration=%s workers=%d slots=%d cancel=%.2f locker=%v",
		simCfg.Duration, simCfg.Workers, simCfg.SlotLimit, simCfg.CancelRatio, simCfg.UseLocker)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	var locker scheduling.Locker
	if simCfg.UseLocker {
		rdb, err := redisclient.NewClient(baseCfg.RedisAddr, baseCfg.RedisUsername, baseCfg.RedisPassword)
		if err != nil {
			log.Fatalf("connect redis: %v", err)
		}
		defer rdb.Close()
		locker = redisclient.NewSlotLocker(rdb, baseCfg.LockTTL)
	}

	store := scheduling.NewPgStore(pgPool, baseCfg.TxMaxRetries)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	svc := scheduling.NewService(store, locker, nil, baseCfg.HoldTTL, logger)

	slots, err := loadAvailableSlots(ctx, pgPool, simCfg.SlotLimit)
	if err != nil {
		log.Fatalf("load slots: %v", err)
	}
	log.Printf("loaded %d available slots", len(slots))

	sim := &Simulator{
		cfg:   simCfg,
		svc:   svc,
		slots: slots,
		owner: make(map[uuid.UUID]uuid.UUID),
	}
	sim.Run()
	sim.PrintReport()

	if err := verifyNoDoubleBooking(context.Background(), pgPool); err != nil {
		log.Fatalf("INVARIANT VIOLATED: %v", err)
	}
	log.Println("invariant holds: no slot has more than one live appointment")
}

func loadAvailableSlots(ctx context.Context, pool *pgxpool.Pool, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, `
		SELECT id FROM availability_slots
		WHERE status = 'available'
		ORDER BY date, start_time
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		slots = append(slots, id)
	}
	if len(slots) == 0 {
		return nil, errors.New("no available slots, run cmd/seed first")
	}
	return slots, rows.Err()
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Duration)
	defer cancel()

	log.Printf("running for %s with %d workers", s.cfg.Duration, s.cfg.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()

	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	patientID := uuid.New()
	patientName := gofakeit.Name()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if rng.Float64() < s.cfg.CancelRatio {
			s.doCancel(ctx, rng)
		} else {
			s.doReserve(ctx, rng, patientID, patientName)
		}
	}
}

func (s *Simulator) doReserve(ctx context.Context, rng *rand.Rand, patientID uuid.UUID, patientName string) {
	slotID := s.slots[rng.Intn(len(s.slots))]

	start := time.Now()
	appt, err := s.svc.Reserve(ctx, scheduling.ReserveParams{
		SlotID:      slotID,
		PatientID:   patientID,
		PatientName: patientName,
		Reason:      "load test consultation",
	})
	latency := time.Since(start)

	if err != nil {
		conflict := errors.Is(err, scheduling.ErrSlotUnavailable) ||
			errors.Is(err, scheduling.ErrSlotBeingBooked) ||
			errors.Is(err, scheduling.ErrTxConflict)
		s.reserve.Record(latency, false, conflict)
		return
	}
	s.reserve.Record(latency, true, false)

	s.mu.Lock()
	s.appts = append(s.appts, appt.ID)
	s.owner[appt.ID] = patientID
	s.mu.Unlock()
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	s.mu.Lock()
	if len(s.appts) == 0 {
		s.mu.Unlock()
		return
	}
	idx := rng.Intn(len(s.appts))
	apptID := s.appts[idx]
	patientID := s.owner[apptID]
	s.appts = append(s.appts[:idx], s.appts[idx+1:]...)
	s.mu.Unlock()

	start := time.Now()
	err := s.svc.Cancel(ctx, apptID, scheduling.Actor{ID: patientID})
	latency := time.Since(start)

	if err != nil {
		conflict := errors.Is(err, scheduling.ErrInvalidTransition) ||
			errors.Is(err, scheduling.ErrTxConflict)
		s.cancel.Record(latency, false, conflict)
		return
	}
	s.cancel.Record(latency, true, false)
}

func (s *Simulator) PrintReport() {
	printOp := func(name string, om *OperationMetrics) {
		avg, p50, p95, max := om.Stats()
		log.Printf("%-8s total=%d success=%d conflict=%d error=%d avg=%s p50=%s p95=%s max=%s",
			name, atomic.LoadInt64(&om.Total), atomic.LoadInt64(&om.Success),
			atomic.LoadInt64(&om.Conflict), atomic.LoadInt64(&om.Error),
			avg, p50, p95, max)
	}
	printOp("reserve", &s.reserve)
	printOp("cancel", &s.cancel)
}

// verifyNoDoubleBooking fails if any slot carries more than one reserved or
// completed appointment.
func verifyNoDoubleBooking(ctx context.Context, pool *pgxpool.Pool) error {
	rows, err := pool.Query(ctx, `
		SELECT slot_id, count(*)
		FROM appointments
		WHERE status IN ('reserved', 'completed')
		GROUP BY slot_id
		HAVING count(*) > 1
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var slotID uuid.UUID
		var n int
		if err := rows.Scan(&slotID, &n); err != nil {
			return err
		}
		return fmt.Errorf("slot %s has %d live appointments", slotID, n)
	}
	return rows.Err()
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
