package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medagenda/scheduling-core/internal/db"
)

const (
	doctorCount = 25
	daysAhead   = 14
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

// Consultation blocks per day, hour:minute start with 30 minute duration.
var dailyBlocks = []string{"09:00", "09:30", "10:00", "10:30", "11:00", "15:00", "15:30", "16:00"}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	inserted, err := seedSlots(context.Background(), pool)
	if err != nil {
		log.Fatalf("seed slots: %v", err)
	}

	log.Printf("seed complete, %d slots inserted", inserted)
}

func seedSlots(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	inserted := 0
	today := time.Now()

	for i := 0; i < doctorCount; i++ {
		doctorID := uuid.New()
		doctorName := fmt.Sprintf("Dr. %s %s", gofakeit.FirstName(), gofakeit.LastName())
		specialty := specialties[i%len(specialties)]

		for day := 1; day <= daysAhead; day++ {
			date := today.AddDate(0, 0, day)
			// Skip weekends, the clinic is closed.
			if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}

			for _, start := range dailyBlocks {
				end, err := blockEnd(start)
				if err != nil {
					return 0, err
				}

				_, err = tx.Exec(ctx, `
					INSERT INTO availability_slots
						(id, doctor_id, doctor_name, specialty_name, date, start_time, end_time, status, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, $6, $7, 'available', now(), now())
				`, uuid.New(), doctorID, doctorName, specialty, date.Format("2006-01-02"), start, end)
				if err != nil {
					return 0, fmt.Errorf("insert slot: %w", err)
				}
				inserted++
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return inserted, nil
}

func blockEnd(start string) (string, error) {
	t, err := time.Parse("15:04", start)
	if err != nil {
		return "", fmt.Errorf("parse block start %q: %w", start, err)
	}
	return t.Add(30 * time.Minute).Format("15:04"), nil
}
