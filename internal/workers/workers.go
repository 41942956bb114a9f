package workers

import (
	"context"
	"log"
	"time"

	"ironpathAPI/services"
)

// StartDaySweeper starts a background routine that closes days players
// walked away from. Closing stays lazy for online players; the sweeper only
// bounds how long an abandoned day can linger open.
func StartDaySweeper(days *services.DayService, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)

	go func() {
		for range ticker.C {
			sweep(days)
		}
	}()
}

func sweep(days *services.DayService) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := days.SweepAbandonedDays(ctx); err != nil {
		log.Printf("Day sweep failed: %v", err)
	}
}
