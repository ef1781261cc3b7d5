// Runs the hub against a simulated head unit and feeds it synthetic gaze
// and inertial samples, so the gateway and the exports can be exercised
// without hardware.
package main

import (
	"context"
	"log"
	"math"
	"os/signal"
	"syscall"
	"time"

	tobiimvp "github.com/lzukanovic/tobii-mvp"
	"github.com/lzukanovic/tobii-mvp/internal/adapters/devicesim"
	"github.com/lzukanovic/tobii-mvp/internal/domain"
)

func main() {
	sim := devicesim.New()

	cfg := &tobiimvp.Config{
		Recordings: tobiimvp.RecordingsConfig{Dir: "./data/recordings"},
	}

	hub, err := tobiimvp.ConfFromConfig(cfg, tobiimvp.WithDialer(sim))
	if err != nil {
		log.Fatalf("assemble hub: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go driveSession(ctx, hub, sim)

	if err := hub.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("hub exited: %v", err)
	}
}

// driveSession connects, streams synthetic samples for as long as the
// process runs, and stops cleanly on shutdown so the export fires.
func driveSession(ctx context.Context, hub *tobiimvp.Hub, sim *devicesim.Sim) {
	svc := hub.Service()

	if err := svc.Connect(ctx, "sim.local", 100); err != nil {
		log.Printf("connect: %v", err)
		return
	}
	if err := svc.StartStreaming(ctx, 0, 0); err != nil {
		log.Printf("start streaming: %v", err)
		return
	}
	log.Printf("streaming; live view at http://localhost:5002/ws")

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := svc.StopStreaming(stopCtx); err != nil {
				log.Printf("stop streaming: %v", err)
			}
			cancel()
			return
		case <-ticker.C:
			t := time.Since(start).Seconds()
			sim.PushGaze(t, map[string]any{
				"gaze2d": []any{0.5 + 0.3*math.Sin(t), 0.5 + 0.3*math.Cos(t)},
				"eyeleft": map[string]any{
					"pupildiameter": 3.1 + 0.2*math.Sin(t/3),
				},
			})
			sim.Push(domain.SignalImu, []any{t, map[string]any{
				"accelerometer": []any{0.0, 0.0, -9.81},
				"gyroscope":     []any{0.1 * math.Sin(t), 0.0, 0.0},
			}})
		}
	}
}
