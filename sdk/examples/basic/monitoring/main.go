// Monitoring Example
// Tails the console of a deployment, reconnecting with exponential backoff,
// and prints the SDK's in-memory metrics every few seconds.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/birbparty/pylonkit/sdk"
)

type consoleLine struct {
	Method string        `json:"method"`
	Data   []interface{} `json:"data"`
}

func main() {
	deploymentID := os.Getenv("PYLON_DEPLOYMENT")
	if deploymentID == "" {
		deploymentID = "834213"
	}

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	metrics := sdk.NewMetricsCollector()
	config := sdk.DefaultConfig().
		WithToken(os.Getenv("PYLON_TOKEN")).
		WithObserver(metrics).
		WithLogger(logrus.NewEntry(logger))
	if api := os.Getenv("PYLON_API"); api != "" {
		config.WithBaseURL(api)
	}

	client, err := sdk.NewClient(config)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	stream, err := client.Stream(deploymentID,
		sdk.WithReconnectStrategy(sdk.DefaultExponentialBackoff()),
	)
	if err != nil {
		log.Fatal(err)
	}

	stream.OnOpen(func() { fmt.Println("● console connected") })
	stream.OnClose(func(code int, text string) { fmt.Printf("○ console closed (%d %s)\n", code, text) })
	stream.OnError(func(err error) { fmt.Printf("! %v\n", err) })
	sdk.HandleMessages(stream, func(line consoleLine) {
		data, _ := json.Marshal(line.Data)
		fmt.Printf("[%s] %s\n", line.Method, data)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := stream.Connect(ctx); err != nil {
		log.Fatalf("Connect failed: %v", err)
	}
	defer stream.Close()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			printStats(stream, metrics)
			return
		case <-stream.Done():
			return
		case <-ticker.C:
			printStats(stream, metrics)
		}
	}
}

func printStats(stream *sdk.Stream, metrics *sdk.MetricsCollector) {
	stats := stream.Stats()
	snapshot := metrics.GetMetrics()
	id := stream.DeploymentID()

	fmt.Println("\n=== Console stream ===")
	fmt.Printf("State:      %s\n", stream.State())
	fmt.Printf("Opens:      %d\n", stats.Opens)
	fmt.Printf("Messages:   %d\n", stats.Messages)
	fmt.Printf("Errors:     %d\n", stats.Errors)
	fmt.Printf("Reconnects: %d\n", stats.Reconnects)
	if !stats.ConnectedAt.IsZero() {
		fmt.Printf("Connected:  %s ago\n", time.Since(stats.ConnectedAt).Round(time.Second))
	}
	if code, ok := snapshot["stream_last_close_code"].(map[string]int)[id]; ok {
		fmt.Printf("Last close: %d\n", code)
	}
	for endpoint, count := range snapshot["requests"].(map[string]int64) {
		fmt.Printf("%-40s %d\n", endpoint, count)
	}
}
