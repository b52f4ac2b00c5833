package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/birbparty/pylonkit/sdk"
)

type Reminder struct {
	Channel string    `json:"channel"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

func main() {
	deploymentID := envOr("PYLON_DEPLOYMENT", "834213")

	config := sdk.DefaultConfig().
		WithBaseURL(envOr("PYLON_API", "http://localhost:8080")).
		WithToken(os.Getenv("PYLON_TOKEN")).
		WithTimeout(10 * time.Second)

	client, err := sdk.NewClient(config)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	ctx := context.Background()

	fmt.Println("Testing connectivity...")
	if err := client.Ping(ctx, deploymentID); err != nil {
		log.Fatalf("Deployment %s is not reachable: %v", deploymentID, err)
	}
	fmt.Println("✓ Deployment reachable")

	ns, err := client.Namespace(deploymentID, "settings")
	if err != nil {
		log.Fatal(err)
	}

	// --- JSON values ---
	fmt.Println("\n--- JSON values ---")
	if err := ns.Put(ctx, "theme", map[string]string{"color": "dark"}, nil); err != nil {
		log.Fatalf("Put failed: %v", err)
	}
	var theme map[string]string
	found, err := ns.Get(ctx, "theme", &theme)
	if err != nil {
		log.Fatalf("Get failed: %v", err)
	}
	fmt.Printf("theme found=%v value=%v\n", found, theme)

	// --- Conditional put ---
	fmt.Println("\n--- Conditional put ---")
	if err := ns.Put(ctx, "theme", map[string]string{"color": "light"}, &sdk.PutOptions{IfNotExists: true}); err != nil {
		log.Fatal(err)
	}
	ns.Get(ctx, "theme", &theme)
	fmt.Printf("theme after IfNotExists put: %v\n", theme)

	// --- Bytes ---
	fmt.Println("\n--- Bytes ---")
	if err := ns.PutBytes(ctx, "motd", []byte("welcome aboard"), nil); err != nil {
		log.Fatal(err)
	}
	motd, _, err := ns.GetBytes(ctx, "motd")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("motd: %s\n", motd)

	// --- Typed namespace ---
	fmt.Println("\n--- Typed namespace ---")
	remindersNS, err := client.Namespace(deploymentID, "reminders")
	if err != nil {
		log.Fatal(err)
	}
	reminders := sdk.NewTypedNamespace[Reminder](remindersNS)
	for i, channel := range []string{"general", "random", "dev"} {
		r := Reminder{Channel: channel, Message: "stand-up", At: time.Now().Add(time.Duration(i) * time.Hour)}
		if err := reminders.Put(ctx, fmt.Sprintf("r%d", i), r, nil); err != nil {
			log.Fatal(err)
		}
	}
	page, err := reminders.Items(ctx, &sdk.ListOptions{From: "r0", Limit: 2})
	if err != nil {
		log.Fatal(err)
	}
	for _, item := range page {
		fmt.Printf("%s -> #%s at %s\n", item.Key, item.Value.Channel, item.Value.At.Format(time.Kitchen))
	}

	// --- Namespaces ---
	fmt.Println("\n--- Namespaces ---")
	summaries, err := client.Namespaces(ctx, deploymentID)
	if err != nil {
		log.Fatal(err)
	}
	for _, s := range summaries {
		fmt.Printf("%s: %d keys\n", s.Namespace, s.Count)
	}

	// --- Compare-and-delete ---
	fmt.Println("\n--- Compare-and-delete ---")
	if err := ns.Delete(ctx, "theme", &sdk.DeleteOptions{PrevValue: map[string]string{"color": "dark"}}); err != nil {
		log.Fatal(err)
	}
	found, _ = ns.Get(ctx, "theme", &theme)
	fmt.Printf("theme still present: %v\n", found)

	// --- Errors ---
	fmt.Println("\n--- Errors ---")
	if _, err := client.Namespace(deploymentID, ""); sdk.IsInvalidArgument(err) {
		fmt.Printf("rejected: %v\n", err)
	}
	var protoErr *sdk.ProtocolError
	if _, _, err := ns.GetBytes(ctx, "reminders"); errors.As(err, &protoErr) {
		fmt.Printf("protocol error at %s\n", protoErr.Field)
	}

	deleted, err := remindersNS.Clear(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("\ncleared %d reminders\n", deleted)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
