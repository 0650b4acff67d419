// Command smoke runs an end-to-end check against a running dispatchd:
// seeds accounts, requests a ride, streams the rider's notification
// websocket, and accepts the ride, failing loudly if the expected
// driver_assigned message never arrives. Grounded on the teacher's
// cmd/smoke/main.go.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	api := envOrDefault("API_BASE", "http://localhost:8080")
	wsBase := envOrDefault("WS_BASE", "ws://localhost:8080")

	fmt.Println("Seeding accounts...")
	if err := runCmd("go", "run", "./cmd/seed"); err != nil {
		log.Fatalf("seed failed: %v", err)
	}

	riderToken := envOrDefault("RIDER_TOKEN", "")
	driverToken := envOrDefault("DRIVER_TOKEN", "")
	if riderToken == "" || driverToken == "" {
		fmt.Println("Copy rider/driver tokens from seed output and set RIDER_TOKEN/DRIVER_TOKEN env for a non-interactive run.")
	}

	fmt.Println("Pushing driver location...")
	if err := putJSON(api+"/users/2/location", driverToken, map[string]any{
		"latitude":  40.758,
		"longitude": -73.9855,
	}); err != nil {
		log.Fatalf("driver location update failed: %v", err)
	}

	fmt.Println("Requesting ride...")
	rideID, err := requestRide(api, riderToken, map[string]any{
		"source_location": "smoke test pickup",
		"user_id":         1,
		"pickup_lat":      40.758,
		"pickup_lng":      -73.9855,
	})
	if err != nil {
		log.Fatalf("request ride failed: %v", err)
	}
	fmt.Printf("Ride ID: %d\n", rideID)

	events := make(chan map[string]any, 5)
	go subscribeWS(wsBase, riderToken, events)

	time.Sleep(2 * time.Second) // give the dispatch tick a chance to offer it

	fmt.Println("Accepting ride...")
	if err := putJSON(fmt.Sprintf("%s/rides/%d/accept", api, rideID), driverToken, map[string]any{
		"driver_id": 2,
	}); err != nil {
		log.Fatalf("accept failed: %v", err)
	}

	waitForMessage(events, "driver_assigned")
	fmt.Println("Smoke test complete.")
}

func requestRide(api, token string, payload map[string]any) (int64, error) {
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest(http.MethodPost, api+"/ride/request", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("status %s", resp.Status)
	}
	var res struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return 0, err
	}
	if res.ID == 0 {
		return 0, fmt.Errorf("ride id missing")
	}
	return res.ID, nil
}

func putJSON(target, token string, payload map[string]any) error {
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest(http.MethodPut, target, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %s", resp.Status)
	}
	return nil
}

func runCmd(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), "DATABASE_URL="+envOrDefault("DATABASE_URL", ""))
	return cmd.Run()
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func subscribeWS(base, token string, sink chan<- map[string]any) {
	u := base + "/ws/notifications"
	parsed, _ := url.Parse(u)
	q := parsed.Query()
	if token != "" {
		q.Set("token", token)
	}
	parsed.RawQuery = q.Encode()

	c, _, err := websocket.DefaultDialer.Dial(parsed.String(), nil)
	if err != nil {
		log.Printf("ws dial failed: %v", err)
		return
	}
	defer c.Close()
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		var payload map[string]any
		if err := json.Unmarshal(msg, &payload); err != nil {
			continue
		}
		sink <- payload
	}
}

func waitForMessage(events <-chan map[string]any, expectType string) {
	timeout := time.After(10 * time.Second)
	for {
		select {
		case msg := <-events:
			msgType, _ := msg["type"].(string)
			fmt.Printf("WS message received: %v\n", msg)
			if msgType == expectType {
				return
			}
		case <-timeout:
			log.Fatalf("expected ws message type %q not received", expectType)
		}
	}
}
