// Command heartbeat repeatedly pushes a driver's simulated GPS position
// to PUT /users/{id}/location, grounded on the teacher's
// cmd/heartbeat/main.go.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

type locationPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func main() {
	api := flag.String("api", "http://localhost:8080", "API base URL")
	driverID := flag.Int64("driver", 1, "driver user id")
	token := flag.String("token", "", "driver bearer token")
	lat := flag.Float64("lat", 40.758, "starting latitude")
	lon := flag.Float64("lon", -73.9855, "starting longitude")
	interval := flag.Duration("interval", 3*time.Second, "heartbeat interval")
	count := flag.Int("count", 20, "number of heartbeats to send")
	stepLat := flag.Float64("delta-lat", 0.0001, "increment lat per heartbeat")
	stepLon := flag.Float64("delta-lon", 0.0001, "increment lon per heartbeat")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}
	for i := 0; i < *count; i++ {
		payload := locationPayload{
			Latitude:  *lat + float64(i)*(*stepLat),
			Longitude: *lon + float64(i)*(*stepLon),
		}
		if err := sendLocation(client, *api, *driverID, *token, payload); err != nil {
			log.Printf("heartbeat %d failed: %v", i+1, err)
		} else {
			log.Printf("heartbeat %d sent", i+1)
		}
		time.Sleep(*interval)
	}
}

func sendLocation(client *http.Client, api string, driverID int64, token string, payload locationPayload) error {
	body, _ := json.Marshal(payload)
	url := fmt.Sprintf("%s/users/%d/location", api, driverID)
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %s", resp.Status)
	}
	return nil
}

func init() {
	log.SetOutput(os.Stdout)
}
