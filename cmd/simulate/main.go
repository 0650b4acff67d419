// Command simulate drives a single rider/driver pair through a ride
// request and acceptance against a running dispatchd instance,
// grounded on the teacher's cmd/simulate/main.go.
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

type rideRequest struct {
	SourceLocation string  `json:"source_location"`
	UserID         int64   `json:"user_id"`
	PickupLat      float64 `json:"pickup_lat"`
	PickupLng      float64 `json:"pickup_lng"`
}

type driverActionPayload struct {
	DriverID int64 `json:"driver_id"`
}

func main() {
	api := flag.String("api", "http://localhost:8080", "API base URL")
	riderToken := flag.String("rider-token", "", "rider bearer token")
	driverToken := flag.String("driver-token", "", "driver bearer token")
	riderID := flag.Int64("rider-id", 1, "rider user id")
	driverID := flag.Int64("driver-id", 2, "driver user id")
	lat := flag.Float64("lat", 40.758, "pickup latitude")
	lon := flag.Float64("lon", -73.9855, "pickup longitude")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	rideID, err := requestRide(client, *api, *riderToken, rideRequest{
		SourceLocation: "simulated pickup",
		UserID:         *riderID,
		PickupLat:      *lat,
		PickupLng:      *lon,
	})
	if err != nil {
		log.Fatalf("ride request failed: %v", err)
	}
	log.Printf("ride requested: %d", rideID)

	time.Sleep(2 * time.Second) // give the dispatch tick a chance to offer it

	if err := acceptRide(client, *api, *driverToken, rideID, *driverID); err != nil {
		log.Fatalf("accept failed: %v", err)
	}
	log.Printf("ride accepted by driver %d", *driverID)
}

func requestRide(client *http.Client, api, token string, payload rideRequest) (int64, error) {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/ride/request", api), bytes.NewBuffer(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("request ride status: %s", resp.Status)
	}
	var res struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return 0, err
	}
	if res.ID == 0 {
		return 0, fmt.Errorf("ride id missing in response")
	}
	return res.ID, nil
}

func acceptRide(client *http.Client, api, token string, rideID, driverID int64) error {
	body, _ := json.Marshal(driverActionPayload{DriverID: driverID})
	req, err := http.NewRequest(http.MethodPut, fmt.Sprintf("%s/rides/%d/accept", api, rideID), bytes.NewBuffer(body))
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
		return fmt.Errorf("accept status: %s", resp.Status)
	}
	return nil
}

func init() {
	log.SetOutput(os.Stdout)
}
