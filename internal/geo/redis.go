package geo

import (
	"context"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisLocator indexes driver positions in a Redis GEO key, grounded on
// the teacher's internal/geo/redis_geo.go Index type.
type RedisLocator struct {
	client *redis.Client
	key    string
}

func NewRedisLocator(client *redis.Client) *RedisLocator {
	return &RedisLocator{client: client, key: "drivers:geo"}
}

func (l *RedisLocator) Add(driverID int64, lat, lng float64) error {
	return l.client.GeoAdd(context.Background(), l.key, &redis.GeoLocation{
		Name:      strconv.FormatInt(driverID, 10),
		Longitude: lng,
		Latitude:  lat,
	}).Err()
}

func (l *RedisLocator) Remove(driverID int64) error {
	return l.client.ZRem(context.Background(), l.key, strconv.FormatInt(driverID, 10)).Err()
}

func (l *RedisLocator) Nearby(lat, lng, radiusKM float64) ([]Candidate, error) {
	results, err := l.client.GeoSearchLocation(context.Background(), l.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  lng,
			Latitude:   lat,
			Radius:     radiusKM,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      50,
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(results))
	for _, r := range results {
		id, err := strconv.ParseInt(r.Name, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Candidate{DriverID: id, DistKM: r.Dist})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistKM == out[j].DistKM {
			return out[i].DriverID < out[j].DriverID
		}
		return out[i].DistKM < out[j].DistKM
	})
	return out, nil
}
