package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"gardenia/internal/models"
	"gardenia/internal/store"
	"gardenia/internal/telemetry"
	"gardenia/internal/web/middleware"

	"github.com/gin-gonic/gin"
)

// Telemetry refetches weather data on demand.
type Telemetry interface {
	FetchData(ctx context.Context, t time.Time) error
	RefreshToken(ctx context.Context) error
}

// RegisterDataRoutes wires telemetry reads and the manual refetch.
func RegisterDataRoutes(router *gin.Engine, kv store.KV, tel Telemetry, mw *middleware.MiddlewareManager) {
	r := router.Group("/api/data")

	// Raw buckets for charting, oldest first.
	r.GET("", mw.PublicOrUser("data"), func(c *gin.Context) {
		hours, err := strconv.Atoi(c.DefaultQuery("hours", "24"))
		if err != nil || hours < 1 || hours > 24*31 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad hours"})
			return
		}
		now := time.Now()
		entries, err := kv.Range(c,
			models.DataKey(now.Add(-time.Duration(hours)*time.Hour).UnixMilli()),
			models.DataKey(now.UnixMilli()+1),
			store.RangeOptions{})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := []gin.H{}
		for _, entry := range entries {
			var sample models.Sample
			if err := entry.Decode(&sample); err != nil {
				continue
			}
			millis, err := strconv.ParseInt(entry.Key[len(entry.Key)-1], 10, 64)
			if err != nil {
				continue
			}
			out = append(out, gin.H{"t": millis, "data": sample})
		}
		c.JSON(http.StatusOK, out)
	})

	// Per-metric summary over the window: current value, extremes and a
	// coarse trend against the value an hour back.
	r.GET("/stats", mw.PublicOrUser("data"), func(c *gin.Context) {
		now := time.Now()
		entries, err := kv.Range(c,
			models.DataKey(now.Add(-24*time.Hour).UnixMilli()),
			models.DataKey(now.UnixMilli()+1),
			store.RangeOptions{})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		type stat struct {
			Current *float64 `json:"current"`
			Min     *float64 `json:"min"`
			Max     *float64 `json:"max"`
			Trend   string   `json:"trend"`
		}
		stats := map[string]*stat{}
		hourAgo := map[string]*float64{}
		cutoff := now.Add(-time.Hour).UnixMilli()
		for _, entry := range entries {
			var sample models.Sample
			if err := entry.Decode(&sample); err != nil {
				continue
			}
			millis, err := strconv.ParseInt(entry.Key[len(entry.Key)-1], 10, 64)
			if err != nil {
				continue
			}
			for metric, value := range sample {
				if value == nil {
					continue
				}
				s := stats[metric]
				if s == nil {
					s = &stat{Trend: "steady"}
					stats[metric] = s
				}
				v := *value
				s.Current = &v
				if s.Min == nil || v < *s.Min {
					m := v
					s.Min = &m
				}
				if s.Max == nil || v > *s.Max {
					m := v
					s.Max = &m
				}
				if millis <= cutoff {
					old := v
					hourAgo[metric] = &old
				}
			}
		}
		for metric, s := range stats {
			old := hourAgo[metric]
			if old == nil || s.Current == nil {
				continue
			}
			switch {
			case *s.Current > *old:
				s.Trend = "rising"
			case *s.Current < *old:
				s.Trend = "falling"
			}
		}
		c.JSON(http.StatusOK, stats)
	})

	// Manual refetch, with the same single token-refresh retry the tick
	// performs.
	r.PUT("", mw.RequireUser(), mw.RequireGrant("data"), func(c *gin.Context) {
		now := time.Now()
		err := tel.FetchData(c, now)
		if errors.Is(err, telemetry.ErrTokenExpired) {
			if err = tel.RefreshToken(c); err == nil {
				err = tel.FetchData(c, now)
			}
		}
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
