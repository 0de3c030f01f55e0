package federation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ephedra/ephedra/internal/build"
)

var (
	memberQueryCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "federation_member_queries_total",
		Help:      "The total number of sub-queries sent to federation members.",
	}, []string{"member", "status"})

	memberQueryDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:                       build.ProjectName,
		Name:                            "federation_member_query_duration_ms",
		Help:                            "The time it takes a member to accept a sub-query, in milliseconds.",
		Buckets:                         []float64{1, 5, 10, 25, 50, 100, 200, 500, 1000, 2000, 5000},
		NativeHistogramBucketFactor:     1.1,
		NativeHistogramMaxBucketNumber:  100,
		NativeHistogramMinResetDuration: time.Hour,
	}, []string{"member"})

	singleOwnerCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "federation_single_owner_queries_total",
		Help:      "The total number of queries answered by the default member alone.",
	})

	joinAlgorithmCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "federation_joins_total",
		Help:      "The total number of joins evaluated, by algorithm.",
	}, []string{"algorithm"})
)
