package model

// ReputationMetrics is the daily rollup of email delivery outcomes. One row
// per MetricDate (YYYY-MM-DD); the aggregator upserts it so reruns for the
// same date overwrite rather than duplicate.
type ReputationMetrics struct {
	MetricDate         string
	TotalSent          int64
	TotalBounces       int64
	TotalComplaints    int64
	BounceRate         float64
	ComplaintRate      float64
	DeliveryRate       float64
	BounceRateAlert    bool
	ComplaintRateAlert bool
}
