package dto

type StatsResponse struct {
	TotalUsage          int            `json:"total_usage"`
	AverageFileSize     float64        `json:"average_file_size"`
	AverageProcessingMS float64        `json:"average_processing_ms"`
	UsageByDay          map[string]int `json:"usage_by_day"`
	PeriodDays          int            `json:"period_days"`
}
