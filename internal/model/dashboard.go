package model

import "time"

// DashboardStats holds the headline counters of the dashboard home page.
type DashboardStats struct {
	TotalUsers    int `json:"totalUsers"`
	ActiveUsers   int `json:"activeUsers"`
	TodayNewUsers int `json:"todayNewUsers"`
	InactiveUsers int `json:"inactiveUsers"`
}

// RoleShare is one slice of the role distribution chart.
type RoleShare struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// GrowthPoint is one day of the user growth chart.
type GrowthPoint struct {
	Date  string `json:"date"`
	Month int    `json:"month"`
	Day   int    `json:"day"`
	Users int    `json:"users"`
}

// DashboardSnapshot bundles the three dashboard datasets fetched together.
type DashboardSnapshot struct {
	Stats            DashboardStats `json:"stats"`
	RoleDistribution []RoleShare    `json:"roleDistribution"`
	UserGrowth       []GrowthPoint  `json:"userGrowth"`
	FetchedAt        time.Time      `json:"fetchedAt"`
}
