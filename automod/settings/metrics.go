package settings

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var settingsMalformed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "awb_settings_malformed",
	Help: "Number of times stored or wiki settings failed to parse",
}, []string{"subreddit"})

var settingsRefreshed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "awb_settings_refreshed",
	Help: "Number of settings updates read from community wiki pages",
}, []string{"subreddit"})
