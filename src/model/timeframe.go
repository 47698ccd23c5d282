package model

import (
	"fmt"
	"time"
)

// TimeFrame is a candle interval identifier ("1m", "1h", ...).
type TimeFrame string

const (
	TimeFrame1m  TimeFrame = "1m"
	TimeFrame3m  TimeFrame = "3m"
	TimeFrame5m  TimeFrame = "5m"
	TimeFrame15m TimeFrame = "15m"
	TimeFrame30m TimeFrame = "30m"
	TimeFrame1h  TimeFrame = "1h"
	TimeFrame2h  TimeFrame = "2h"
	TimeFrame4h  TimeFrame = "4h"
	TimeFrame6h  TimeFrame = "6h"
	TimeFrame8h  TimeFrame = "8h"
	TimeFrame12h TimeFrame = "12h"
	TimeFrame1d  TimeFrame = "1d"
	TimeFrame3d  TimeFrame = "3d"
	TimeFrame1w  TimeFrame = "1w"
	TimeFrame1M  TimeFrame = "1M"
)

var timeFrameSeconds = map[TimeFrame]int64{
	TimeFrame1m:  60,
	TimeFrame3m:  180,
	TimeFrame5m:  300,
	TimeFrame15m: 900,
	TimeFrame30m: 1800,
	TimeFrame1h:  3600,
	TimeFrame2h:  7200,
	TimeFrame4h:  14400,
	TimeFrame6h:  21600,
	TimeFrame8h:  28800,
	TimeFrame12h: 43200,
	TimeFrame1d:  86400,
	TimeFrame3d:  259200,
	TimeFrame1w:  604800,
	TimeFrame1M:  2592000,
}

// ParseTimeFrame validates a time frame identifier.
func ParseTimeFrame(s string) (TimeFrame, error) {
	tf := TimeFrame(s)
	if _, ok := timeFrameSeconds[tf]; !ok {
		return "", fmt.Errorf("unknown time frame %q", s)
	}
	return tf, nil
}

func (tf TimeFrame) Seconds() int64 {
	return timeFrameSeconds[tf]
}

func (tf TimeFrame) Duration() time.Duration {
	return time.Duration(timeFrameSeconds[tf]) * time.Second
}

func (tf TimeFrame) IsValid() bool {
	_, ok := timeFrameSeconds[tf]
	return ok
}

// AllTimeFrames returns the supported time frames ordered by duration.
func AllTimeFrames() []TimeFrame {
	return []TimeFrame{
		TimeFrame1m, TimeFrame3m, TimeFrame5m, TimeFrame15m, TimeFrame30m,
		TimeFrame1h, TimeFrame2h, TimeFrame4h, TimeFrame6h, TimeFrame8h,
		TimeFrame12h, TimeFrame1d, TimeFrame3d, TimeFrame1w, TimeFrame1M,
	}
}
