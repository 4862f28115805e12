package ports

import (
	"time"
)

type SchedulerService interface {
	Start()
	Stop()
	// ScheduleAtHeight runs task once the chain tip reaches target.
	ScheduleAtHeight(target uint32, task func()) error
	// ScheduleEvery runs task every interval until Stop.
	ScheduleEvery(interval time.Duration, task func()) error
}
