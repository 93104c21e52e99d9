package worker

import (
	"sync"
	"time"
)

// Scheduler 周期性执行任务，返回的 stop 可重复调用。
type Scheduler interface {
	Every(interval time.Duration, fn func()) (stop func())
}

// TickerScheduler 基于 time.Ticker，计时只存在于进程内，重启即重置。
type TickerScheduler struct{}

// Every implements Scheduler.
func (TickerScheduler) Every(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}
