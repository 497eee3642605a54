package hostcapture

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/transwacom/transwacomd/pkg/logging"
)

var (
	registryMu sync.Mutex
	registry   = make(map[*Capture]struct{})
	guardOnce  sync.Once
)

// register adds c to the set of live captures the signal guard will stop
// on abrupt termination.
func register(c *Capture) {
	registryMu.Lock()
	registry[c] = struct{}{}
	registryMu.Unlock()
}

// unregister removes c once its own Stop has completed normally.
func unregister(c *Capture) {
	registryMu.Lock()
	delete(registry, c)
	registryMu.Unlock()
}

// InstallSignalGuard installs the process-wide last-resort restoration
// hook: on SIGTERM/SIGINT, every live Capture's Stop
// is invoked so devices are restored even if the Supervisor's own drain
// logic never gets a chance to run. Safe to call more than once; only
// the first call installs the handler.
func InstallSignalGuard() {
	guardOnce.Do(func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		go func() {
			for range sigCh {
				logging.Warn("hostcapture: termination signal received, running restoration guard")
				stopAll()
			}
		}()
	})
}

// stopAll calls Stop on every currently registered Capture. Each Stop is
// independently idempotent, so concurrent callers (the Supervisor's own
// drain path and this guard) never double-restore a device.
func stopAll() {
	registryMu.Lock()
	captures := make([]*Capture, 0, len(registry))
	for c := range registry {
		captures = append(captures, c)
	}
	registryMu.Unlock()

	var wg sync.WaitGroup
	for _, c := range captures {
		wg.Add(1)
		go func(c *Capture) {
			defer wg.Done()
			if err := c.Stop(); err != nil {
				logging.Errorf("hostcapture: guard stop for %s failed: %v", c.path, err)
			}
		}(c)
	}
	wg.Wait()
}
