package hostcapture

import (
	"sync"

	"github.com/transwacom/transwacomd/pkg/logging"
)

// RestorationAction is one compensating operation pushed for a mutation
// that has been applied, so the mutation can always be undone.
type RestorationAction struct {
	Name string
	Run  func() error
}

// RestorationStack is the "with-block" restoration pattern made explicit
// and inspectable: every mutation pushes its inverse as soon as it has
// succeeded; teardown pops in LIFO order exactly once.
type RestorationStack struct {
	mu      sync.Mutex
	actions []RestorationAction
	ran     bool
}

// Push records a compensating action. Callers push it right after the
// corresponding mutation succeeds, so a failed mutation is never "undone".
func (s *RestorationStack) Push(name string, run func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, RestorationAction{Name: name, Run: run})
}

// Len reports how many actions are currently pending.
func (s *RestorationStack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions)
}

// RunAll executes every pending action in LIFO order exactly once. A
// second call is a no-op: the stack is drained on the first run. A
// failing action is logged but does not stop the remaining actions from
// running.
func (s *RestorationStack) RunAll() []error {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return nil
	}
	actions := s.actions
	s.actions = nil
	s.ran = true
	s.mu.Unlock()

	var errs []error
	for i := len(actions) - 1; i >= 0; i-- {
		a := actions[i]
		if err := a.Run(); err != nil {
			logging.Errorf("hostcapture: restoration action %q failed: %v", a.Name, err)
			errs = append(errs, err)
			continue
		}
		logging.Debugf("hostcapture: restoration action %q completed", a.Name)
	}
	return errs
}
