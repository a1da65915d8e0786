package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const defaultQuestCloseTimeout = 2 * time.Second

// questRunner is one managed external sub-session (stt, llm, tts). Init
// establishes the connection and signals readiness; Run is the long-lived
// body and must observe cancellation at its next suspension point; Close is
// invoked exactly once after Run returns and must be idempotent.
type questRunner interface {
	Init(ctx context.Context) error
	Run(ctx context.Context) error
	Close(ctx context.Context) error
}

type questFailure struct {
	Name string
	Err  error
}

type quest struct {
	name   string
	cancel context.CancelFunc
	// done closes once the quest's close phase finished or was abandoned
	// after its timeout.
	done chan struct{}
}

// questManager owns the lifecycle of named sub-sessions. At most one live
// quest exists per name: adding a quest under an occupied name first removes
// the prior one, and the replacement's Init never starts before the old
// quest's Close completed (or was abandoned).
type questManager struct {
	mu     sync.Mutex
	quests map[string]*quest

	failures     chan questFailure
	closeTimeout time.Duration
	wg           sync.WaitGroup
}

func newQuestManager(closeTimeout time.Duration) *questManager {
	if closeTimeout <= 0 {
		closeTimeout = defaultQuestCloseTimeout
	}
	return &questManager{
		quests:       make(map[string]*quest),
		failures:     make(chan questFailure, 8),
		closeTimeout: closeTimeout,
	}
}

// Add registers and starts a quest under name. It blocks until the runner's
// Init completed; when Init fails nothing is registered and the error is
// returned to the caller.
func (m *questManager) Add(ctx context.Context, name string, runner questRunner) error {
	m.Remove(name)

	questCtx, cancel := context.WithCancel(ctx)
	if err := runner.Init(questCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to init quest %q: %w", name, err)
	}

	q := &quest{
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.quests[name] = q
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		runErr := m.runQuest(questCtx, runner)
		m.closeQuest(name, runner)
		close(q.done)

		m.mu.Lock()
		if m.quests[name] == q {
			delete(m.quests, name)
		}
		m.mu.Unlock()

		// Errors provoked by our own cancellation are part of a normal
		// removal, not sub-service failures.
		if runErr != nil && !errors.Is(runErr, context.Canceled) && questCtx.Err() == nil {
			m.reportFailure(name, runErr)
		}
	}()

	return nil
}

func (m *questManager) runQuest(ctx context.Context, runner questRunner) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("quest run panicked: %v", recovered)
		}
	}()

	return runner.Run(ctx)
}

// closeQuest runs the close phase with its own deadline so an unresponsive
// collaborator cannot wedge the session. Close failures are logged, never
// propagated.
func (m *questManager) closeQuest(name string, runner questRunner) {
	closeCtx, cancel := context.WithTimeout(context.Background(), m.closeTimeout)
	defer cancel()

	closed := make(chan error, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				closed <- fmt.Errorf("quest close panicked: %v", recovered)
			}
		}()
		closed <- runner.Close(closeCtx)
	}()

	select {
	case err := <-closed:
		if err != nil {
			logger.Warn("quest close failed", "quest", name, "error", err)
		}
	case <-closeCtx.Done():
		logger.Warn("quest close timed out, abandoning", "quest", name)
	}
}

// Remove cancels the named quest and waits for its close phase. A no-op when
// no quest holds the name.
func (m *questManager) Remove(name string) {
	m.mu.Lock()
	q := m.quests[name]
	delete(m.quests, name)
	m.mu.Unlock()

	if q == nil {
		return
	}

	q.cancel()
	<-q.done
}

// Has reports whether a quest is currently registered under name.
func (m *questManager) Has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.quests[name]
	return ok
}

// Failures surfaces abnormal run-phase terminations. Quests cancelled
// through Remove or Shutdown never appear here.
func (m *questManager) Failures() <-chan questFailure {
	return m.failures
}

func (m *questManager) reportFailure(name string, err error) {
	select {
	case m.failures <- questFailure{Name: name, Err: err}:
	default:
		logger.Warn("quest failure dropped, nobody listening", "quest", name, "error", err)
	}
}

// Shutdown removes every quest and waits for all of them to finish closing.
func (m *questManager) Shutdown() {
	m.mu.Lock()
	names := make([]string, 0, len(m.quests))
	for name := range m.quests {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		m.Remove(name)
	}
	m.wg.Wait()
}
