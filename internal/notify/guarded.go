package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bloodbridge/pkg/platform/circuit"
)

const defaultProbeInterval = 30 * time.Second

// GuardedNotifier wraps a Notifier with a circuit breaker so a dead mail
// relay does not make every ledger write wait out an SMTP timeout. While
// the breaker is open, sends are suppressed except for one probe per
// interval; the probe's outcome decides whether the breaker closes.
type GuardedNotifier struct {
	primary       Notifier
	breaker       *circuit.Breaker
	logger        *slog.Logger
	probeInterval time.Duration

	mu        sync.Mutex
	lastProbe time.Time
}

func NewGuardedNotifier(primary Notifier, logger *slog.Logger) *GuardedNotifier {
	return &GuardedNotifier{
		primary:       primary,
		breaker:       circuit.New("mail-relay", circuit.WithFailureThreshold(3)),
		logger:        logger,
		probeInterval: defaultProbeInterval,
	}
}

func (n *GuardedNotifier) Send(ctx context.Context, to, subject, body string) error {
	if n.breaker.IsOpen() && !n.takeProbe() {
		return fmt.Errorf("notification to %s suppressed: mail relay circuit open", to)
	}

	err := n.primary.Send(ctx, to, subject, body)
	if err != nil {
		if _, change := n.breaker.RecordFailure(); change.Opened {
			n.logger.WarnContext(ctx, "mail relay circuit opened", "error", err)
		}
		return err
	}
	if _, change := n.breaker.RecordSuccess(); change.Closed {
		n.logger.InfoContext(ctx, "mail relay circuit closed")
	}
	return nil
}

// takeProbe claims the single allowed attempt per probe interval.
func (n *GuardedNotifier) takeProbe() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if time.Since(n.lastProbe) < n.probeInterval {
		return false
	}
	n.lastProbe = time.Now()
	return true
}
