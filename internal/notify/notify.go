// Package notify delivers terminal run outcomes to chat platforms.
// Delivery is best-effort: a failed notification is logged and never
// affects run state.
package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/arasmith/signalbox/internal/models"
	"github.com/arasmith/signalbox/internal/station"
)

// Notifier receives terminal run transitions.
type Notifier interface {
	RunFinished(ctx context.Context, run *models.Run, repo *models.Repo) error
}

// FormatRun renders the one-line outcome message shared by all platforms.
func FormatRun(run *models.Run, repo *models.Repo) string {
	target := "unknown repo"
	if repo != nil {
		target = fmt.Sprintf("%s/%s#%d", repo.Owner, repo.Name, run.IssueNumber)
	}
	msg := fmt.Sprintf("Run %s for %s finished: %s", run.ID, target, run.Status)
	if run.Status == station.RunFailed && run.FailureReason != nil {
		msg += " — " + *run.FailureReason
	}
	return msg
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) RunFinished(context.Context, *models.Run, *models.Repo) error { return nil }

// Multi fans a notification out to several notifiers. Errors are logged
// per target and the first one is returned.
type Multi []Notifier

func (m Multi) RunFinished(ctx context.Context, run *models.Run, repo *models.Repo) error {
	var first error
	for _, n := range m {
		if err := n.RunFinished(ctx, run, repo); err != nil {
			log.Printf("notify.run_finished.failed run=%s err=%v", run.ID, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
