package controlplane

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/arasmith/signalbox/internal/models"
	"github.com/arasmith/signalbox/internal/queue"
	"github.com/arasmith/signalbox/internal/station"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// queuePublishFailed is the run failure marker left behind when the
// enqueue step fails after the run row was committed.
const queuePublishFailed = "queue_publish_failed"

type submitRequest struct {
	Repo struct {
		Owner string `json:"owner"`
		Name  string `json:"name"`
	} `json:"repo"`
	Issue struct {
		Number int `json:"number"`
	} `json:"issue"`
	Requestor string  `json:"requestor"`
	PRMode    string  `json:"prMode"`
	Goal      *string `json:"goal"`
}

// idempotencyJSON reports the claim state alongside the run.
type idempotencyJSON struct {
	Key      string `json:"key"`
	Status   string `json:"status"`
	Replayed bool   `json:"replayed"`
	Requeued bool   `json:"requeued,omitempty"`
}

// handleCreateRun implements the submission protocol: validate, resolve
// or create the idempotency claim, insert the run, publish the queue
// message, and report the combined state. The store and the queue are
// not transactional with each other, so every step re-verifies state via
// CAS before writing.
func (s *Server) handleCreateRun(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	owner := strings.ToLower(strings.TrimSpace(req.Repo.Owner))
	name := strings.ToLower(strings.TrimSpace(req.Repo.Name))
	if owner == "" || name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "repo.owner and repo.name are required"})
		return
	}
	if req.Issue.Number <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "issue.number must be positive"})
		return
	}
	req.Requestor = strings.TrimSpace(req.Requestor)
	if req.Requestor == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "requestor is required"})
		return
	}
	if req.PRMode == "" {
		req.PRMode = "draft"
	}
	if req.PRMode != "draft" && req.PRMode != "ready" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prMode must be draft or ready"})
		return
	}
	if req.Goal != nil && strings.TrimSpace(*req.Goal) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "goal must be non-empty when provided"})
		return
	}

	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Idempotency-Key header is required"})
		return
	}

	var repo models.Repo
	if err := s.db.Where("owner = ? AND name = ?", owner, name).First(&repo).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown repo"})
			return
		}
		log.Printf("run.submit.repo_lookup.failed repo=%s/%s err=%v", owner, name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !repo.Enabled {
		c.JSON(http.StatusBadRequest, gin.H{"error": "repo is disabled"})
		return
	}

	hash := requestHash(owner, name, req.Issue.Number, req.Goal, req.Requestor, req.PRMode)

	// A lost race on claim insertion restarts the flow once: the second
	// pass observes the winner's claim and replays.
	for attempt := 0; attempt < 2; attempt++ {
		var claim models.IdempotencyClaim
		err := s.db.Where("key = ?", key).First(&claim).Error
		switch {
		case err == nil:
			s.resolveExistingClaim(c, &claim, &repo, hash)
			return
		case !errors.Is(err, gorm.ErrRecordNotFound):
			log.Printf("run.submit.claim_lookup.failed key=%s err=%v", key, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		done, err := s.submitFresh(c, &req, &repo, key, hash)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if done {
			return
		}
		// Claim collision: loop back and treat as replay.
	}

	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// submitFresh inserts the run and its claim, then enqueues. It returns
// done=false when a concurrent submitter won the claim race and the
// caller should restart.
func (s *Server) submitFresh(c *gin.Context, req *submitRequest, repo *models.Repo, key, hash string) (bool, error) {
	runID, err := generateID("run")
	if err != nil {
		return false, err
	}

	now := time.Now()
	run := models.Run{
		ID:          runID,
		RepoID:      repo.ID,
		IssueNumber: req.Issue.Number,
		Goal:        req.Goal,
		Status:      station.RunQueued,
		Requestor:   req.Requestor,
		BaseBranch:  repo.DefaultBranch,
		PRMode:      req.PRMode,
		CreatedAt:   now,
	}
	if err := s.db.Create(&run).Error; err != nil {
		log.Printf("run.submit.insert.failed key=%s err=%v", key, err)
		return false, err
	}

	claim := models.IdempotencyClaim{
		Key:         key,
		RequestHash: hash,
		RunID:       run.ID,
		Status:      models.ClaimPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.Create(&claim).Error; err != nil {
		if isUniqueViolation(err) {
			// A concurrent submitter claimed the key first. Remove our
			// orphan run and let the caller replay against theirs.
			if delErr := s.db.Delete(&models.Run{}, "id = ?", run.ID).Error; delErr != nil {
				log.Printf("run.submit.orphan_cleanup.failed run=%s err=%v", run.ID, delErr)
				return false, delErr
			}
			return false, nil
		}
		log.Printf("run.submit.claim_insert.failed key=%s err=%v", key, err)
		// Best-effort rollback of the run row; if this fails too, the
		// run is reported for out-of-band cleanup.
		if delErr := s.db.Delete(&models.Run{}, "id = ?", run.ID).Error; delErr != nil {
			log.Printf("run.submit.orphan run=%s err=%v", run.ID, delErr)
		}
		return false, err
	}

	if err := s.enqueue(&run); err != nil {
		s.markEnqueueFailed(c, &run, &claim, key)
		return true, nil
	}

	s.promoteClaim(key)
	claim.Status = models.ClaimSucceeded

	c.JSON(http.StatusAccepted, gin.H{
		"run": serializeRun(&run, repo),
		"idempotency": idempotencyJSON{
			Key:      key,
			Status:   claim.Status,
			Replayed: false,
		},
	})
	return true, nil
}

// resolveExistingClaim handles a submission whose key already has a
// claim: hash conflicts reject, succeeded claims replay, failed (or
// marked-failed pending) claims race to requeue, and ambiguous pending
// claims replay without re-enqueueing — a duplicate external job is
// worse than a duplicate client wait.
func (s *Server) resolveExistingClaim(c *gin.Context, claim *models.IdempotencyClaim, repo *models.Repo, hash string) {
	if claim.RequestHash != hash {
		c.JSON(http.StatusConflict, gin.H{"error": "idempotency key reused with a different payload"})
		return
	}

	var run models.Run
	if err := s.db.Where("id = ?", claim.RunID).First(&run).Error; err != nil {
		log.Printf("run.submit.claim_run_missing key=%s run=%s err=%v", claim.Key, claim.RunID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	enqueueKnownFailed := claim.Status == models.ClaimFailed ||
		(claim.Status == models.ClaimPending &&
			run.FailureReason != nil && *run.FailureReason == queuePublishFailed)

	switch {
	case claim.Status == models.ClaimSucceeded:
		c.JSON(http.StatusOK, gin.H{
			"run": serializeRun(&run, repo),
			"idempotency": idempotencyJSON{
				Key:      claim.Key,
				Status:   claim.Status,
				Replayed: true,
			},
		})

	case enqueueKnownFailed:
		s.requeue(c, claim, &run, repo)

	default:
		// Pending with no failure marker: the prior enqueue outcome is
		// ambiguous, so do not publish again.
		c.JSON(http.StatusAccepted, gin.H{
			"run": serializeRun(&run, repo),
			"idempotency": idempotencyJSON{
				Key:      claim.Key,
				Status:   claim.Status,
				Replayed: true,
			},
		})
	}
}

// requeue races concurrent retries for the right to publish again.
// Exactly one caller wins the claim CAS; losers replay current state.
func (s *Server) requeue(c *gin.Context, claim *models.IdempotencyClaim, run *models.Run, repo *models.Repo) {
	won, err := s.requeueClaimCAS(claim)
	if err != nil {
		log.Printf("run.idempotency.requeue_claim.failed key=%s err=%v", claim.Key, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !won {
		c.JSON(http.StatusAccepted, gin.H{
			"run": serializeRun(run, repo),
			"idempotency": idempotencyJSON{
				Key:      claim.Key,
				Status:   claim.Status,
				Replayed: true,
			},
		})
		return
	}

	if err := s.enqueue(run); err != nil {
		claim.Status = models.ClaimPending
		s.markEnqueueFailed(c, run, claim, claim.Key)
		return
	}

	s.promoteClaim(claim.Key)
	s.clearFailureMarker(run.ID)
	run.FailureReason = nil

	c.JSON(http.StatusAccepted, gin.H{
		"run": serializeRun(run, repo),
		"idempotency": idempotencyJSON{
			Key:      claim.Key,
			Status:   models.ClaimSucceeded,
			Replayed: true,
			Requeued: true,
		},
	})
}

// requeueClaimCAS flips the claim back to pending. From failed the status
// itself is the token; from pending the updated_at timestamp is.
func (s *Server) requeueClaimCAS(claim *models.IdempotencyClaim) (bool, error) {
	now := time.Now()

	var res *gorm.DB
	if claim.Status == models.ClaimFailed {
		res = s.db.Model(&models.IdempotencyClaim{}).
			Where("key = ? AND status = ?", claim.Key, models.ClaimFailed).
			Updates(map[string]interface{}{"status": models.ClaimPending, "updated_at": now})
	} else {
		res = s.db.Model(&models.IdempotencyClaim{}).
			Where("key = ? AND status = ? AND updated_at = ?", claim.Key, models.ClaimPending, claim.UpdatedAt).
			Update("updated_at", now)
	}
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		claim.UpdatedAt = now
		return true, nil
	}
	return false, nil
}

// enqueue publishes the run message.
func (s *Server) enqueue(run *models.Run) error {
	msg := queue.RunMessage{
		RunID:       run.ID,
		RepoID:      run.RepoID,
		IssueNumber: run.IssueNumber,
		RequestedAt: run.CreatedAt.UTC().Format(time.RFC3339),
		PRMode:      run.PRMode,
		Requestor:   run.Requestor,
	}
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	return s.queue.Publish(s.cfg.Queue.Topic, body)
}

// markEnqueueFailed records the publish failure on the run and the claim,
// then reports 503. Every write here is best-effort: even if one fails,
// the client still learns the enqueue failed and may retry.
func (s *Server) markEnqueueFailed(c *gin.Context, run *models.Run, claim *models.IdempotencyClaim, key string) {
	reason := queuePublishFailed
	if err := s.db.Model(&models.Run{}).Where("id = ?", run.ID).
		Update("failure_reason", reason).Error; err != nil {
		log.Printf("run.queue_failure_marker.failed.run run=%s err=%v", run.ID, err)
	} else {
		run.FailureReason = &reason
	}

	res := s.db.Model(&models.IdempotencyClaim{}).
		Where("key = ? AND status = ?", key, models.ClaimPending).
		Updates(map[string]interface{}{"status": models.ClaimFailed, "updated_at": time.Now()})
	if res.Error != nil {
		log.Printf("run.queue_failure_marker.failed.claim key=%s err=%v", key, res.Error)
	} else if res.RowsAffected == 1 {
		claim.Status = models.ClaimFailed
	}

	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error": "enqueue failed",
		"run":   serializeRun(run, nil),
		"idempotency": idempotencyJSON{
			Key:      key,
			Status:   claim.Status,
			Replayed: false,
		},
	})
}

// promoteClaim CAS-promotes pending → succeeded. A missed CAS means a
// concurrent writer got there; succeeded is never downgraded.
func (s *Server) promoteClaim(key string) {
	res := s.db.Model(&models.IdempotencyClaim{}).
		Where("key = ? AND status = ?", key, models.ClaimPending).
		Updates(map[string]interface{}{"status": models.ClaimSucceeded, "updated_at": time.Now()})
	if res.Error != nil {
		log.Printf("run.idempotency.promote.failed key=%s err=%v", key, res.Error)
	}
}

// clearFailureMarker removes the publish-failure marker after a
// successful requeue.
func (s *Server) clearFailureMarker(runID string) {
	if err := s.db.Model(&models.Run{}).
		Where("id = ? AND failure_reason = ?", runID, queuePublishFailed).
		Update("failure_reason", nil).Error; err != nil {
		log.Printf("run.queue_failure_marker.clear.failed run=%s err=%v", runID, err)
	}
}
