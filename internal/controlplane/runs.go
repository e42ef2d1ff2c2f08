package controlplane

import (
	"errors"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/arasmith/signalbox/internal/models"
	"github.com/arasmith/signalbox/internal/station"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const maxListLimit = 100

// handleListRuns returns runs newest first, optionally filtered by
// status and repo.
func (s *Server) handleListRuns(c *gin.Context) {
	q := s.db.Model(&models.Run{})

	if status := c.Query("status"); status != "" {
		if _, err := station.ParseRunStatus(status); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
			return
		}
		q = q.Where("status = ?", status)
	}

	if repoFilter := c.Query("repo"); repoFilter != "" {
		owner, name, ok := strings.Cut(repoFilter, "/")
		if !ok || owner == "" || name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "repo filter must be owner/name"})
			return
		}
		var repo models.Repo
		err := s.db.Where("owner = ? AND name = ?", strings.ToLower(owner), strings.ToLower(name)).
			First(&repo).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusOK, gin.H{"runs": []runJSON{}})
			return
		}
		if err != nil {
			log.Printf("run.list.repo_lookup.failed repo=%s err=%v", repoFilter, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		q = q.Where("repo_id = ?", repo.ID)
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
			return
		}
		limit = n
	}

	var runs []models.Run
	if err := q.Order("created_at DESC").Limit(limit).Preload("Repo").Find(&runs).Error; err != nil {
		log.Printf("run.list.failed err=%v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	out := make([]runJSON, len(runs))
	for i := range runs {
		out[i] = serializeRun(&runs[i], &runs[i].Repo)
	}
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

// handleGetRun projects a run with its stations (pipeline order, then
// start time) and artifacts (newest first).
func (s *Server) handleGetRun(c *gin.Context) {
	id := c.Param("id")

	var run models.Run
	if err := s.db.Where("id = ?", id).Preload("Repo").First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		log.Printf("run.get.failed run=%s err=%v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	var execs []models.StationExecution
	if err := s.db.Where("run_id = ?", run.ID).Find(&execs).Error; err != nil {
		log.Printf("run.get.stations.failed run=%s err=%v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	sort.SliceStable(execs, func(i, j int) bool {
		oi, oj := station.Index(execs[i].Station), station.Index(execs[j].Station)
		if oi != oj {
			return oi < oj
		}
		switch {
		case execs[i].StartedAt == nil:
			return false
		case execs[j].StartedAt == nil:
			return true
		default:
			return execs[i].StartedAt.Before(*execs[j].StartedAt)
		}
	})

	var artifacts []models.Artifact
	if err := s.db.Where("run_id = ?", run.ID).Order("created_at DESC").Find(&artifacts).Error; err != nil {
		log.Printf("run.get.artifacts.failed run=%s err=%v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	stationsOut := make([]stationJSON, len(execs))
	for i := range execs {
		stationsOut[i] = serializeStation(&execs[i])
	}
	artifactsOut := make([]artifactJSON, len(artifacts))
	for i := range artifacts {
		artifactsOut[i] = serializeArtifact(&artifacts[i])
	}

	c.JSON(http.StatusOK, gin.H{
		"run":       serializeRun(&run, &run.Repo),
		"stations":  stationsOut,
		"artifacts": artifactsOut,
	})
}
