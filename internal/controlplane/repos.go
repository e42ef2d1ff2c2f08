package controlplane

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/arasmith/signalbox/internal/models"
	"github.com/gin-gonic/gin"
)

type registerRepoRequest struct {
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	DefaultBranch string `json:"defaultBranch"`
	ConfigPath    string `json:"configPath"`
	Enabled       *bool  `json:"enabled"`
}

// handleRegisterRepo validates, normalizes, and inserts a repo row.
func (s *Server) handleRegisterRepo(c *gin.Context) {
	var req registerRepoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	owner := strings.ToLower(strings.TrimSpace(req.Owner))
	name := strings.ToLower(strings.TrimSpace(req.Name))
	if owner == "" || name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner and name are required"})
		return
	}
	if !s.cfg.Allowed(owner, name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "repo not allowlisted"})
		return
	}

	id, err := generateID("repo")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	now := time.Now()
	repo := models.Repo{
		ID:            id,
		Owner:         owner,
		Name:          name,
		DefaultBranch: req.DefaultBranch,
		ConfigPath:    req.ConfigPath,
		Enabled:       true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if repo.DefaultBranch == "" {
		repo.DefaultBranch = "main"
	}
	if repo.ConfigPath == "" {
		repo.ConfigPath = "signalbox.yaml"
	}
	if req.Enabled != nil {
		repo.Enabled = *req.Enabled
	}

	if err := s.db.Create(&repo).Error; err != nil {
		if isUniqueViolation(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "repo already registered"})
			return
		}
		log.Printf("repo.register.failed repo=%s/%s err=%v", owner, name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"repo": serializeRepo(&repo)})
}

// handleListRepos returns all repos ordered by owner then name.
func (s *Server) handleListRepos(c *gin.Context) {
	var repos []models.Repo
	if err := s.db.Order("owner ASC, name ASC").Find(&repos).Error; err != nil {
		log.Printf("repo.list.failed err=%v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	out := make([]repoJSON, len(repos))
	for i := range repos {
		out[i] = serializeRepo(&repos[i])
	}
	c.JSON(http.StatusOK, gin.H{"repos": out})
}
