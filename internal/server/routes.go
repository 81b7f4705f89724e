package server

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zulandar/gitdeploy/internal/backup"
	"github.com/zulandar/gitdeploy/internal/deploy"
	"github.com/zulandar/gitdeploy/internal/failure"
	"github.com/zulandar/gitdeploy/internal/models"
	"github.com/zulandar/gitdeploy/internal/source"
	"github.com/zulandar/gitdeploy/internal/tracked"
	"github.com/zulandar/gitdeploy/internal/updater"
	"github.com/zulandar/gitdeploy/internal/webhook"
)

// registerRoutes sets up all routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	router.POST("/webhook", handleWebhook(opts.Webhook))

	api := router.Group("/api", requireToken(opts.AdminToken))
	api.GET("/repositories", handleListRepositories(opts.Repos))
	api.POST("/repositories", handleCreateRepository(opts.Repos))
	api.DELETE("/repositories/:id", handleDeleteRepository(opts.Repos))
	api.PUT("/repositories/:id/auto-update", handleSetAutoUpdate(opts.Repos))
	api.POST("/repositories/:id/deploy", handleDeployByID(opts.Deployer))
	api.GET("/repositories/:id/backups", handleListBackups(opts.Repos, opts.Deployer))
	api.POST("/repositories/:id/rollback", handleRollback(opts.Repos, opts.Deployer))
	api.POST("/deploy", handleDeploy(opts.Deployer))
	api.POST("/check", handleCheck(opts.Checker))
}

// requireToken checks "Authorization: Bearer <token>" when token is set.
func requireToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errorBody{
				Kind:    failure.AuthRequired,
				Message: "admin token required",
			}})
			return
		}
	}
}

func handleWebhook(h *webhook.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			badRequest(c, "read body: "+err.Error())
			return
		}
		res := h.Handle(c.Request.Context(), body,
			c.GetHeader(webhook.SignatureHeader), c.GetHeader(webhook.EventHeader))
		resp := gin.H{"outcome": res.Outcome, "reason": res.Reason}
		if res.Repo != "" {
			resp["repository"] = res.Repo
		}
		if res.Deployment != nil {
			resp["deployment"] = outcomeView(res.Deployment)
		}
		if res.Err != nil {
			fe := failure.As(res.Err)
			resp["error"] = errorBody{Kind: fe.Kind, Message: fe.Error(), Op: fe.Op, Checked: fe.Checked}
		}
		c.JSON(res.Status, resp)
	}
}

// repositoryJSON is the API view of a tracked repository.
type repositoryJSON struct {
	ID                    uint        `json:"id"`
	Owner                 string      `json:"owner"`
	Name                  string      `json:"name"`
	Ref                   string      `json:"ref"`
	Kind                  models.Kind `json:"kind"`
	TargetDir             string      `json:"target_dir"`
	AutoUpdate            bool        `json:"auto_update"`
	LastCheckedAt         *time.Time  `json:"last_checked_at"`
	LastDeployedAt        *time.Time  `json:"last_deployed_at"`
	LastDeployedCommitSHA *string     `json:"last_deployed_commit_sha"`
}

func repositoryView(r *models.TrackedRepository) repositoryJSON {
	return repositoryJSON{
		ID:                    r.ID,
		Owner:                 r.Owner,
		Name:                  r.Name,
		Ref:                   r.Ref,
		Kind:                  r.Kind,
		TargetDir:             r.TargetDir,
		AutoUpdate:            r.AutoUpdate,
		LastCheckedAt:         r.LastCheckedAt,
		LastDeployedAt:        r.LastDeployedAt,
		LastDeployedCommitSHA: r.LastDeployedCommitSHA,
	}
}

type outcomeJSON struct {
	RepositoryID uint        `json:"repository_id,omitempty"`
	Repository   string      `json:"repository"`
	Ref          string      `json:"ref"`
	Kind         models.Kind `json:"kind"`
	TargetPath   string      `json:"target_path"`
	CommitSHA    string      `json:"commit_sha"`
	Updated      bool        `json:"updated"`
	BackupID     string      `json:"backup_id,omitempty"`
}

func outcomeView(o *deploy.Outcome) outcomeJSON {
	v := outcomeJSON{Repository: o.Owner + "/" + o.Name, Ref: o.Ref, Kind: o.Kind, TargetPath: o.TargetPath, CommitSHA: o.CommitSHA, Updated: o.Updated}
	if o.Repository != nil {
		v.RepositoryID = o.Repository.ID
	}
	if o.Backup != nil {
		v.BackupID = o.Backup.ID
	}
	return v
}

type backupJSON struct {
	ID        string      `json:"id"`
	Ref       string      `json:"ref"`
	Kind      models.Kind `json:"kind"`
	Directory string      `json:"directory"`
	CreatedAt time.Time   `json:"created_at"`
	SizeBytes int64       `json:"size_bytes"`
}

func backupView(d backup.Descriptor) backupJSON {
	return backupJSON{ID: d.ID, Ref: d.Ref, Kind: d.Kind, Directory: d.Directory, CreatedAt: d.CreatedAt, SizeBytes: d.SizeBytes}
}

// repositoryFromParam loads the record named by :id.
func repositoryFromParam(c *gin.Context, repos *tracked.Store) (*models.TrackedRepository, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid repository id "+strconv.Quote(c.Param("id")))
		return nil, false
	}
	rec, err := repos.Get(uint(id))
	if err != nil {
		abortWithError(c, err)
		return nil, false
	}
	return rec, true
}

func handleListRepositories(repos *tracked.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := repos.List()
		if err != nil {
			abortWithError(c, err)
			return
		}
		out := make([]repositoryJSON, 0, len(list))
		for i := range list {
			out = append(out, repositoryView(&list[i]))
		}
		c.JSON(http.StatusOK, gin.H{"repositories": out})
	}
}

type repositoryRequest struct {
	URL        string      `json:"url"`
	Owner      string      `json:"owner"`
	Name       string      `json:"name"`
	Ref        string      `json:"ref"`
	Kind       models.Kind `json:"kind"`
	TargetDir  string      `json:"target_dir"`
	AutoUpdate bool        `json:"auto_update"`
	Update     bool        `json:"update"`
}

// identity resolves owner and name from URL when they are not given.
func (r *repositoryRequest) identity() error {
	if r.Owner != "" && r.Name != "" {
		return nil
	}
	if r.URL == "" {
		return failure.New(failure.InvalidArgument, "url or owner and name are required")
	}
	owner, name, err := source.ParseRepositoryURL(r.URL)
	if err != nil {
		return err
	}
	r.Owner, r.Name = owner, name
	return nil
}

func handleCreateRepository(repos *tracked.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req repositoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid JSON: "+err.Error())
			return
		}
		if err := req.identity(); err != nil {
			abortWithError(c, err)
			return
		}
		rec, err := repos.Create(tracked.CreateOpts{
			Owner:      req.Owner,
			Name:       req.Name,
			Ref:        req.Ref,
			Kind:       req.Kind,
			TargetDir:  req.TargetDir,
			AutoUpdate: req.AutoUpdate,
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, repositoryView(rec))
	}
}

func handleDeleteRepository(repos *tracked.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, ok := repositoryFromParam(c, repos)
		if !ok {
			return
		}
		if err := repos.Delete(rec.ID); err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func handleSetAutoUpdate(repos *tracked.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, ok := repositoryFromParam(c, repos)
		if !ok {
			return
		}
		var body struct {
			Enabled *bool `json:"enabled"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.Enabled == nil {
			badRequest(c, `body must be {"enabled": true|false}`)
			return
		}
		if err := repos.SetAutoUpdate(rec.ID, *body.Enabled); err != nil {
			abortWithError(c, err)
			return
		}
		rec.AutoUpdate = *body.Enabled
		c.JSON(http.StatusOK, repositoryView(rec))
	}
}

func handleDeployByID(d Deployer) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil || id == 0 {
			badRequest(c, "invalid repository id "+strconv.Quote(c.Param("id")))
			return
		}
		out, err := d.DeployByID(c.Request.Context(), uint(id), Trigger)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, outcomeView(out))
	}
}

func handleDeploy(d Deployer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req repositoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid JSON: "+err.Error())
			return
		}
		if err := req.identity(); err != nil {
			abortWithError(c, err)
			return
		}
		out, err := d.Deploy(c.Request.Context(), deploy.Request{
			Owner:            req.Owner,
			Name:             req.Name,
			Ref:              req.Ref,
			Kind:             req.Kind,
			TargetDir:        req.TargetDir,
			UpdateExisting:   req.Update,
			EnableAutoUpdate: req.AutoUpdate,
			Trigger:          Trigger,
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, outcomeView(out))
	}
}

func handleListBackups(repos *tracked.Store, d Deployer) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, ok := repositoryFromParam(c, repos)
		if !ok {
			return
		}
		list, err := d.Backups(rec.Owner, rec.Name)
		if err != nil {
			abortWithError(c, err)
			return
		}
		out := make([]backupJSON, 0, len(list))
		for _, b := range list {
			out = append(out, backupView(b))
		}
		c.JSON(http.StatusOK, gin.H{"backups": out})
	}
}

func handleRollback(repos *tracked.Store, d Deployer) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, ok := repositoryFromParam(c, repos)
		if !ok {
			return
		}
		var body struct {
			BackupID string `json:"backup_id"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.BackupID == "" {
			badRequest(c, `body must be {"backup_id": "..."}`)
			return
		}
		meta, err := d.Rollback(c.Request.Context(), rec.Owner, rec.Name, body.BackupID)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"backup_id": body.BackupID,
			"ref":       meta.Ref,
			"kind":      meta.Kind,
			"directory": meta.Directory,
		})
	}
}

type resultJSON struct {
	RepositoryID uint           `json:"repository_id"`
	Repository   string         `json:"repository"`
	Action       updater.Action `json:"action"`
	PreviousSHA  string         `json:"previous_sha,omitempty"`
	LatestSHA    string         `json:"latest_sha,omitempty"`
	Error        string         `json:"error,omitempty"`
}

func handleCheck(checker Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker == nil {
			abortWithError(c, failure.New(failure.Internal, "update checks are not configured"))
			return
		}
		report, err := checker.CheckForUpdates(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		results := make([]resultJSON, 0, len(report.Results))
		for _, r := range report.Results {
			v := resultJSON{RepositoryID: r.RepoID, Repository: r.Repo, Action: r.Action, PreviousSHA: r.PreviousSHA, LatestSHA: r.LatestSHA}
			if r.Err != nil {
				v.Error = r.Err.Error()
			}
			results = append(results, v)
		}
		c.JSON(http.StatusOK, gin.H{
			"checked":  report.Checked,
			"deployed": report.Deployed,
			"skipped":  report.Skipped,
			"failed":   report.Failed,
			"duration": report.Duration.String(),
			"results":  results,
		})
	}
}
