package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/zulandar/gitdeploy/internal/backup"
	"github.com/zulandar/gitdeploy/internal/deploy"
	"github.com/zulandar/gitdeploy/internal/failure"
	"github.com/zulandar/gitdeploy/internal/metrics"
	"github.com/zulandar/gitdeploy/internal/models"
	"github.com/zulandar/gitdeploy/internal/tracked"
	"github.com/zulandar/gitdeploy/internal/updater"
	"github.com/zulandar/gitdeploy/internal/webhook"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	adminToken    = "let-me-in"
	webhookSecret = "hook-secret"
)

type fakeDeployer struct {
	lastReq   deploy.Request
	byID      []uint
	rollbacks []string
	err       error
	backups   []backup.Descriptor
}

func (f *fakeDeployer) Deploy(_ context.Context, req deploy.Request) (*deploy.Outcome, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &deploy.Outcome{Owner: req.Owner, Name: req.Name, Ref: req.Ref, Kind: models.KindPlugin, TargetPath: "/srv/plugins/" + req.Name, CommitSHA: "abc123"}, nil
}

func (f *fakeDeployer) DeployByID(_ context.Context, id uint, trigger string) (*deploy.Outcome, error) {
	f.byID = append(f.byID, id)
	if f.err != nil {
		return nil, f.err
	}
	return &deploy.Outcome{Ref: "main", Updated: true, Backup: &backup.Descriptor{ID: "backup-1"}}, nil
}

func (f *fakeDeployer) Rollback(_ context.Context, owner, name, id string) (*backup.Metadata, error) {
	f.rollbacks = append(f.rollbacks, owner+"/"+name+"#"+id)
	if f.err != nil {
		return nil, f.err
	}
	return &backup.Metadata{Owner: owner, Repo: name, Ref: "v1.0.0", Kind: models.KindPlugin, Directory: "/srv/plugins/" + name}, nil
}

func (f *fakeDeployer) Backups(owner, name string) ([]backup.Descriptor, error) {
	return f.backups, nil
}

type fakeChecker struct{}

func (fakeChecker) CheckForUpdates(context.Context) (*updater.SweepReport, error) {
	return &updater.SweepReport{
		Checked:  2,
		Deployed: 1,
		Failed:   1,
		Duration: time.Second,
		Results: []updater.Result{
			{RepoID: 1, Repo: "acme/widget", Action: updater.ActionDeployed, PreviousSHA: "a", LatestSHA: "b"},
			{RepoID: 2, Repo: "acme/gadget", Action: updater.ActionFailed, Err: failure.New(failure.Transport, "timeout")},
		},
	}, nil
}

type testServer struct {
	router http.Handler
	repos  *tracked.Store
	dep    *fakeDeployer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.TrackedRepository{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repos := tracked.NewStore(db)
	dep := &fakeDeployer{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.ObserveDeployment("plugin", nil)

	router, err := NewRouter(StartOpts{
		AdminToken: adminToken,
		Repos:      repos,
		Deployer:   dep,
		Checker:    fakeChecker{},
		Webhook:    webhook.New(webhook.Options{Secret: webhookSecret, Repos: repos, Deployer: dep, Metrics: m}),
		Gatherer:   reg,
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return &testServer{router: router, repos: repos, dep: dep}
}

func (s *testServer) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if strings.HasPrefix(path, "/api/") {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func errorKind(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	e, ok := decode(t, w)["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("no error object in %s", w.Body.String())
	}
	kind, _ := e["kind"].(string)
	return kind
}

func TestNewRouter_RequiresDependencies(t *testing.T) {
	if _, err := NewRouter(StartOpts{}); err == nil || !strings.Contains(err.Error(), "required") {
		t.Errorf("err = %v, want a required-dependency error", err)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	if w := s.do("GET", "/healthz", "", nil); w.Code != http.StatusOK {
		t.Errorf("healthz = %d", w.Code)
	}
	w := s.do("GET", "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "gitdeploy_deployments_total") {
		t.Error("metrics output lacks gitdeploy_deployments_total")
	}
}

func TestAPI_RequiresToken(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/repositories", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}

	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}

	if w := s.do("GET", "/api/repositories", "", nil); w.Code != http.StatusOK {
		t.Errorf("valid token = %d, want 200", w.Code)
	}
}

func TestRepositories_CRUD(t *testing.T) {
	s := newTestServer(t)

	w := s.do("POST", "/api/repositories", `{"url":"https://github.com/acme/widget.git","ref":"develop","auto_update":true}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", w.Code, w.Body.String())
	}
	created := decode(t, w)
	if created["owner"] != "acme" || created["name"] != "widget" || created["ref"] != "develop" || created["auto_update"] != true {
		t.Errorf("created = %v", created)
	}
	id := int(created["id"].(float64))

	w = s.do("POST", "/api/repositories", `{"owner":"acme","name":"widget"}`, nil)
	if w.Code != http.StatusConflict || errorKind(t, w) != string(failure.AlreadyExists) {
		t.Errorf("duplicate = %d %s", w.Code, w.Body.String())
	}

	w = s.do("POST", "/api/repositories", `{"url":"https://gitlab.com/acme/widget"}`, nil)
	if w.Code != http.StatusBadRequest || errorKind(t, w) != string(failure.InvalidReference) {
		t.Errorf("bad url = %d %s", w.Code, w.Body.String())
	}

	path := "/api/repositories/" + strconv.Itoa(id)
	w = s.do("PUT", path+"/auto-update", `{"enabled":false}`, nil)
	if w.Code != http.StatusOK || decode(t, w)["auto_update"] != false {
		t.Errorf("auto-update = %d %s", w.Code, w.Body.String())
	}
	rec, _ := s.repos.GetByName("acme", "widget")
	if rec.AutoUpdate {
		t.Error("auto-update not persisted")
	}
	if w := s.do("PUT", path+"/auto-update", `{}`, nil); w.Code != http.StatusBadRequest {
		t.Errorf("auto-update without body = %d, want 400", w.Code)
	}

	w = s.do("GET", "/api/repositories", "", nil)
	list := decode(t, w)["repositories"].([]interface{})
	if len(list) != 1 {
		t.Errorf("len(list) = %d, want 1", len(list))
	}

	if w := s.do("DELETE", path, "", nil); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d", w.Code)
	}
	if w := s.do("DELETE", path, "", nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
	if w := s.do("DELETE", "/api/repositories/abc", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad id = %d, want 400", w.Code)
	}
}

func TestDeploy_PassesRequest(t *testing.T) {
	s := newTestServer(t)
	w := s.do("POST", "/api/deploy", `{"owner":"acme","name":"widget","ref":"v2.0.0","kind":"plugin","update":true,"auto_update":true}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("deploy = %d: %s", w.Code, w.Body.String())
	}
	got := s.dep.lastReq
	if got.Owner != "acme" || got.Ref != "v2.0.0" || !got.UpdateExisting || !got.EnableAutoUpdate || got.Trigger != Trigger {
		t.Errorf("request = %+v", got)
	}
	body := decode(t, w)
	if body["commit_sha"] != "abc123" || body["repository"] != "acme/widget" {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestDeploy_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{&failure.Error{Kind: failure.IncompatibleArchive, Message: "no plugin header", Checked: []string{"*.php containing \"Plugin Name:\""}}, http.StatusUnprocessableEntity},
		{failure.New(failure.Busy, "lock held"), http.StatusConflict},
		{failure.New(failure.AlreadyExists, "exists"), http.StatusConflict},
		{failure.New(failure.RateLimited, "slow down"), http.StatusTooManyRequests},
		{failure.New(failure.AuthRequired, "token needed"), http.StatusBadGateway},
		{failure.New(failure.NotFound, "no repo"), http.StatusNotFound},
	}
	for _, tt := range tests {
		kind := failure.KindOf(tt.err)
		t.Run(string(kind), func(t *testing.T) {
			s := newTestServer(t)
			s.dep.err = tt.err
			w := s.do("POST", "/api/deploy", `{"owner":"acme","name":"widget"}`, nil)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if got := errorKind(t, w); got != string(kind) {
				t.Errorf("kind = %q, want %q", got, kind)
			}
		})
	}
}

func TestRepositoryActions(t *testing.T) {
	s := newTestServer(t)
	rec, _ := s.repos.Create(tracked.CreateOpts{Owner: "acme", Name: "widget"})
	path := "/api/repositories/" + strconv.Itoa(int(rec.ID))
	s.dep.backups = []backup.Descriptor{{ID: "backup-2", Ref: "v1.0.0", CreatedAt: time.Unix(2, 0)}}

	w := s.do("POST", path+"/deploy", "", nil)
	if w.Code != http.StatusOK || decode(t, w)["backup_id"] != "backup-1" {
		t.Errorf("deploy by id = %d %s", w.Code, w.Body.String())
	}

	w = s.do("GET", path+"/backups", "", nil)
	backups := decode(t, w)["backups"].([]interface{})
	if len(backups) != 1 || backups[0].(map[string]interface{})["id"] != "backup-2" {
		t.Errorf("backups = %s", w.Body.String())
	}

	w = s.do("POST", path+"/rollback", `{"backup_id":"backup-2"}`, nil)
	if w.Code != http.StatusOK || decode(t, w)["ref"] != "v1.0.0" {
		t.Errorf("rollback = %d %s", w.Code, w.Body.String())
	}
	if len(s.dep.rollbacks) != 1 || s.dep.rollbacks[0] != "acme/widget#backup-2" {
		t.Errorf("rollbacks = %v", s.dep.rollbacks)
	}
	if w := s.do("POST", path+"/rollback", `{}`, nil); w.Code != http.StatusBadRequest {
		t.Errorf("rollback without id = %d, want 400", w.Code)
	}
	if w := s.do("GET", "/api/repositories/99/backups", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("backups of missing repo = %d, want 404", w.Code)
	}
}

func TestCheck(t *testing.T) {
	s := newTestServer(t)
	w := s.do("POST", "/api/check", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("check = %d", w.Code)
	}
	body := decode(t, w)
	if body["checked"] != float64(2) || body["deployed"] != float64(1) {
		t.Errorf("body = %v", body)
	}
	results := body["results"].([]interface{})
	if results[1].(map[string]interface{})["error"] == "" {
		t.Error("failed result lacks error text")
	}
}

func TestWebhookRoute(t *testing.T) {
	s := newTestServer(t)
	rec, _ := s.repos.Create(tracked.CreateOpts{Owner: "acme", Name: "widget", Ref: "main", AutoUpdate: true})
	body := `{"ref":"refs/heads/main","repository":{"full_name":"acme/widget"}}`
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(body))
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	w := s.do("POST", "/webhook", body, map[string]string{webhook.EventHeader: "push", webhook.SignatureHeader: sig})
	if w.Code != http.StatusOK || decode(t, w)["outcome"] != string(webhook.DeploymentTriggered) {
		t.Errorf("signed push = %d %s", w.Code, w.Body.String())
	}
	if len(s.dep.byID) != 1 || s.dep.byID[0] != rec.ID {
		t.Errorf("deploys = %v", s.dep.byID)
	}

	tampered := bytes.Replace([]byte(body), []byte("main"), []byte("evil"), 1)
	w = s.do("POST", "/webhook", string(tampered), map[string]string{webhook.EventHeader: "push", webhook.SignatureHeader: sig})
	if w.Code != http.StatusUnauthorized || decode(t, w)["outcome"] != string(webhook.Rejected) {
		t.Errorf("tampered push = %d %s", w.Code, w.Body.String())
	}
}
