// Package tracked persists TrackedRepository records. All mutations go
// through the primary key so concurrent writers never overwrite each
// other's columns.
package tracked

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/gitdeploy/internal/failure"
	"github.com/zulandar/gitdeploy/internal/models"
	"gorm.io/gorm"
)

// Store is the GORM-backed repository store.
type Store struct {
	db *gorm.DB
}

// NewStore returns a Store over db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CreateOpts holds parameters for registering a repository.
type CreateOpts struct {
	Owner      string
	Name       string
	Ref        string // defaults to main
	Kind       models.Kind
	TargetDir  string // defaults to Name
	AutoUpdate bool
}

func (o *CreateOpts) normalize() error {
	o.Owner = strings.TrimSpace(o.Owner)
	o.Name = strings.TrimSpace(o.Name)
	if o.Owner == "" || o.Name == "" {
		return failure.New(failure.InvalidArgument, "tracked: owner and name are required")
	}
	if o.Ref == "" {
		o.Ref = "main"
	}
	if o.Kind == "" {
		o.Kind = models.KindPlugin
	}
	if o.TargetDir == "" {
		o.TargetDir = o.Name
	}
	return nil
}

// Create inserts a new record. A duplicate (owner, name) is AlreadyExists.
func (s *Store) Create(opts CreateOpts) (*models.TrackedRepository, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if _, err := s.GetByName(opts.Owner, opts.Name); err == nil {
		return nil, failure.New(failure.AlreadyExists, "tracked: %s/%s already registered", opts.Owner, opts.Name)
	} else if !failure.Is(err, failure.NotFound) {
		return nil, err
	}

	repo := models.TrackedRepository{
		Owner:      opts.Owner,
		Name:       opts.Name,
		Ref:        opts.Ref,
		Kind:       opts.Kind,
		TargetDir:  opts.TargetDir,
		AutoUpdate: opts.AutoUpdate,
	}
	if err := s.db.Create(&repo).Error; err != nil {
		return nil, fmt.Errorf("tracked: create %s/%s: %w", opts.Owner, opts.Name, err)
	}
	return &repo, nil
}

// Get retrieves a record by ID.
func (s *Store) Get(id uint) (*models.TrackedRepository, error) {
	var repo models.TrackedRepository
	if err := s.db.First(&repo, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, failure.New(failure.NotFound, "tracked: not found: %d", id)
		}
		return nil, fmt.Errorf("tracked: get %d: %w", id, err)
	}
	return &repo, nil
}

// GetByName retrieves a record by (owner, name).
func (s *Store) GetByName(owner, name string) (*models.TrackedRepository, error) {
	var repo models.TrackedRepository
	if err := s.db.Where("owner = ? AND name = ?", owner, name).First(&repo).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, failure.New(failure.NotFound, "tracked: not found: %s/%s", owner, name)
		}
		return nil, fmt.Errorf("tracked: get %s/%s: %w", owner, name, err)
	}
	return &repo, nil
}

// List returns every record ordered by owner then name.
func (s *Store) List() ([]models.TrackedRepository, error) {
	var repos []models.TrackedRepository
	if err := s.db.Order("owner ASC, name ASC").Find(&repos).Error; err != nil {
		return nil, fmt.Errorf("tracked: list: %w", err)
	}
	return repos, nil
}

// ListAutoUpdate returns the records with auto-update enabled.
func (s *Store) ListAutoUpdate() ([]models.TrackedRepository, error) {
	var repos []models.TrackedRepository
	if err := s.db.Where("auto_update = ?", true).Order("id ASC").Find(&repos).Error; err != nil {
		return nil, fmt.Errorf("tracked: list auto-update: %w", err)
	}
	return repos, nil
}

// Update writes the given columns to the record with the given ID only.
func (s *Store) Update(id uint, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	if v, ok := fields["target_dir"].(string); ok && v == "" {
		return failure.New(failure.InvalidArgument, "tracked: target_dir cannot be empty")
	}
	result := s.db.Model(&models.TrackedRepository{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("tracked: update %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		// MySQL reports zero rows when the values did not change.
		var count int64
		if err := s.db.Model(&models.TrackedRepository{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("tracked: check %d: %w", id, err)
		}
		if count == 0 {
			return failure.New(failure.NotFound, "tracked: not found: %d", id)
		}
	}
	return nil
}

// SetAutoUpdate toggles auto-update independently of deployment state.
func (s *Store) SetAutoUpdate(id uint, enabled bool) error {
	return s.Update(id, map[string]interface{}{"auto_update": enabled})
}

// MarkChecked records that the change detector looked at the record.
func (s *Store) MarkChecked(id uint, at time.Time) error {
	return s.Update(id, map[string]interface{}{"last_checked_at": at})
}

// MarkDeployed records a successful deployment. An empty sha leaves the
// stored commit untouched.
func (s *Store) MarkDeployed(id uint, sha string, at time.Time) error {
	fields := map[string]interface{}{"last_deployed_at": at}
	if sha != "" {
		fields["last_deployed_commit_sha"] = sha
	}
	return s.Update(id, fields)
}

// RegisterOpts describes the state of a repository after a deployment.
type RegisterOpts struct {
	Owner     string
	Name      string
	Ref       string
	Kind      models.Kind
	TargetDir string
	// EnableAutoUpdate turns auto-update on; it never turns it off.
	EnableAutoUpdate bool
}

// Register creates the record for (owner, name) or updates its ref, kind
// and target directory, returning the stored record.
func (s *Store) Register(opts RegisterOpts) (*models.TrackedRepository, error) {
	existing, err := s.GetByName(opts.Owner, opts.Name)
	if failure.Is(err, failure.NotFound) {
		return s.Create(CreateOpts{
			Owner:      opts.Owner,
			Name:       opts.Name,
			Ref:        opts.Ref,
			Kind:       opts.Kind,
			TargetDir:  opts.TargetDir,
			AutoUpdate: opts.EnableAutoUpdate,
		})
	}
	if err != nil {
		return nil, err
	}

	fields := map[string]interface{}{}
	if opts.Ref != "" && opts.Ref != existing.Ref {
		fields["ref"] = opts.Ref
	}
	if opts.Kind != "" && opts.Kind != existing.Kind {
		fields["kind"] = opts.Kind
	}
	if opts.TargetDir != "" && opts.TargetDir != existing.TargetDir {
		fields["target_dir"] = opts.TargetDir
	}
	if opts.EnableAutoUpdate && !existing.AutoUpdate {
		fields["auto_update"] = true
	}
	if err := s.Update(existing.ID, fields); err != nil {
		return nil, err
	}
	return s.Get(existing.ID)
}

// Delete removes the record with the given ID.
func (s *Store) Delete(id uint) error {
	result := s.db.Delete(&models.TrackedRepository{}, id)
	if result.Error != nil {
		return fmt.Errorf("tracked: delete %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return failure.New(failure.NotFound, "tracked: not found: %d", id)
	}
	return nil
}
