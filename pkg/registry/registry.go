package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/visiongrade/gradecast/pkg/logx"
	"github.com/visiongrade/gradecast/pkg/svcerr"
	"github.com/visiongrade/gradecast/pkg/validate"
)

// Model key conventions. Production keys identify artifacts from the
// large-scale offline training pipeline and outrank per-subject models.
const (
	KeyProductionBest   = "production_best"
	KeyGeneral          = "general"
	productionKeyPrefix = "production_"
)

// SubjectKey returns the registry key for a subject-specific model
func SubjectKey(subjectID int) string {
	return fmt.Sprintf("subject_%d", subjectID)
}

// Registry is the process-wide model cache. Reads are concurrent; loading or
// replacing a model is the only mutation and is serialized, so a reader never
// observes a partially-constructed entry. Artifacts themselves are immutable.
type Registry struct {
	mu      sync.RWMutex
	dir     string
	version string
	models  map[string]*Artifact
	logger  *logx.Logger
}

// New creates a registry over a model storage directory
func New(dir string, logger *logx.Logger) *Registry {
	return &Registry{
		dir:     dir,
		version: DefaultModelVersion,
		models:  make(map[string]*Artifact),
		logger:  logger.WithComponent("registry"),
	}
}

// Version returns the active model version tag
func (r *Registry) Version() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// healthSample builds a plausible mid-range input for the consistency check
func healthSample(a *Artifact) []float64 {
	sample := make([]float64, len(a.FeatureColumns))
	for i := range sample {
		sample[i] = 50
	}
	return sample
}

// register validates health and inserts under a write lock
func (r *Registry) register(key string, a *Artifact) error {
	ok, findings := validate.ModelHealth(a.Predict, len(a.FeatureColumns), healthSample(a))
	for _, f := range findings {
		if strings.HasPrefix(f, "warning: ") {
			r.logger.Warn("model health finding", "key", key, "finding", f)
		}
	}
	if !ok {
		return svcerr.Model("model failed health validation", map[string]interface{}{
			"key":    key,
			"issues": findings,
		})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[key] = a
	if a.IsBest && a.ModelVersion != "" {
		r.version = a.ModelVersion
	}
	return nil
}

// Register validates and caches a freshly trained artifact under key
func (r *Registry) Register(key string, a *Artifact) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if err := r.register(key, a); err != nil {
		return err
	}
	r.logger.Info("model registered", "key", key, "model", a.ModelName, "version", a.ModelVersion)
	return nil
}

// SaveAndRegister persists an artifact to the storage directory and caches it.
// Returns the artifact path.
func (r *Registry) SaveAndRegister(key string, a *Artifact) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}
	path := filepath.Join(r.dir, ArtifactFilename(key, a.ModelVersion))
	if err := WriteArtifact(path, a); err != nil {
		return "", err
	}
	if err := r.register(key, a); err != nil {
		return "", err
	}
	r.logger.Info("model saved", "key", key, "path", path)
	return path, nil
}

// LoadFile loads one artifact file into the cache and returns its key.
// Malformed artifacts raise a ModelError and are never registered.
func (r *Registry) LoadFile(filename string) (string, error) {
	a, err := ReadArtifact(filepath.Join(r.dir, filename))
	if err != nil {
		return "", err
	}
	key := keyForFilename(filename, a)
	if err := r.register(key, a); err != nil {
		return "", err
	}
	r.logger.Info("model loaded", "key", key, "file", filename)
	return key, nil
}

// LoadBest loads the production best alias, if present
func (r *Registry) LoadBest() (string, error) {
	a, err := ReadArtifact(filepath.Join(r.dir, BestAliasFile))
	if err != nil {
		return "", err
	}
	a.IsBest = true
	if err := r.register(KeyProductionBest, a); err != nil {
		return "", err
	}
	r.logger.Info("production best model loaded",
		"model", a.ModelName, "version", a.ModelVersion, "mae", a.Metrics.MAE)
	return KeyProductionBest, nil
}

// LoadDir scans the storage directory: the best alias first, then production
// artifacts, then versioned per-key artifacts. Unreadable files are skipped
// with a warning so one corrupt artifact cannot take the service down.
func (r *Registry) LoadDir() int {
	loaded := 0
	if _, err := r.LoadBest(); err == nil {
		loaded++
	} else if !os.IsNotExist(unwrapCause(err)) {
		r.logger.Warn("best production model unavailable", "error", err.Error())
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		r.logger.Warn("model directory not readable", "dir", r.dir, "error", err.Error())
		return loaded
	}

	version := r.Version()
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == BestAliasFile || !strings.HasSuffix(name, ".json") {
			continue
		}
		isProduction := strings.HasPrefix(name, productionKeyPrefix)
		if !isProduction && !strings.Contains(name, "_model_"+version) {
			continue // stale version
		}
		if _, err := r.LoadFile(name); err != nil {
			r.logger.Warn("skipping model file", "file", name, "error", err.Error())
			continue
		}
		loaded++
	}
	return loaded
}

// keyForFilename derives the registry key from an artifact filename
func keyForFilename(filename string, a *Artifact) string {
	if filename == BestAliasFile {
		return KeyProductionBest
	}
	if strings.HasPrefix(filename, productionKeyPrefix) {
		return productionKeyPrefix + a.ModelName
	}
	if i := strings.Index(filename, "_model_"); i > 0 {
		return filename[:i]
	}
	return strings.TrimSuffix(filename, ".json")
}

// Get returns a cached artifact
func (r *Registry) Get(key string) (*Artifact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.models[key]
	return a, ok
}

// Keys returns the cached model keys, sorted
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.models))
	for k := range r.models {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Resolve picks the model serving a prediction. Priority: production best,
// any other production model, the subject-specific model, the general model.
// Subject/general lookups fall through to a lazy disk load before giving up.
func (r *Registry) Resolve(subjectID *int) (string, error) {
	r.mu.RLock()
	if _, ok := r.models[KeyProductionBest]; ok {
		r.mu.RUnlock()
		return KeyProductionBest, nil
	}
	var productionKeys []string
	for k := range r.models {
		if strings.HasPrefix(k, productionKeyPrefix) {
			productionKeys = append(productionKeys, k)
		}
	}
	r.mu.RUnlock()

	if len(productionKeys) > 0 {
		sort.Strings(productionKeys)
		return productionKeys[0], nil
	}

	candidates := []string{KeyGeneral}
	if subjectID != nil {
		candidates = []string{SubjectKey(*subjectID), KeyGeneral}
	}
	for _, key := range candidates {
		if _, ok := r.Get(key); ok {
			return key, nil
		}
		if _, err := r.LoadFile(ArtifactFilename(key, r.Version())); err == nil {
			return key, nil
		}
	}

	return "", svcerr.Model("no trained model found, train a model first", map[string]interface{}{
		"tried": candidates,
	})
}

// PredictWith scores features with a cached model
func (r *Registry) PredictWith(key string, features []float64) (float64, error) {
	a, ok := r.Get(key)
	if !ok {
		return 0, svcerr.Model(fmt.Sprintf("model %q is not loaded", key), nil)
	}
	return a.Predict(features)
}

// FeatureColumns returns the schema the given model was trained with
func (r *Registry) FeatureColumns(key string) ([]string, error) {
	a, ok := r.Get(key)
	if !ok {
		return nil, svcerr.Model(fmt.Sprintf("model %q is not loaded", key), nil)
	}
	return a.FeatureColumns, nil
}

// Info summarizes the registry state for the model info endpoint
func (r *Registry) Info() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.models))
	for k := range r.models {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	perModel := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		a := r.models[k]
		perModel[k] = map[string]interface{}{
			"model_name":      a.ModelName,
			"model_version":   a.ModelVersion,
			"feature_columns": a.FeatureColumns,
			"metrics":         a.Metrics,
			"trained_at":      a.TrainedAt,
		}
	}

	return map[string]interface{}{
		"model_version": r.version,
		"loaded_models": keys,
		"model_dir":     r.dir,
		"models":        perModel,
	}
}

func unwrapCause(err error) error {
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return err
		}
		next := u.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}
