// Package scene implements the Scene Repository: parsing, total up-front
// validation, and immutable read-only lookup of the scene graph that
// drives the Scripted Scene Machine.
package scene

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"orchestrator/pkg/storytypes"

	"gopkg.in/yaml.v3"
)

// sceneIDPattern is the required shape of every scene id.
var sceneIDPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// builtinCommands are handled by the Scripted Scene Machine itself and
// never require a transition entry.
var builtinCommands = map[string]bool{
	"look": true, "inventory": true, "journal": true, "history": true,
	"recall": true, "help": true, "status": true, "save": true, "load": true,
	"tutorial": true, "quit": true,
}

// envelope is the v2 on-disk scene file shape. A v1 file is a bare
// map[string]storytypes.Scene with no envelope fields.
type envelope struct {
	SchemaVersion int                      `json:"schema_version" yaml:"schema_version"`
	StartScene    string                   `json:"start_scene,omitempty" yaml:"start_scene,omitempty"`
	GeneratedAt   string                   `json:"generated_at,omitempty" yaml:"generated_at,omitempty"`
	VersionID     string                   `json:"version_id,omitempty" yaml:"version_id,omitempty"`
	Checksum      string                   `json:"checksum,omitempty" yaml:"checksum,omitempty"`
	Scenes        map[string]storytypes.Scene `json:"scenes" yaml:"scenes"`
}

// Options configures how a Repository parses and validates scene files.
type Options struct {
	// StrictSchema rejects unknown fields on scenes/transitions/overrides.
	// Lenient mode (the default) preserves and ignores them.
	StrictSchema bool
}

// Repository is an immutable, read-only scene graph. A new Repository is
// always fully valid: construction fails with every violation collected,
// never a partial load.
type Repository struct {
	scenes     map[string]storytypes.Scene
	startScene string
	sourcePath string
	modTime    time.Time
}

// Load parses and validates the scene document at path (YAML if the
// extension is .yaml/.yml, JSON otherwise), accepting both the legacy v1
// flat map and the v2 envelope, and returns a fully validated Repository or
// a SceneValidationError listing every violation found.
func Load(path string, opts Options) (*Repository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scene: read %s: %w", path, err)
	}
	repo, err := Parse(data, hasYAMLExt(path), opts)
	if err != nil {
		return nil, err
	}
	if info, statErr := os.Stat(path); statErr == nil {
		repo.modTime = info.ModTime()
	}
	repo.sourcePath = path
	return repo, nil
}

// ReloadIfChanged rebuilds the repository from its source file if the
// file's modification time has changed since the last load, returning the
// new Repository and true, or the receiver unchanged and false if nothing
// changed. The swap is the caller's responsibility: a running turn keeps
// the Repository value it started with, since Repository is immutable.
func (r *Repository) ReloadIfChanged(opts Options) (*Repository, bool, error) {
	if r.sourcePath == "" {
		return r, false, nil
	}
	info, err := os.Stat(r.sourcePath)
	if err != nil {
		return nil, false, fmt.Errorf("scene: stat %s: %w", r.sourcePath, err)
	}
	if !info.ModTime().After(r.modTime) {
		return r, false, nil
	}
	next, err := Load(r.sourcePath, opts)
	if err != nil {
		return nil, false, err
	}
	return next, true, nil
}

// Parse decodes either schema variant (distinguished by the presence of a
// top-level "schema_version" key) from data and validates the result.
func Parse(data []byte, isYAML bool, opts Options) (*Repository, error) {
	env, err := decode(data, isYAML, opts.StrictSchema)
	if err != nil {
		return nil, &SceneValidationError{Issues: []Issue{{Path: "<document>", Message: err.Error()}}}
	}
	for id, s := range env.Scenes {
		s.ID = id
		env.Scenes[id] = s
	}

	issues := validate(env)
	if len(issues) > 0 {
		return nil, &SceneValidationError{Issues: issues}
	}

	start := env.StartScene
	if start == "" {
		start = firstSceneID(env.Scenes)
	}

	return &Repository{scenes: env.Scenes, startScene: start}, nil
}

// decode normalises a v1 flat document or a v2 envelope into a common
// envelope shape. When strict is true, unknown fields anywhere in the
// document are a decode error; in lenient mode they are silently ignored.
func decode(data []byte, isYAML bool, strict bool) (envelope, error) {
	isV2, err := looksLikeEnvelope(data, isYAML)
	if err != nil {
		return envelope{}, fmt.Errorf("invalid document: %w", err)
	}

	var env envelope
	if isV2 {
		if err := unmarshalStrict(data, &env, isYAML, strict); err != nil {
			return envelope{}, fmt.Errorf("invalid v2 envelope: %w", err)
		}
		return env, nil
	}

	var flat map[string]storytypes.Scene
	if err := unmarshalStrict(data, &flat, isYAML, strict); err != nil {
		return envelope{}, fmt.Errorf("invalid v1 document: %w", err)
	}
	return envelope{SchemaVersion: 1, Scenes: flat}, nil
}

func looksLikeEnvelope(data []byte, isYAML bool) (bool, error) {
	var probe map[string]any
	var err error
	if isYAML {
		err = yaml.Unmarshal(data, &probe)
	} else {
		err = json.Unmarshal(data, &probe)
	}
	if err != nil {
		return false, err
	}
	_, ok := probe["schema_version"]
	return ok, nil
}

func unmarshalStrict(data []byte, v any, isYAML, strict bool) error {
	if isYAML {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(strict)
		return dec.Decode(v)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if strict {
		dec.DisallowUnknownFields()
	}
	return dec.Decode(v)
}

func hasYAMLExt(path string) bool {
	return strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")
}

func firstSceneID(scenes map[string]storytypes.Scene) string {
	ids := make([]string, 0, len(scenes))
	for id := range scenes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// Get returns the scene with the given id, or false if none exists.
func (r *Repository) Get(id string) (storytypes.Scene, bool) {
	s, ok := r.scenes[id]
	return s, ok
}

// Scenes returns every scene in the repository, in a stable id-sorted
// order.
func (r *Repository) Scenes() []storytypes.Scene {
	ids := make([]string, 0, len(r.scenes))
	for id := range r.scenes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]storytypes.Scene, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.scenes[id])
	}
	return out
}

// StartScene returns the repository's configured (or inferred) starting
// scene id.
func (r *Repository) StartScene() string {
	return r.startScene
}

// Has reports whether id names a known scene, used to validate WorldState
// locations on restore and on transition.
func (r *Repository) Has(id string) bool {
	_, ok := r.scenes[id]
	return ok
}

// IsBuiltin reports whether command names a built-in command the engine
// handles itself.
func IsBuiltin(command string) bool {
	return builtinCommands[command]
}

// ValidSceneID reports whether id matches the required scene-id shape.
func ValidSceneID(id string) bool {
	return sceneIDPattern.MatchString(id)
}
