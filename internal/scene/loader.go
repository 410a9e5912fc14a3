package scene

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/vrsync/internal/grab"
	"github.com/cory-johannsen/vrsync/internal/spatial"
)

// yamlSceneFile is the top-level YAML structure for scene files.
type yamlSceneFile struct {
	Scene yamlScene `yaml:"scene"`
}

type yamlScene struct {
	ID         string          `yaml:"id"`
	Grabbables []yamlGrabbable `yaml:"grabbables"`
	Animators  []yamlAnimator  `yaml:"animators"`
}

type yamlGrabbable struct {
	ID            string    `yaml:"id"`
	Rigidbody     bool      `yaml:"rigidbody"`
	Gravity       bool      `yaml:"gravity"`
	PositionFixed bool      `yaml:"position_fixed"`
	RotationFixed bool      `yaml:"rotation_fixed"`
	Scaling       bool      `yaml:"scaling"`
	ScalingFactor float64   `yaml:"scaling_factor"`
	Position      []float64 `yaml:"position"`
	Rotation      []float64 `yaml:"rotation"`
	Scale         []float64 `yaml:"scale"`
}

type yamlAnimator struct {
	ID string `yaml:"id"`
}

// LoadFromFile reads and validates a single scene YAML file.
//
// Precondition: path must point to a YAML scene file.
// Postcondition: Returns a validated Definition or a non-nil error.
func LoadFromFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scene file %s: %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses and validates a scene from YAML bytes.
//
// Postcondition: Returns a validated Definition or a non-nil error.
func LoadFromBytes(data []byte) (*Definition, error) {
	var file yamlSceneFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing scene YAML: %w", err)
	}

	def, err := convertYAMLScene(file.Scene)
	if err != nil {
		return nil, fmt.Errorf("converting scene: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("validating scene: %w", err)
	}
	return def, nil
}

// LoadFromDir loads every YAML file in dir as a scene, keyed by scene id.
//
// Postcondition: Returns at least one scene or a non-nil error.
func LoadFromDir(dir string) (map[string]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading scene directory %s: %w", dir, err)
	}

	scenes := make(map[string]*Definition)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		def, err := LoadFromFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("loading scene from %s: %w", name, err)
		}
		if _, dup := scenes[def.ID]; dup {
			return nil, fmt.Errorf("loading scene from %s: duplicate scene id %q", name, def.ID)
		}
		scenes[def.ID] = def
	}

	if len(scenes) == 0 {
		return nil, fmt.Errorf("no scene files found in %s", dir)
	}
	return scenes, nil
}

// convertYAMLScene converts the parsed YAML structures into domain types.
// Omitted vectors default to the origin, identity rotation and unit scale.
func convertYAMLScene(ys yamlScene) (*Definition, error) {
	def := &Definition{ID: ys.ID}
	for _, yg := range ys.Grabbables {
		pose := spatial.Identity()
		if yg.Position != nil {
			if len(yg.Position) != 3 {
				return nil, fmt.Errorf("grabbable %q: position needs 3 components, got %d", yg.ID, len(yg.Position))
			}
			pose.Position = spatial.Vec3{yg.Position[0], yg.Position[1], yg.Position[2]}
		}
		if yg.Rotation != nil {
			if len(yg.Rotation) != 4 {
				return nil, fmt.Errorf("grabbable %q: rotation needs 4 components (x y z w), got %d", yg.ID, len(yg.Rotation))
			}
			pose.Rotation = spatial.Quat{W: yg.Rotation[3], V: spatial.Vec3{yg.Rotation[0], yg.Rotation[1], yg.Rotation[2]}}
			if pose.Rotation.Len() >= spatial.Epsilon {
				pose.Rotation = pose.Rotation.Normalize()
			}
		}
		if yg.Scale != nil {
			if len(yg.Scale) != 3 {
				return nil, fmt.Errorf("grabbable %q: scale needs 3 components, got %d", yg.ID, len(yg.Scale))
			}
			pose.Scale = spatial.Vec3{yg.Scale[0], yg.Scale[1], yg.Scale[2]}
		}

		def.Grabbables = append(def.Grabbables, GrabbableDef{
			ID: yg.ID,
			Config: grab.Config{
				PhysicsDriven:      yg.Rigidbody,
				GravityEnabled:     yg.Gravity,
				PositionFixed:      yg.PositionFixed,
				RotationFixed:      yg.RotationFixed,
				TwoHandScaling:     yg.Scaling,
				ScalingSensitivity: yg.ScalingFactor,
			},
			Pose: pose,
		})
	}
	for _, ya := range ys.Animators {
		def.Animators = append(def.Animators, ya.ID)
	}
	return def, nil
}
