package gate

import (
	_ "embed"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/clubos"
)

//go:embed demo_roles.yaml
var demoRolesYAML []byte

// Directory is a Gate backed by a static user-to-role YAML file. Like the
// device map, it loads once at startup; changing roles means restarting.
type Directory struct {
	roles map[string]Role
}

type directoryFile struct {
	Users map[string]Role `yaml:"users"`
}

// LoadDirectory reads a role directory from path. An empty path loads the
// embedded demo directory.
func LoadDirectory(path string) (*Directory, error) {
	data := demoRolesYAML
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read role directory: %w", err)
		}
	}
	return ParseDirectory(data)
}

// ParseDirectory parses and validates a YAML role directory.
func ParseDirectory(data []byte) (*Directory, error) {
	var file directoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse role directory: %w", err)
	}
	if len(file.Users) == 0 {
		return nil, fmt.Errorf("role directory has no users")
	}
	for userID, role := range file.Users {
		if !clubos.IsValidUserID(userID) {
			return nil, fmt.Errorf("role directory: invalid user ID %q", userID)
		}
		if !role.Valid() {
			return nil, fmt.Errorf("role directory: user %q has unknown role %q", userID, role)
		}
	}
	return &Directory{roles: file.Users}, nil
}

// Authorize reports whether userID holds at least the minimum role.
func (d *Directory) Authorize(userID string, minimum Role) bool {
	role, ok := d.roles[userID]
	if !ok {
		log.Printf("[WARN] Authorization denied: unknown user %q", userID)
		return false
	}
	if !role.Meets(minimum) {
		log.Printf("[INFO] Authorization denied: user %q is %s, needs %s", userID, role, minimum)
		return false
	}
	return true
}
