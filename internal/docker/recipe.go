package docker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/shinji-kodama/urlshield/internal/model"
)

// Role names one of the two images.
type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
)

// Roles lists every role in build order.
var Roles = []Role{RoleClient, RoleServer}

// ParseRole converts a role name, case-insensitively.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleClient, RoleServer:
		return r, nil
	default:
		return "", fmt.Errorf("unknown image role %q (valid: client, server)", s)
	}
}

// Files every recipe needs in the build context: the dependency manifest
// and the entrypoint program.
const (
	DependencyManifest = "go.mod"
	EntrypointSource   = "cmd/urlshield/main.go"
)

// ImageRecipe describes how one image is built and what it runs.
type ImageRecipe struct {
	Role Role

	// Dockerfile is the recipe path relative to the build context root.
	Dockerfile string

	// Tag is the image reference applied after a successful build.
	Tag string

	// ExposedPort is the port the image declares with EXPOSE, or 0.
	ExposedPort int

	// Entrypoint is the exec-form ENTRYPOINT the Dockerfile must declare.
	Entrypoint []string
}

// DefaultRepository is the image repository used for tags.
const DefaultRepository = "urlshield"

// Recipe returns the recipe for role. tag defaults to
// DefaultRepository-<role>:latest when empty.
func Recipe(role Role, tag string) ImageRecipe {
	if tag == "" {
		tag = fmt.Sprintf("%s-%s:latest", DefaultRepository, role)
	}
	switch role {
	case RoleServer:
		return ImageRecipe{
			Role:        RoleServer,
			Dockerfile:  "server.dockerfile",
			Tag:         tag,
			ExposedPort: model.ImagePort,
			Entrypoint:  []string{"/usr/local/bin/urlshield", "serve", "--port", strconv.Itoa(model.ImagePort)},
		}
	default:
		return ImageRecipe{
			Role:       RoleClient,
			Dockerfile: "client.dockerfile",
			Tag:        tag,
			Entrypoint: []string{"/usr/local/bin/urlshield", "shell"},
		}
	}
}

// Dockerfile holds the instructions of a Dockerfile that Validate checks.
type Dockerfile struct {
	Exposed    []int
	Entrypoint []string
}

// ParseDockerfile reads the EXPOSE and ENTRYPOINT instructions of a
// Dockerfile. Line continuations are joined and comments skipped. Only the
// exec (JSON array) form of ENTRYPOINT is recognised; the last ENTRYPOINT
// wins, as in docker build.
func ParseDockerfile(path string) (*Dockerfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	df := &Dockerfile{}
	var pending strings.Builder
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasSuffix(line, `\`) {
			pending.WriteString(strings.TrimSuffix(line, `\`))
			pending.WriteByte(' ')
			continue
		}
		pending.WriteString(line)
		instr := pending.String()
		pending.Reset()

		keyword, args, _ := strings.Cut(instr, " ")
		args = strings.TrimSpace(args)
		switch strings.ToUpper(keyword) {
		case "EXPOSE":
			for _, field := range strings.Fields(args) {
				portStr, _, _ := strings.Cut(field, "/")
				p, err := strconv.Atoi(portStr)
				if err != nil {
					return nil, fmt.Errorf("%s: invalid EXPOSE port %q", path, field)
				}
				df.Exposed = append(df.Exposed, p)
			}
		case "ENTRYPOINT":
			var argv []string
			if err := json.Unmarshal([]byte(args), &argv); err != nil {
				return nil, fmt.Errorf("%s: ENTRYPOINT must use the exec form: %w", path, err)
			}
			df.Entrypoint = argv
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return df, nil
}

// Validate checks that contextDir can build r: the Dockerfile, the
// dependency manifest and the entrypoint program exist, and the Dockerfile
// declares the recipe's port and entrypoint. Failures are CLIErrors with
// ExitInvalidInput.
func (r ImageRecipe) Validate(contextDir string) error {
	for _, rel := range []string{r.Dockerfile, DependencyManifest, EntrypointSource} {
		if _, err := os.Stat(filepath.Join(contextDir, rel)); err != nil {
			return model.WrapCLIError(
				model.ExitInvalidInput,
				fmt.Sprintf("%s image: required file %s not found in %s", r.Role, rel, contextDir),
				err,
			)
		}
	}

	df, err := ParseDockerfile(filepath.Join(contextDir, r.Dockerfile))
	if err != nil {
		return model.WrapCLIError(model.ExitInvalidInput, fmt.Sprintf("%s image: invalid Dockerfile", r.Role), err)
	}

	if r.ExposedPort != 0 && !slices.Contains(df.Exposed, r.ExposedPort) {
		return model.NewCLIError(
			model.ExitInvalidInput,
			fmt.Sprintf("%s image: %s does not EXPOSE %d", r.Role, r.Dockerfile, r.ExposedPort),
		)
	}
	if !slices.Equal(df.Entrypoint, r.Entrypoint) {
		return model.NewCLIError(
			model.ExitInvalidInput,
			fmt.Sprintf("%s image: %s ENTRYPOINT is %q, expected %q", r.Role, r.Dockerfile, df.Entrypoint, r.Entrypoint),
		)
	}
	return nil
}
