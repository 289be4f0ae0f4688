package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/jsonmessage"
	"golang.org/x/term"

	"github.com/shinji-kodama/urlshield/internal/model"
)

// ImageAPI is the subset of the Docker Engine API used to build and list
// images. *client.Client satisfies it; tests substitute a fake.
type ImageAPI interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error)
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
}

// ImageInfo is a urlshield image as reported by `urlshield image list`.
type ImageInfo struct {
	ID      string    `json:"id"`
	Tags    []string  `json:"tags"`
	Role    Role      `json:"role"`
	Version string    `json:"version"`
	Size    int64     `json:"size"`
	Created time.Time `json:"created"`
}

// TarContext archives contextDir as a build context. Only regular files and
// directories are included. Paths excluded by the context's .dockerignore
// are left out, except the names in keep, which the daemon always needs
// (the Dockerfile and the .dockerignore itself).
func TarContext(contextDir string, keep ...string) (*bytes.Buffer, error) {
	rules, err := readDockerignore(contextDir)
	if err != nil {
		return nil, err
	}
	kept := make(map[string]bool, len(keep))
	for _, k := range keep {
		kept[path.Clean(filepath.ToSlash(k))] = true
	}
	skipDirs := !rules.hasNegation()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	err = filepath.WalkDir(contextDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(contextDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if !kept[rel] && rules.excluded(rel) {
			if d.IsDir() && skipDirs && !keepsBelow(kept, rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if d.IsDir() {
			hdr.Name += "/"
		}
		// Stable headers keep the daemon's layer cache warm across builds.
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "", ""
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to archive build context %s: %w", contextDir, err)
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// keepsBelow reports whether a kept path lies inside dir.
func keepsBelow(kept map[string]bool, dir string) bool {
	for k := range kept {
		if strings.HasPrefix(k, dir+"/") {
			return true
		}
	}
	return false
}

// BuildImage validates recipe against contextDir, sends the context to the
// daemon and streams build output to out. It returns the ID of the built
// image. A daemon-side build failure is a model.CLIError with
// ExitGeneralError.
func BuildImage(ctx context.Context, api ImageAPI, contextDir string, recipe ImageRecipe, version string, out io.Writer) (string, error) {
	if err := recipe.Validate(contextDir); err != nil {
		return "", err
	}

	buildCtx, err := TarContext(contextDir, recipe.Dockerfile, DockerignoreFile)
	if err != nil {
		return "", err
	}

	versionArg := version
	if versionArg == "" {
		versionArg = "dev"
	}
	resp, err := api.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:        []string{recipe.Tag},
		Dockerfile:  recipe.Dockerfile,
		Remove:      true,
		ForceRemove: true,
		Labels:      BuildLabels(recipe.Role, version),
		BuildArgs:   map[string]*string{"VERSION": &versionArg},
	})
	if err != nil {
		return "", model.WrapCLIError(
			model.ExitGeneralError,
			fmt.Sprintf("failed to start build of %s image", recipe.Role),
			err,
		)
	}
	defer resp.Body.Close()

	if out == nil {
		out = io.Discard
	}
	var fd uintptr
	isTerminal := false
	if f, ok := out.(*os.File); ok {
		fd = f.Fd()
		isTerminal = term.IsTerminal(int(fd))
	}

	var imageID string
	err = jsonmessage.DisplayJSONMessagesStream(resp.Body, out, fd, isTerminal, func(msg jsonmessage.JSONMessage) {
		var aux build.Result
		if json.Unmarshal(*msg.Aux, &aux) == nil && aux.ID != "" {
			imageID = aux.ID
		}
	})
	if err != nil {
		return "", model.WrapCLIError(
			model.ExitGeneralError,
			fmt.Sprintf("build of %s image failed", recipe.Role),
			err,
		)
	}
	return imageID, nil
}

// ListManagedImages returns every image carrying the urlshield labels,
// sorted by role and then newest first. Images whose labels do not parse
// are skipped.
func ListManagedImages(ctx context.Context, api ImageAPI) ([]ImageInfo, error) {
	summaries, err := api.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("label", FilterLabel())),
	})
	if err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError, "failed to list images", err)
	}

	var images []ImageInfo
	for _, s := range summaries {
		role, version, err := ParseLabels(s.Labels)
		if err != nil {
			continue
		}
		images = append(images, ImageInfo{
			ID:      s.ID,
			Tags:    s.RepoTags,
			Role:    role,
			Version: version,
			Size:    s.Size,
			Created: time.Unix(s.Created, 0),
		})
	}

	sort.SliceStable(images, func(i, j int) bool {
		if images[i].Role != images[j].Role {
			return images[i].Role < images[j].Role
		}
		return images[i].Created.After(images[j].Created)
	})
	return images, nil
}
