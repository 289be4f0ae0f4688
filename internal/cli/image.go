package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/urlshield/internal/docker"
	"github.com/shinji-kodama/urlshield/internal/model"
)

// NewImageCommand creates the "image" command group.
func NewImageCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Build and list the client and server container images",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(newImageBuildCommand())
	cmd.AddCommand(newImageListCommand())
	return cmd
}

// imageBuildFlags holds the flag values for "image build".
type imageBuildFlags struct {
	contextDir string
	tag        string
	version    string
}

func newImageBuildCommand() *cobra.Command {
	flags := &imageBuildFlags{}

	cmd := &cobra.Command{
		Use:   "build [client|server|all]",
		Short: "Build container images with the local Docker daemon",
		Long: `Build the client image, the server image, or both (the default).

The build context is the repository root. Before anything is sent to the
daemon each recipe is checked: its Dockerfile, go.mod and the
cmd/urlshield entrypoint must exist, and the Dockerfile must declare the
expected EXPOSE port and ENTRYPOINT.

Examples:
  urlshield image build
  urlshield image build server --tag registry.local/urlshield-server:1.0`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"client", "server", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "all"
			if len(args) == 1 {
				target = args[0]
			}
			return runImageBuild(cmd, flags, target)
		},
	}

	cmd.Flags().StringVar(&flags.contextDir, "context", ".", "Build context (repository root)")
	cmd.Flags().StringVarP(&flags.tag, "tag", "t", "", "Image tag (only with a single role; default urlshield-<role>:latest)")
	cmd.Flags().StringVar(&flags.version, "version", "", "Version label and VERSION build arg (default: this binary's version)")

	return cmd
}

// rolesFor expands a build target into roles.
func rolesFor(target string) ([]docker.Role, error) {
	if strings.EqualFold(target, "all") {
		return docker.Roles, nil
	}
	role, err := docker.ParseRole(target)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitInvalidInput, "invalid image target", err)
	}
	return []docker.Role{role}, nil
}

type imageBuildResultJSON struct {
	Role    docker.Role `json:"role"`
	Tag     string      `json:"tag"`
	ImageID string      `json:"imageId"`
}

func runImageBuild(cmd *cobra.Command, flags *imageBuildFlags, target string) error {
	roles, err := rolesFor(target)
	if err != nil {
		return err
	}
	if flags.tag != "" && len(roles) > 1 {
		return model.NewCLIError(model.ExitInvalidInput, "--tag needs a single role (client or server)")
	}
	version := flags.version
	if version == "" {
		version = Version
	}
	contextDir, err := filepath.Abs(flags.contextDir)
	if err != nil {
		return model.WrapCLIError(model.ExitInvalidInput, "invalid build context", err)
	}

	// Validate every recipe before connecting so a bad checkout fails fast
	// even without Docker.
	recipes := make([]docker.ImageRecipe, 0, len(roles))
	for _, role := range roles {
		r := docker.Recipe(role, flags.tag)
		if err := r.Validate(contextDir); err != nil {
			return err
		}
		recipes = append(recipes, r)
	}

	dc, err := docker.Connect(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = dc.Close() }()
	VerboseLog("Connected to Docker daemon at %s", dc.Host())

	// Build progress goes to stderr so stdout stays machine-readable.
	var progress io.Writer = cmd.ErrOrStderr()
	results := make([]imageBuildResultJSON, 0, len(recipes))
	for _, r := range recipes {
		VerboseLog("Building %s image from %s", r.Role, r.Dockerfile)
		id, err := docker.BuildImage(cmd.Context(), dc.Images(), contextDir, r, version, progress)
		if err != nil {
			return err
		}
		results = append(results, imageBuildResultJSON{Role: r.Role, Tag: r.Tag, ImageID: id})
	}

	w := cmd.OutOrStdout()
	if IsJSONOutput() {
		return printJSON(w, map[string]any{"images": results})
	}
	for _, res := range results {
		fmt.Fprintf(w, "Built %s image %s (%s)\n", res.Role, res.Tag, shortID(res.ImageID))
	}
	return nil
}

func newImageListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List images built by urlshield",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dc, err := docker.Connect(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = dc.Close() }()

			images, err := docker.ListManagedImages(cmd.Context(), dc.Images())
			if err != nil {
				return err
			}
			return printImageList(cmd.OutOrStdout(), images)
		},
	}
}

// printImageList outputs images as JSON or as a table:
//
//	ROLE     VERSION  IMAGE ID      SIZE     TAGS
//	client   v1.0.0   4f1e0c2b9a11  12.3MB   urlshield-client:latest
func printImageList(w io.Writer, images []docker.ImageInfo) error {
	if IsJSONOutput() {
		if images == nil {
			images = []docker.ImageInfo{}
		}
		return printJSON(w, map[string]any{"images": images})
	}

	if len(images) == 0 {
		_, err := fmt.Fprintln(w, "No urlshield images found.")
		return err
	}
	fmt.Fprintf(w, "%-8s %-10s %-14s %-9s %s\n", "ROLE", "VERSION", "IMAGE ID", "SIZE", "TAGS")
	for _, img := range images {
		tags := "-"
		if len(img.Tags) > 0 {
			tags = strings.Join(img.Tags, ",")
		}
		fmt.Fprintf(w, "%-8s %-10s %-14s %-9s %s\n", img.Role, img.Version, shortID(img.ID), FormatSize(img.Size), tags)
	}
	return nil
}

// shortID trims the digest algorithm and shortens an image ID to 12
// characters, as the docker CLI does.
func shortID(id string) string {
	id = strings.TrimPrefix(id, "sha256:")
	if len(id) > 12 {
		return id[:12]
	}
	if id == "" {
		return "-"
	}
	return id
}

// FormatSize renders a byte count with a decimal unit suffix.
func FormatSize(bytes int64) string {
	const unit = 1000
	if bytes < unit {
		return fmt.Sprintf("%dB", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(bytes)/float64(div), "kMGTPE"[exp])
}
