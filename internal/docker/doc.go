// Package docker builds and lists the urlshield container images through
// the Docker Engine API.
//
// The repository carries two build recipes at its root:
//
//   - client.dockerfile: downloads the module dependencies, compiles
//     cmd/urlshield and runs `urlshield shell` with no further arguments.
//   - server.dockerfile: the same build, EXPOSE 8080 and an entrypoint of
//     `urlshield serve --port 8080`.
//
// ImageRecipe describes each recipe as data (Dockerfile, tag, exposed port,
// entrypoint). Validate checks a recipe against the files on disk and
// parses the Dockerfile to compare its EXPOSE port and ENTRYPOINT.
// BuildImage sends a tar build context filtered by the context's
// .dockerignore to the daemon and streams its progress; every image it
// builds is labelled so ListManagedImages can find it again (see label.go).
//
// Connect locates the daemon (DOCKER_HOST, then the platform sockets) and
// pings it before any of this runs.
//
// The package uses github.com/docker/docker/client with API version
// negotiation, and github.com/docker/docker/pkg/jsonmessage to render the
// build stream the way the docker CLI does.
package docker
