// Package storage runs the databases of the SQL members in docker containers
// for tests.
package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
)

// DatastoreTestContainer is a running database for one SQL member engine.
type DatastoreTestContainer interface {
	// GetConnectionURI returns the URI of the database inside the container in
	// the form the engine's member expects.
	GetConnectionURI(includeCredentials bool) string

	GetUsername() string
	GetPassword() string
}

// RunDatastoreTestContainer starts a database for engine and waits until it
// answers. The container is removed once the test has finished. Short tests are
// skipped.
func RunDatastoreTestContainer(t testing.TB, engine string) DatastoreTestContainer {
	if testing.Short() {
		t.Skipf("%s container tests do not run in short mode", engine)
	}
	switch engine {
	case "mysql":
		return NewMySQLTestContainer().RunMySQLTestContainer(t)
	case "postgres":
		return NewPostgresTestContainer().RunPostgresTestContainer(t)
	default:
		t.Fatalf("'%s' engine is not supported by RunDatastoreTestContainer", engine)
		return nil
	}
}

// containerSpec is what the engines differ in.
type containerSpec struct {
	image string
	env   []string
	port  nat.Port
}

// runContainer starts spec and returns the host address of its port.
func runContainer(t testing.TB, spec containerSpec) string {
	dockerClient, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		dockerClient.Close()
	})

	pullImage(t, dockerClient, spec.image)

	containerCfg := container.Config{
		Env:          spec.env,
		ExposedPorts: nat.PortSet{spec.port: {}},
		Image:        spec.image,
	}
	hostCfg := container.HostConfig{
		AutoRemove:      true,
		PublishAllPorts: true,
	}

	name := strings.SplitN(spec.image, ":", 2)[0] + "-" + ulid.Make().String()

	cont, err := dockerClient.ContainerCreate(context.Background(), &containerCfg, &hostCfg, nil, nil, name)
	require.NoError(t, err, "failed to create %s docker container", spec.image)

	t.Cleanup(func() {
		t.Logf("stopping container %s", name)
		timeoutSec := 5

		err := dockerClient.ContainerStop(context.Background(), cont.ID, container.StopOptions{Timeout: &timeoutSec})
		if err != nil && !errdefs.IsNotFound(err) {
			t.Logf("failed to stop %s container: %v", spec.image, err)
		}

		t.Logf("stopped container %s", name)
	})

	err = dockerClient.ContainerStart(context.Background(), cont.ID, container.StartOptions{})
	require.NoError(t, err, "failed to start %s container", spec.image)

	containerJSON, err := dockerClient.ContainerInspect(context.Background(), cont.ID)
	require.NoError(t, err)

	m, ok := containerJSON.NetworkSettings.Ports[spec.port]
	if !ok || len(m) == 0 {
		require.Fail(t, "failed to get host port mapping from "+spec.image+" container")
	}
	return "localhost:" + m[0].HostPort
}

func pullImage(t testing.TB, dockerClient *client.Client, ref string) {
	allImages, err := dockerClient.ImageList(context.Background(), image.ListOptions{
		All: true,
	})
	require.NoError(t, err)

	for _, img := range allImages {
		for _, tag := range img.RepoTags {
			if strings.Contains(tag, ref) {
				return
			}
		}
	}

	t.Logf("Pulling image %s", ref)
	reader, err := dockerClient.ImagePull(context.Background(), ref, image.PullOptions{})
	require.NoError(t, err)
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader) // the pull is done once its output is consumed
	require.NoError(t, err)
}
