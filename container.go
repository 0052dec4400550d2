package ddotel

import (
	"os"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// Container platforms understood by ContainerID.
const (
	PlatformECS = "ecs"
	PlatformGKE = "gke"
)

// ecsMetadataTimeout bounds the one-off metadata lookup.
const ecsMetadataTimeout = 2 * time.Second

var (
	ecsContainerID = sync.OnceValue(func() string { return lookupECSContainerID(os.Getenv("ECS_CONTAINER_METADATA_URI_V4")) })
	gkePodUID      = sync.OnceValue(lookupGKEPodUID)
)

// ContainerID returns an identifier of the container the process runs in,
// or "" when it is unknown.
//
// The value is looked up once per platform and cached for the life of the
// process. Because it only annotates telemetry, every failure degrades to ""
// and nothing is retried.
func ContainerID(platform string) string {
	switch platform {
	case PlatformECS:
		return ecsContainerID()
	case PlatformGKE:
		return gkePodUID()
	default:
		return ""
	}
}

type ecsContainerMetadata struct {
	DockerID string `json:"DockerId"`
}

// lookupECSContainerID reads DockerId from the ECS task metadata endpoint v4.
func lookupECSContainerID(metadataURI string) string {
	if metadataURI == "" {
		return ""
	}

	var metadata ecsContainerMetadata
	resp, err := resty.New().
		SetTimeout(ecsMetadataTimeout).
		R().
		SetResult(&metadata).
		Get(metadataURI)
	if err != nil || resp.IsError() {
		return ""
	}
	return metadata.DockerID
}

// lookupGKEPodUID returns the pod UID exposed through the Downward API as
// POD_UID. The container id itself is not available there, so the pod UID
// is the closest identifier; the pod name from HOSTNAME is the fallback.
func lookupGKEPodUID() string {
	if uid := os.Getenv("POD_UID"); uid != "" {
		return uid
	}
	return os.Getenv("HOSTNAME")
}
