package pipeline

import (
	"context"
	"path"

	"PromptToMovie-server/providers"
)

// Storage is the storage capability: it keeps the assets a run produces and returns
// the URL they can be read back from.
type Storage interface {
	// Mirror copies the asset at sourceURL under key.
	Mirror(ctx context.Context, sourceURL, key string) (string, error)
	// PutFile uploads a local file under key.
	PutFile(ctx context.Context, localPath, key string) (string, error)
}

// SimulatedStorage stores nothing. Mirrored assets keep their URL and uploads get a
// sim:// location.
type SimulatedStorage struct{}

func (SimulatedStorage) Mirror(ctx context.Context, sourceURL, key string) (string, error) {
	return sourceURL, nil
}

func (SimulatedStorage) PutFile(ctx context.Context, localPath, key string) (string, error) {
	return providers.SimScheme + path.Join("storage", key), nil
}

func movieKey(movieID string, elem ...string) string {
	return path.Join(append([]string{"movies", movieID}, elem...)...)
}
